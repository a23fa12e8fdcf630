package delay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/automata/pkg/actions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Parse(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		want    time.Duration
		wantErr bool
	}{
		{"duration string", Config{Duration: "5m"}, 5 * time.Minute, false},
		{"amount and unit", Config{Amount: 2, Unit: "Hours"}, 2 * time.Hour, false},
		{"fractional", Config{Amount: 1.5, Unit: "minutes"}, 90 * time.Second, false},
		{"days", Config{Amount: 3, Unit: "days"}, 72 * time.Hour, false},
		{"zero", Config{Duration: "0s"}, 0, false},
		{"empty", Config{}, 0, true},
		{"bad string", Config{Duration: "soon"}, 0, true},
		{"unknown unit", Config{Amount: 1, Unit: "fortnights"}, 0, true},
		{"negative", Config{Duration: "-1m"}, 0, true},
		{"too long", Config{Amount: 100, Unit: "days"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.config.Parse()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidDuration)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNode_Invoke(t *testing.T) {
	out, err := New().Invoke(t.Context(), json.RawMessage(`{"duration":"5m"}`), actions.Context{})
	require.NoError(t, err)

	assert.Equal(t, int64(300000), out[actions.DelayKey])
	assert.Equal(t, 5*time.Minute, actions.DelayOf(out))

	// outputs read back from storage carry float64
	assert.Equal(t, 2*time.Second, actions.DelayOf(map[string]any{actions.DelayKey: 2000.0}))
	assert.Zero(t, actions.DelayOf(map[string]any{}))

	_, err = New().Invoke(t.Context(), json.RawMessage(`{}`), actions.Context{})
	require.ErrorIs(t, err, ErrInvalidDuration)
}
