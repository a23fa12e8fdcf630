package sqlbase

import (
	"testing"

	"github.com/dukex/automata/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMigrator(t *testing.T) {
	m, err := NewMigrator(nil, log.Discard(), []Migration{
		{Version: 3, Name: "third"},
		{Version: 1, Name: "first"},
		{Version: 2, Name: "second"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, m.Latest())
	assert.Equal(t, []string{"first", "second", "third"}, []string{m.migrations[0].Name, m.migrations[1].Name, m.migrations[2].Name})

	_, err = NewMigrator(nil, log.Discard(), []Migration{{Version: 1}, {Version: 1}})
	require.ErrorIs(t, err, ErrDuplicateVersion)

	empty, err := NewMigrator(nil, log.Discard(), nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Latest())
}

func TestPending(t *testing.T) {
	migrations := []Migration{{Version: 1}, {Version: 2}, {Version: 5}}

	assert.Len(t, Pending(migrations, 0), 3)
	assert.Equal(t, []Migration{{Version: 5}}, Pending(migrations, 2))
	assert.Empty(t, Pending(migrations, 5))
}
