// Package delay provides the node that suspends a run. The handler only computes the duration;
// the executor schedules the resumption.
package delay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/models"
)

var ErrInvalidDuration = errors.New("invalid delay duration")

// MaxDuration bounds a single delay.
const MaxDuration = 90 * 24 * time.Hour

// Config accepts a Go duration string or an amount with a unit.
type Config struct {
	Duration string  `json:"duration,omitempty"`
	Amount   float64 `json:"amount,omitempty"`
	Unit     string  `json:"unit,omitempty"`
}

var units = map[string]time.Duration{
	"second":  time.Second,
	"seconds": time.Second,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
	"week":    7 * 24 * time.Hour,
	"weeks":   7 * 24 * time.Hour,
}

// Parse returns the configured duration.
func (c Config) Parse() (time.Duration, error) {
	var d time.Duration

	switch {
	case c.Duration != "":
		parsed, err := time.ParseDuration(c.Duration)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidDuration, err)
		}

		d = parsed
	case c.Unit != "":
		unit, ok := units[strings.ToLower(c.Unit)]
		if !ok {
			return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidDuration, c.Unit)
		}

		d = time.Duration(c.Amount * float64(unit))
	default:
		return 0, fmt.Errorf("%w: duration or amount/unit required", ErrInvalidDuration)
	}

	if d < 0 || d > MaxDuration {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidDuration, d)
	}

	return d, nil
}

type Node struct{}

func New() *Node {
	return &Node{}
}

func (n *Node) ID() string {
	return models.NodeTypeDelay
}

func (n *Node) Name() string {
	return "Delay"
}

func (n *Node) Description() string {
	return "Waits for the configured duration before continuing the run."
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":     "string",
				"examples": []string{"30s", "5m", "24h"},
			},
			"amount": map[string]any{"type": "number", "minimum": 0},
			"unit": map[string]any{
				"type": "string",
				"enum": []any{"seconds", "minutes", "hours", "days", "weeks"},
			},
		},
		"anyOf": []any{
			map[string]any{"required": []any{"duration"}},
			map[string]any{"required": []any{"amount", "unit"}},
		},
	}
}

// Invoke reports the suspension under actions.DelayKey.
func (n *Node) Invoke(_ context.Context, data json.RawMessage, _ actions.Context) (map[string]any, error) {
	var cfg Config

	if err := actions.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid delay config: %w", err)
	}

	d, err := cfg.Parse()
	if err != nil {
		return nil, err
	}

	return map[string]any{
		actions.DelayKey: d.Milliseconds(),
		"duration":       d.String(),
	}, nil
}
