package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerType is the event class that creates a run.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeSchedule TriggerType = "schedule"
)

var (
	// ErrInvalidTriggerConfig is returned when a trigger configuration does not match its type.
	ErrInvalidTriggerConfig = errors.New("invalid trigger configuration")

	scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// IsValid reports whether t is one of the known trigger types.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerTypeManual, TriggerTypeEvent, TriggerTypeWebhook, TriggerTypeSchedule:
		return true
	default:
		return false
	}
}

// EventTriggerConfig subscribes a workflow to a named domain event (e.g. "contact.created").
type EventTriggerConfig struct {
	EventName string `json:"event_name"`
}

// WebhookTriggerConfig binds a workflow to an inbound webhook path.
type WebhookTriggerConfig struct {
	Path          string         `json:"path"`
	PayloadSchema map[string]any `json:"payload_schema,omitempty"`
}

// ScheduleTriggerConfig fires a workflow on a cron expression.
type ScheduleTriggerConfig struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone,omitempty"`
}

// Location resolves the configured timezone, defaulting to UTC.
func (c ScheduleTriggerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}

	return time.LoadLocation(c.Timezone)
}

// Next returns the next fire time after ref.
func (c ScheduleTriggerConfig) Next(ref time.Time) (time.Time, error) {
	schedule, err := scheduleParser.Parse(c.Cron)
	if err != nil {
		return time.Time{}, err
	}

	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}

	return schedule.Next(ref.In(loc)), nil
}

// EventTrigger decodes the trigger configuration of an event-triggered workflow.
func (w *Workflow) EventTrigger() (EventTriggerConfig, error) {
	cfg, err := decodeTriggerConfig[EventTriggerConfig](w, TriggerTypeEvent)
	if err != nil {
		return cfg, err
	}

	if strings.TrimSpace(cfg.EventName) == "" {
		return cfg, fmt.Errorf("%w: event_name is required", ErrInvalidTriggerConfig)
	}

	return cfg, nil
}

// WebhookTrigger decodes the trigger configuration of a webhook-triggered workflow.
func (w *Workflow) WebhookTrigger() (WebhookTriggerConfig, error) {
	cfg, err := decodeTriggerConfig[WebhookTriggerConfig](w, TriggerTypeWebhook)
	if err != nil {
		return cfg, err
	}

	cfg.Path = strings.Trim(cfg.Path, "/")
	if cfg.Path == "" {
		return cfg, fmt.Errorf("%w: path is required", ErrInvalidTriggerConfig)
	}

	return cfg, nil
}

// ScheduleTrigger decodes the trigger configuration of a schedule-triggered workflow.
func (w *Workflow) ScheduleTrigger() (ScheduleTriggerConfig, error) {
	cfg, err := decodeTriggerConfig[ScheduleTriggerConfig](w, TriggerTypeSchedule)
	if err != nil {
		return cfg, err
	}

	if _, err := scheduleParser.Parse(cfg.Cron); err != nil {
		return cfg, fmt.Errorf("%w: cron %q: %v", ErrInvalidTriggerConfig, cfg.Cron, err)
	}

	if _, err := cfg.Location(); err != nil {
		return cfg, fmt.Errorf("%w: timezone %q: %v", ErrInvalidTriggerConfig, cfg.Timezone, err)
	}

	return cfg, nil
}

// ValidateTriggerConfig checks that the trigger configuration matches the trigger type.
func (w *Workflow) ValidateTriggerConfig() error {
	var err error

	switch w.TriggerType {
	case TriggerTypeManual:
	case TriggerTypeEvent:
		_, err = w.EventTrigger()
	case TriggerTypeWebhook:
		_, err = w.WebhookTrigger()
	case TriggerTypeSchedule:
		_, err = w.ScheduleTrigger()
	default:
		err = fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTriggerConfig, w.TriggerType)
	}

	return err
}

func decodeTriggerConfig[T any](w *Workflow, expected TriggerType) (T, error) {
	var cfg T

	if w.TriggerType != expected {
		return cfg, fmt.Errorf("%w: workflow is triggered by %q, not %q", ErrInvalidTriggerConfig, w.TriggerType, expected)
	}

	if len(w.TriggerConfig) == 0 {
		return cfg, fmt.Errorf("%w: trigger_config is required for %s triggers", ErrInvalidTriggerConfig, expected)
	}

	if err := json.Unmarshal(w.TriggerConfig, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidTriggerConfig, err)
	}

	return cfg, nil
}
