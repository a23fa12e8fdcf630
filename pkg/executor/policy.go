package executor

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/automata/pkg/models"
	"github.com/jonboulle/clockwork"
)

// RetryPolicy decides what happens after a node attempt fails.
type RetryPolicy interface {
	// Retryable reports whether node may run again after failing on attempt.
	Retryable(node models.Node, attempt int) bool
	// NewBackOff returns the wait schedule between the attempts of one node.
	NewBackOff() backoff.BackOff
	// HaltOnFailure reports whether a node that failed for good fails the run.
	HaltOnFailure() bool
}

// PolicyFunc builds the policy of a workflow.
type PolicyFunc func(wf *models.Workflow) RetryPolicy

// BackoffConfig shapes the exponential backoff between retries. A zero InitialInterval
// retries immediately.
type BackoffConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialInterval:     time.Second,
		MaxInterval:         time.Minute,
		Multiplier:          2,
		RandomizationFactor: 0.5,
	}
}

// workflowPolicy applies the workflow-level errorHandling setting to every node.
//
//	continue: no retries, successors of a failed node still run
//	retry:    action-class nodes retry up to maxRetries times, then the run fails
//	halt:     same as retry
type workflowPolicy struct {
	handling   models.ErrorHandling
	maxRetries int
	backoff    BackoffConfig
	clock      clockwork.Clock
}

// NewWorkflowPolicy returns the policy configured on wf.
func NewWorkflowPolicy(wf *models.Workflow, cfg BackoffConfig, clock clockwork.Clock) RetryPolicy {
	return &workflowPolicy{
		handling:   wf.ErrorHandling,
		maxRetries: max(wf.MaxRetries, 0),
		backoff:    cfg,
		clock:      clock,
	}
}

func (p *workflowPolicy) Retryable(node models.Node, attempt int) bool {
	return p.handling != models.ErrorHandlingContinue && node.IsActionClass() && attempt <= p.maxRetries
}

func (p *workflowPolicy) HaltOnFailure() bool {
	return p.handling != models.ErrorHandlingContinue
}

func (p *workflowPolicy) NewBackOff() backoff.BackOff {
	if p.backoff.InitialInterval <= 0 {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(p.maxRetries))
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.backoff.InitialInterval,
		RandomizationFactor: p.backoff.RandomizationFactor,
		Multiplier:          p.backoff.Multiplier,
		MaxInterval:         p.backoff.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               p.clock,
	}
	b.Reset()

	return backoff.WithMaxRetries(b, uint64(p.maxRetries))
}
