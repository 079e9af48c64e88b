package pacing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultInterval is the pause between two network interactions.
const DefaultInterval = 400 * time.Millisecond

// ErrInterrupted is returned when a wait ends before its interval elapsed.
var ErrInterrupted = errors.New("pacing interrupted")

// Policy describes how long the pacer waits between interactions. A
// multiplier of 1 with zero jitter yields a fixed delay.
type Policy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	Jitter      float64
}

// DefaultPolicy returns the fixed 400ms pacing.
func DefaultPolicy() Policy {
	return Policy{
		Interval:    DefaultInterval,
		MaxInterval: DefaultInterval,
		Multiplier:  1,
	}
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures Pacer construction.
type Option func(*Pacer)

// WithSleep replaces the blocking wait, mainly for tests.
func WithSleep(sleep SleepFunc) Option {
	return func(p *Pacer) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// Pacer spaces out polls and submissions. Successive waits grow by the
// policy multiplier until Reset is called.
type Pacer struct {
	policy  Policy
	backoff *backoff.ExponentialBackOff
	sleep   SleepFunc
	last    time.Duration
}

// New validates policy and builds a Pacer.
func New(policy Policy, options ...Option) (*Pacer, error) {
	if policy.Interval <= 0 {
		return nil, fmt.Errorf("pacing interval must be positive, got %s", policy.Interval)
	}
	if policy.Multiplier == 0 {
		policy.Multiplier = 1
	}
	if policy.Multiplier < 1 {
		return nil, fmt.Errorf("pacing multiplier must be >= 1, got %v", policy.Multiplier)
	}
	if policy.Jitter < 0 || policy.Jitter >= 1 {
		return nil, fmt.Errorf("pacing jitter must be in [0, 1), got %v", policy.Jitter)
	}
	if policy.MaxInterval < policy.Interval {
		policy.MaxInterval = policy.Interval
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = policy.Interval
	schedule.MaxInterval = policy.MaxInterval
	schedule.Multiplier = policy.Multiplier
	schedule.RandomizationFactor = policy.Jitter
	schedule.Reset()

	pacer := &Pacer{
		policy:  policy,
		backoff: schedule,
		sleep:   sleepContext,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(pacer)
	}
	return pacer, nil
}

// Wait blocks for the next interval of the schedule.
func (p *Pacer) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	delay := p.backoff.NextBackOff()
	if delay == backoff.Stop || delay <= 0 {
		delay = p.policy.MaxInterval
	}
	if err := p.sleep(ctx, delay); err != nil {
		return fmt.Errorf("%w after %s: %w", ErrInterrupted, delay, err)
	}
	p.last = delay
	return nil
}

// Reset returns the schedule to its initial interval.
func (p *Pacer) Reset() {
	p.backoff.Reset()
}

// Last returns the most recently completed wait.
func (p *Pacer) Last() time.Duration {
	return p.last
}

// Policy returns the normalized policy.
func (p *Pacer) Policy() Policy {
	return p.policy
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
