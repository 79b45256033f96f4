// internal/health/prober.go
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultRetryDelay is the fixed pause between probe attempts
const DefaultRetryDelay = time.Second

var errReportedUnhealthy = errors.New("health check reported unhealthy")

// CheckSpec describes one monitored target
type CheckSpec struct {
	Name     string `yaml:"name" json:"name"`
	Retries  int    `yaml:"retries" json:"retries"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// Checker runs the raw health measurement for a target. The score is a
// latency-derived quality value in 0..100.
type Checker interface {
	Check(ctx context.Context, spec CheckSpec) (ok bool, score float64, err error)
}

// CheckerFunc adapts a function to the Checker interface
type CheckerFunc func(ctx context.Context, spec CheckSpec) (bool, float64, error)

// Check calls f
func (f CheckerFunc) Check(ctx context.Context, spec CheckSpec) (bool, float64, error) {
	return f(ctx, spec)
}

// Observer receives probe outcomes, typically a metrics collector
type Observer interface {
	ObserveProbeAttempt(target string, ok bool)
	ObserveHealth(target string, status Status)
}

// Prober runs a check with bounded retries and normalizes the result
type Prober struct {
	checker        Checker
	retryDelay     time.Duration
	attemptTimeout time.Duration
	observer       Observer
	now            func() time.Time
	logger         *zap.Logger
}

// ProberOption configures the prober
type ProberOption func(*Prober)

// WithRetryDelay sets the pause between attempts
func WithRetryDelay(d time.Duration) ProberOption {
	return func(p *Prober) {
		p.retryDelay = d
	}
}

// WithAttemptTimeout bounds each individual attempt
func WithAttemptTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		p.attemptTimeout = d
	}
}

// WithObserver reports attempts and results to o
func WithObserver(o Observer) ProberOption {
	return func(p *Prober) {
		p.observer = o
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) ProberOption {
	return func(p *Prober) {
		p.now = now
	}
}

// NewProber creates a new prober
func NewProber(checker Checker, logger *zap.Logger, opts ...ProberOption) *Prober {
	p := &Prober{
		checker:    checker,
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe checks the target up to spec.Retries times. It never fails: once
// every attempt is exhausted the target is reported critical with score 0.
func (p *Prober) Probe(ctx context.Context, spec CheckSpec) Status {
	attempts := spec.Retries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		score, err := p.attempt(ctx, spec)
		if p.observer != nil {
			p.observer.ObserveProbeAttempt(spec.Name, err == nil)
		}
		if err == nil {
			st := NewStatus(spec.Name, score, p.now())
			p.observe(spec.Name, st)
			return st
		}

		lastErr = err
		p.logger.Debug("health probe attempt failed",
			zap.String("target", spec.Name),
			zap.Int("attempt", attempt),
			zap.Int("attempts", attempts),
			zap.Error(err))

		if attempt == attempts {
			break
		}
		if !p.wait(ctx) {
			break
		}
	}

	p.logger.Warn("health probe exhausted",
		zap.String("target", spec.Name),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))

	st := Exhausted(spec.Name, lastErr, p.now())
	p.observe(spec.Name, st)
	return st
}

func (p *Prober) attempt(ctx context.Context, spec CheckSpec) (float64, error) {
	if p.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()
	}

	ok, score, err := p.checker.Check(ctx, spec)
	if err != nil {
		return 0, fmt.Errorf("check %s: %w", spec.Name, err)
	}
	if !ok {
		return 0, errReportedUnhealthy
	}
	return score, nil
}

// wait sleeps for the retry delay, returning false if ctx ends first
func (p *Prober) wait(ctx context.Context) bool {
	if p.retryDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(p.retryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (p *Prober) observe(target string, st Status) {
	if p.observer != nil {
		p.observer.ObserveHealth(target, st)
	}
}
