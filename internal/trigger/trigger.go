// internal/trigger/trigger.go
package trigger

import (
	"fmt"
	"sync"
	"time"

	"github.com/FairForge/failoverd/internal/health"
)

// Mode selects how failovers may be started
type Mode string

const (
	ModeManual    Mode = "manual"
	ModeAutomatic Mode = "automatic"
	ModeHybrid    Mode = "hybrid"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	switch m {
	case ModeManual, ModeAutomatic, ModeHybrid:
		return true
	default:
		return false
	}
}

// AutoFailover reports whether the health pipeline may start failovers
func (m Mode) AutoFailover() bool {
	return m == ModeAutomatic || m == ModeHybrid
}

// Type is the kind of condition a rule watches
type Type string

const (
	TypeHealthCheck Type = "health-check"
	TypePerformance Type = "performance"
	TypeManual      Type = "manual"
	TypeScheduled   Type = "scheduled"
)

// Rule authorizes an automatic failover when a target's score drops below
// Threshold, at most once per cooldown window per target
type Rule struct {
	Type            Type    `yaml:"type" json:"type"`
	Threshold       float64 `yaml:"threshold" json:"threshold"`
	CooldownSeconds int     `yaml:"cooldown_seconds" json:"cooldown_seconds"`
}

// Cooldown returns the rule's cooldown window
func (r Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// Validate checks the rule
func (r Rule) Validate() error {
	switch r.Type {
	case TypeHealthCheck, TypePerformance, TypeManual, TypeScheduled:
	default:
		return fmt.Errorf("trigger: invalid type: %q", r.Type)
	}
	if r.Threshold < 0 || r.Threshold > health.MaxScore {
		return fmt.Errorf("trigger: threshold %v out of range 0..100", r.Threshold)
	}
	if r.CooldownSeconds < 0 {
		return fmt.Errorf("trigger: negative cooldown: %d", r.CooldownSeconds)
	}
	return nil
}

// evaluates reports whether the rule is evaluated from health updates.
// Manual and scheduled rules are satisfied through other entry points.
func (r Rule) evaluates() bool {
	return r.Type == TypeHealthCheck || r.Type == TypePerformance
}

type cooldownKey struct {
	typ    Type
	target string
}

// Evaluator decides whether a health update should start a failover
type Evaluator struct {
	mu        sync.Mutex
	mode      Mode
	rules     []Rule
	lastFired map[cooldownKey]time.Time
	inFlight  func() bool
	now       func() time.Time
}

// Option configures the evaluator
type Option func(*Evaluator)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		e.now = now
	}
}

// NewEvaluator creates an evaluator. inFlight reports whether a failover is
// currently running; nil means never.
func NewEvaluator(mode Mode, rules []Rule, inFlight func() bool, opts ...Option) *Evaluator {
	if inFlight == nil {
		inFlight = func() bool { return false }
	}
	e := &Evaluator{
		inFlight: inFlight,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Configure(mode, rules)
	return e
}

// Configure replaces the mode and rules and forgets all cooldowns
func (e *Evaluator) Configure(mode Mode, rules []Rule) {
	copied := make([]Rule, len(rules))
	copy(copied, rules)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
	e.rules = copied
	e.lastFired = make(map[cooldownKey]time.Time)
}

// ShouldFailover evaluates the rules in declaration order. The first rule
// that fires outside its cooldown is recorded and wins.
func (e *Evaluator) ShouldFailover(target string, status health.Status) bool {
	return e.Fire(target, status, nil)
}

// Fire is ShouldFailover with a claim step. Once a rule matches, claim runs
// under the evaluator lock and the cooldown is only recorded when it
// succeeds; a nil claim always succeeds.
func (e *Evaluator) Fire(target string, status health.Status, claim func() bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.mode.AutoFailover() {
		return false
	}
	if e.inFlight() {
		return false
	}

	now := e.now()
	for _, rule := range e.rules {
		if !rule.evaluates() {
			continue
		}
		if status.Score >= rule.Threshold {
			continue
		}

		key := cooldownKey{typ: rule.Type, target: target}
		if last, ok := e.lastFired[key]; ok && now.Sub(last) < rule.Cooldown() {
			continue
		}

		if claim != nil && !claim() {
			return false
		}
		e.lastFired[key] = now
		return true
	}
	return false
}

// LastFired returns when a rule type last fired for target
func (e *Evaluator) LastFired(typ Type, target string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.lastFired[cooldownKey{typ: typ, target: target}]
	return t, ok
}

// Mode returns the configured mode
func (e *Evaluator) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}
