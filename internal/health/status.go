// internal/health/status.go
package health

import (
	"time"
)

// State is the normalized health of a target
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateCritical State = "critical"
	StateUnknown  State = "unknown"
)

// Score bands. A score above HealthyScore is healthy, above DegradedScore is
// degraded, anything else is critical.
const (
	HealthyScore  = 80.0
	DegradedScore = 50.0
	MaxScore      = 100.0
)

// Severity represents issue severity levels
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Issue describes a problem found while checking a target
type Issue struct {
	Severity  Severity  `json:"severity"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is the last known health of a target
type Status struct {
	State     State     `json:"status"`
	Score     float64   `json:"score"`
	LastCheck time.Time `json:"last_check"`
	Issues    []Issue   `json:"issues"`
}

// StateForScore maps a score onto the fixed health bands
func StateForScore(score float64) State {
	switch {
	case score > HealthyScore:
		return StateHealthy
	case score > DegradedScore:
		return StateDegraded
	default:
		return StateCritical
	}
}

// Unknown returns the status every target holds before its first probe
func Unknown() Status {
	return Status{
		State:  StateUnknown,
		Issues: []Issue{},
	}
}

// NewStatus builds a status from a measured score. Scores below the healthy
// band carry an issue naming the component.
func NewStatus(component string, score float64, at time.Time) Status {
	score = clampScore(score)
	st := Status{
		State:     StateForScore(score),
		Score:     score,
		LastCheck: at,
		Issues:    []Issue{},
	}

	if score < HealthyScore {
		st.Issues = append(st.Issues, Issue{
			Severity:  severityForScore(score),
			Component: component,
			Message:   "health score below threshold",
			Timestamp: at,
		})
	}
	return st
}

// Exhausted is the status reported once every probe attempt has failed
func Exhausted(component string, cause error, at time.Time) Status {
	msg := "health check failed"
	if cause != nil {
		msg = cause.Error()
	}
	return Status{
		State:     StateCritical,
		Score:     0,
		LastCheck: at,
		Issues: []Issue{{
			Severity:  SeverityCritical,
			Component: component,
			Message:   msg,
			Timestamp: at,
		}},
	}
}

// Copy returns a deep copy of the status
func (s Status) Copy() Status {
	c := s
	c.Issues = make([]Issue, len(s.Issues))
	copy(c.Issues, s.Issues)
	return c
}

// IsCritical reports whether the target is in the critical band
func (s Status) IsCritical() bool {
	return s.State == StateCritical
}

// Available reports whether the target can take traffic
func (s Status) Available() bool {
	return s.State == StateHealthy || s.State == StateDegraded
}

func severityForScore(score float64) Severity {
	switch {
	case score > DegradedScore:
		return SeverityMedium
	case score > 20:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
