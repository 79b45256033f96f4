package failover

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInProgress is returned when another run holds the guard
	ErrAlreadyInProgress = errors.New("failover: already in progress")

	// ErrRunClosed is returned when a claimed run is performed twice or
	// after release
	ErrRunClosed = errors.New("failover: run already used")

	// ErrNoPriorFailover is returned by rollback when no run ever succeeded
	ErrNoPriorFailover = errors.New("failover: no prior successful failover")

	// ErrNoCandidate means no healthy target could be picked
	ErrNoCandidate = errors.New("failover: no healthy target available")

	// ErrTargetIsPrimary means the requested target is already primary
	ErrTargetIsPrimary = errors.New("failover: target is already primary")

	// ErrPostValidation wraps failures discovered after cutover
	ErrPostValidation = errors.New("failover: post-validation failed")
)

// PreconditionError reports failed checks that stopped a run before any
// step executed
type PreconditionError struct {
	Target string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("failover: precondition failed: %v", e.Err)
	}
	return fmt.Sprintf("failover: precondition failed for %s: %v", e.Target, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// StepError reports the pipeline step that aborted a run
type StepError struct {
	Step   Step
	Target string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("failover: step %s on %s: %v", e.Step, e.Target, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
