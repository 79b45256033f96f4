// internal/failover/orchestrator.go
package failover

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FairForge/failoverd/internal/events"
	"github.com/FairForge/failoverd/internal/health"
	"github.com/FairForge/failoverd/internal/history"
)

// DefaultCooldown is the quiet period after a successful failover during
// which CanFailover reports false
const DefaultCooldown = 5 * time.Minute

const tracerName = "github.com/FairForge/failoverd/internal/failover"

// State is the orchestrator state machine position
type State int32

const (
	StateIdle State = iota
	StateValidating
	StateExecuting
	StatePostValidating
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateExecuting:
		return "executing"
	case StatePostValidating:
		return "post-validating"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Step names a pipeline step
type Step string

const (
	StepDrainTraffic   Step = "drain-traffic"
	StepPromote        Step = "promote"
	StepUpdateRouting  Step = "update-routing"
	StepStartServices  Step = "start-services"
	StepVerifyServices Step = "verify-services"
)

// Operations are the external calls a failover is made of. Each may be slow
// and each may fail.
type Operations interface {
	CheckTargetHealth(ctx context.Context, name string) (health.Status, error)
	CheckTargetCapacity(ctx context.Context, name string) (bool, error)
	CheckDataSynchronization(ctx context.Context, name string) (bool, error)

	DrainTraffic(ctx context.Context, name string) error
	PromoteRegion(ctx context.Context, name string) error
	UpdateRouting(ctx context.Context, name string) error
	StartServices(ctx context.Context, name string) error
	VerifyServices(ctx context.Context, name string) error

	CheckServicesHealth(ctx context.Context, name string) (bool, error)
}

// HealthSource supplies current target health for candidate selection
type HealthSource interface {
	Snapshot() map[string]health.Status
}

// Observer is told about runs, typically a metrics collector
type Observer interface {
	ObserveFailover(r history.Record)
	SetInFlight(running bool)
	SetPrimary(name string)
}

// Request describes a failover to run
type Request struct {
	// Target is the new primary; empty picks the best healthy candidate
	Target  string
	Trigger history.TriggerKind
	Reason  string
}

// Orchestrator executes failovers one at a time and owns the current primary
type Orchestrator struct {
	state atomic.Int32

	mu      sync.RWMutex
	primary string

	ops      Operations
	health   HealthSource
	ledger   *history.Ledger
	bus      events.Publisher
	observer Observer
	tracer   trace.Tracer
	cooldown time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithCooldown overrides DefaultCooldown
func WithCooldown(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.cooldown = d
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithObserver reports runs to obs
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observer = obs
	}
}

// WithTracer overrides the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// NewOrchestrator creates an orchestrator with primary as the current primary
func NewOrchestrator(
	primary string,
	ops Operations,
	healthSource HealthSource,
	ledger *history.Ledger,
	bus events.Publisher,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		primary:  primary,
		ops:      ops,
		health:   healthSource,
		ledger:   ledger,
		bus:      bus,
		tracer:   otel.Tracer(tracerName),
		cooldown: DefaultCooldown,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.observer != nil {
		o.observer.SetPrimary(primary)
	}
	return o
}

// CurrentPrimary returns the active primary
func (o *Orchestrator) CurrentPrimary() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.primary
}

// State returns the current state machine position
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// InFlight reports whether a run holds the guard
func (o *Orchestrator) InFlight() bool {
	return o.State() != StateIdle
}

// CanFailover reports whether a failover could start right now
func (o *Orchestrator) CanFailover() bool {
	if o.InFlight() {
		return false
	}
	if last, ok := o.ledger.Last(); ok && o.now().Sub(last.CompletedAt()) < o.cooldown {
		return false
	}
	_, err := o.pickTarget(o.CurrentPrimary())
	return err == nil
}

// PerformRollback fails back to the primary replaced by the latest
// successful failover
func (o *Orchestrator) PerformRollback(ctx context.Context, trigger history.TriggerKind, reason string) (history.Record, error) {
	last, ok := o.ledger.LastSuccessful()
	if !ok {
		return history.Record{}, ErrNoPriorFailover
	}
	if reason == "" {
		reason = "rollback"
	} else {
		reason = "rollback: " + reason
	}
	return o.PerformFailover(ctx, Request{
		Target:  last.OldPrimary,
		Trigger: trigger,
		Reason:  reason,
	})
}

// Run is a claimed failover slot. Exactly one of Perform or Release takes
// effect; a later Perform returns ErrRunClosed.
type Run struct {
	o    *Orchestrator
	used atomic.Bool
}

// Begin claims the guard without starting the pipeline, so a caller can
// commit to a failover before running it elsewhere
func (o *Orchestrator) Begin() (*Run, error) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateValidating)) {
		return nil, ErrAlreadyInProgress
	}
	if o.observer != nil {
		o.observer.SetInFlight(true)
	}
	return &Run{o: o}, nil
}

// Perform runs the pipeline on the claimed slot
func (r *Run) Perform(ctx context.Context, req Request) (history.Record, error) {
	if !r.used.CompareAndSwap(false, true) {
		return history.Record{}, ErrRunClosed
	}
	return r.o.run(ctx, req)
}

// Release gives the slot back without running anything
func (r *Run) Release() {
	if r.used.CompareAndSwap(false, true) {
		r.o.releaseGuard()
	}
}

func (o *Orchestrator) releaseGuard() {
	o.state.Store(int32(StateIdle))
	if o.observer != nil {
		o.observer.SetInFlight(false)
	}
}

// PerformFailover runs the full state machine. It fails fast with
// ErrAlreadyInProgress when another run is active; every other failure is
// recorded in the ledger and leaves the primary unchanged.
func (o *Orchestrator) PerformFailover(ctx context.Context, req Request) (history.Record, error) {
	r, err := o.Begin()
	if err != nil {
		return history.Record{}, err
	}
	return r.Perform(ctx, req)
}

// run executes the pipeline; the caller holds the guard
func (o *Orchestrator) run(ctx context.Context, req Request) (history.Record, error) {
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		o.releaseGuard()
	}
	defer release()

	if req.Trigger == "" {
		req.Trigger = history.TriggerManual
	}

	start := o.now()
	oldPrimary := o.CurrentPrimary()

	ctx, span := o.tracer.Start(ctx, "failover.run", trace.WithAttributes(
		attribute.String("failover.old_primary", oldPrimary),
		attribute.String("failover.requested_target", req.Target),
		attribute.String("failover.trigger", string(req.Trigger)),
	))
	defer span.End()

	rec := history.Record{
		ID:         uuid.NewString(),
		Timestamp:  start,
		OldPrimary: oldPrimary,
		Trigger:    req.Trigger,
		Reason:     req.Reason,
	}

	target, err := o.resolveTarget(oldPrimary, req.Target)
	rec.NewPrimary = target

	o.logger.Info("failover started",
		zap.String("id", rec.ID),
		zap.String("from", oldPrimary),
		zap.String("target", target),
		zap.String("trigger", string(req.Trigger)))
	o.publish(ctx, events.Event{
		Type:    events.TypeFailoverStarted,
		Target:  target,
		Message: fmt.Sprintf("failover from %s started", oldPrimary),
		Data: map[string]interface{}{
			"id":          rec.ID,
			"old_primary": oldPrimary,
			"trigger":     string(req.Trigger),
		},
	})

	if err == nil {
		err = o.validate(ctx, target)
	}
	if err == nil {
		o.state.Store(int32(StateExecuting))
		err = o.execute(ctx, oldPrimary, target)
	}
	if err == nil {
		o.state.Store(int32(StatePostValidating))
		err = o.postValidate(ctx, target)
	}
	rec.DurationMs = o.now().Sub(start).Milliseconds()
	span.SetAttributes(attribute.String("failover.new_primary", target))

	if err != nil {
		o.state.Store(int32(StateAborted))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rec.Error = err.Error()
		o.finish(ctx, rec)
		release()

		o.logger.Error("failover aborted",
			zap.String("id", rec.ID),
			zap.String("from", oldPrimary),
			zap.String("to", target),
			zap.Error(err))
		o.publish(ctx, events.Event{
			Type:   events.TypeFailoverFailed,
			Target: target,
			Record: &rec,
			Err:    err,
		})
		return rec, err
	}

	o.state.Store(int32(StateCommitted))
	o.mu.Lock()
	o.primary = target
	o.mu.Unlock()
	if o.observer != nil {
		o.observer.SetPrimary(target)
	}

	rec.Success = true
	span.SetStatus(codes.Ok, "")
	o.finish(ctx, rec)
	release()

	o.logger.Info("failover completed",
		zap.String("id", rec.ID),
		zap.String("from", oldPrimary),
		zap.String("to", target),
		zap.Int64("duration_ms", rec.DurationMs))
	o.publish(ctx, events.Event{
		Type:   events.TypeFailoverCompleted,
		Target: target,
		Record: &rec,
	})
	return rec, nil
}

func (o *Orchestrator) finish(ctx context.Context, rec history.Record) {
	o.ledger.Append(ctx, rec)
	if o.observer != nil {
		o.observer.ObserveFailover(rec)
	}
}

func (o *Orchestrator) publish(ctx context.Context, e events.Event) {
	if o.bus != nil {
		o.bus.Publish(ctx, e)
	}
}

// resolveTarget picks a candidate when none was requested and rejects the
// current primary
func (o *Orchestrator) resolveTarget(oldPrimary, requested string) (string, error) {
	target := requested
	if target == "" {
		picked, err := o.pickTarget(oldPrimary)
		if err != nil {
			return "", &PreconditionError{Err: err}
		}
		target = picked
	}
	if target == oldPrimary {
		return target, &PreconditionError{Target: target, Err: ErrTargetIsPrimary}
	}
	return target, nil
}

// validate runs the three independent preconditions against target
func (o *Orchestrator) validate(ctx context.Context, target string) error {
	ctx, span := o.tracer.Start(ctx, "failover.validate", trace.WithAttributes(
		attribute.String("failover.target", target)))
	defer span.End()

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	check := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}

	check("health", func(ctx context.Context) error {
		st, err := o.ops.CheckTargetHealth(ctx, target)
		if err != nil {
			return err
		}
		if st.IsCritical() {
			return fmt.Errorf("target is critical (score %.0f)", st.Score)
		}
		return nil
	})
	check("capacity", func(ctx context.Context) error {
		ok, err := o.ops.CheckTargetCapacity(ctx, target)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("insufficient capacity")
		}
		return nil
	})
	check("data-sync", func(ctx context.Context) error {
		ok, err := o.ops.CheckDataSynchronization(ctx, target)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("data not synchronized")
		}
		return nil
	})
	_ = g.Wait()

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		err := &PreconditionError{Target: target, Err: errors.Join(errs...)}
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// execute runs the pipeline strictly in order; the first failure stops it
func (o *Orchestrator) execute(ctx context.Context, oldPrimary, target string) error {
	steps := []struct {
		step   Step
		target string
		run    func(context.Context, string) error
	}{
		{StepDrainTraffic, oldPrimary, o.ops.DrainTraffic},
		{StepPromote, target, o.ops.PromoteRegion},
		{StepUpdateRouting, target, o.ops.UpdateRouting},
		{StepStartServices, target, o.ops.StartServices},
		{StepVerifyServices, target, o.ops.VerifyServices},
	}

	for _, s := range steps {
		stepCtx, span := o.tracer.Start(ctx, "failover.step."+string(s.step), trace.WithAttributes(
			attribute.String("failover.step.target", s.target)))
		err := s.run(stepCtx, s.target)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return &StepError{Step: s.step, Target: s.target, Err: err}
		}
		span.End()

		o.logger.Debug("failover step completed",
			zap.String("step", string(s.step)),
			zap.String("target", s.target))
	}
	return nil
}

// postValidate catches failures that only show after cutover
func (o *Orchestrator) postValidate(ctx context.Context, target string) error {
	ctx, span := o.tracer.Start(ctx, "failover.post_validate")
	defer span.End()

	st, err := o.ops.CheckTargetHealth(ctx, target)
	if err != nil {
		return fmt.Errorf("%w: health of %s: %v", ErrPostValidation, target, err)
	}
	if st.IsCritical() {
		return fmt.Errorf("%w: %s is critical (score %.0f)", ErrPostValidation, target, st.Score)
	}

	ok, err := o.ops.CheckServicesHealth(ctx, target)
	if err != nil {
		return fmt.Errorf("%w: services on %s: %v", ErrPostValidation, target, err)
	}
	if !ok {
		return fmt.Errorf("%w: services on %s unhealthy", ErrPostValidation, target)
	}
	return nil
}

// pickTarget returns the best available non-primary target: highest score,
// ties broken by name
func (o *Orchestrator) pickTarget(primary string) (string, error) {
	if o.health == nil {
		return "", ErrNoCandidate
	}

	best := ""
	bestScore := -1.0
	for name, st := range o.health.Snapshot() {
		if name == primary || !st.Available() {
			continue
		}
		if st.Score > bestScore || (st.Score == bestScore && name < best) {
			best, bestScore = name, st.Score
		}
	}
	if best == "" {
		return "", ErrNoCandidate
	}
	return best, nil
}
