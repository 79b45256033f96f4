// internal/manager/manager.go
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/FairForge/failoverd/internal/config"
	"github.com/FairForge/failoverd/internal/events"
	"github.com/FairForge/failoverd/internal/failover"
	"github.com/FairForge/failoverd/internal/health"
	"github.com/FairForge/failoverd/internal/history"
	"github.com/FairForge/failoverd/internal/metrics"
	"github.com/FairForge/failoverd/internal/trigger"
)

// ErrShutdown is returned by Initialize after Shutdown
var ErrShutdown = errors.New("manager: shut down")

// ErrorReporter receives failures that have no caller to return to, such
// as automatic failover runs
type ErrorReporter func(ctx context.Context, err error)

// Deps are the collaborators a Manager is built from. Checker and
// Operations are required.
type Deps struct {
	Checker    health.Checker
	Operations failover.Operations

	Store         history.Store
	Collector     *metrics.Collector
	Bus           *events.Bus
	Tracer        trace.Tracer
	Clock         func() time.Time
	ErrorReporter ErrorReporter
}

// Metrics is the operator-facing summary
type Metrics struct {
	TotalFailovers      int           `json:"total_failovers"`
	SuccessfulFailovers int           `json:"successful_failovers"`
	FailedFailovers     int           `json:"failed_failovers"`
	SuccessRate         float64       `json:"success_rate"`
	AverageDurationMs   float64       `json:"average_duration_ms"`
	LastFailover        *time.Time    `json:"last_failover,omitempty"`
	LastSuccess         *time.Time    `json:"last_success,omitempty"`
	CanFailover         bool          `json:"can_failover"`
	InFlight            bool          `json:"in_flight"`
	State               string        `json:"state"`
	CurrentPrimary      string        `json:"current_primary"`
	Mode                trigger.Mode  `json:"mode"`
	PendingAutomatic    int           `json:"pending_automatic"`
	Uptime              time.Duration `json:"uptime_ns"`
}

// Manager wires health polling, trigger evaluation and the failover
// orchestrator together and governs their lifecycle
type Manager struct {
	settings config.FailoverConfig
	logger   *zap.Logger
	now      func() time.Time
	started  time.Time

	bus          *events.Bus
	registry     *health.Registry
	poller       *health.Poller
	evaluator    *trigger.Evaluator
	orchestrator *failover.Orchestrator
	ledger       *history.Ledger
	store        history.Store
	reportError  ErrorReporter

	mu          sync.Mutex
	strategy    config.Strategy
	initialized bool
	closed      bool
	unsubscribe func()

	// automatic runs launched and not yet finished
	pending atomic.Int32
}

// New builds a manager. Nothing runs until Initialize.
func New(settings config.FailoverConfig, historyCapacity int, strategy config.Strategy, deps Deps, logger *zap.Logger) (*Manager, error) {
	if deps.Checker == nil || deps.Operations == nil {
		return nil, errors.New("manager: checker and operations are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	strategy = strategy.Clone()
	strategy.ApplyDefaults()
	if err := strategy.Validate(); err != nil {
		return nil, err
	}
	if settings.ShutdownTimeout <= 0 {
		settings.ShutdownTimeout = 5 * time.Minute
	}
	if settings.ShutdownPoll <= 0 {
		settings.ShutdownPoll = time.Second
	}

	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus(0, logger)
	}

	m := &Manager{
		settings: settings,
		logger:   logger,
		now:      now,
		started:  now(),
		bus:      bus,
		strategy: strategy,
		store:    deps.Store,
	}

	m.reportError = deps.ErrorReporter
	if m.reportError == nil {
		m.reportError = func(ctx context.Context, err error) {
			logger.Error("automatic failover failed", zap.Error(err))
		}
	}

	ledgerOpts := []history.LedgerOption{history.WithLogger(logger)}
	if deps.Store != nil {
		ledgerOpts = append(ledgerOpts, history.WithStore(deps.Store))
	}
	m.ledger = history.NewLedger(historyCapacity, ledgerOpts...)

	proberOpts := []health.ProberOption{health.WithClock(now)}
	if settings.RetryDelay > 0 {
		proberOpts = append(proberOpts, health.WithRetryDelay(settings.RetryDelay))
	}
	if settings.AttemptTimeout > 0 {
		proberOpts = append(proberOpts, health.WithAttemptTimeout(settings.AttemptTimeout))
	}
	if deps.Collector != nil {
		proberOpts = append(proberOpts, health.WithObserver(deps.Collector))
	}
	prober := health.NewProber(deps.Checker, logger, proberOpts...)

	m.registry = health.NewRegistry(strategy.Checks)
	m.poller = health.NewPoller(prober, m.registry, settings.PollInterval, logger)

	orchOpts := []failover.Option{failover.WithClock(now)}
	if settings.Cooldown > 0 {
		orchOpts = append(orchOpts, failover.WithCooldown(settings.Cooldown))
	}
	if deps.Collector != nil {
		orchOpts = append(orchOpts, failover.WithObserver(deps.Collector))
	}
	if deps.Tracer != nil {
		orchOpts = append(orchOpts, failover.WithTracer(deps.Tracer))
	}
	m.orchestrator = failover.NewOrchestrator(settings.DefaultPrimary, deps.Operations, m.registry, m.ledger, bus, logger, orchOpts...)

	m.evaluator = trigger.NewEvaluator(strategy.Mode, strategy.Triggers, m.orchestrator.InFlight, trigger.WithClock(now))

	return m, nil
}

// Bus returns the notification bus
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// Initialize starts polling and, in automatic or hybrid mode, automatic
// failover. Calling it again is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShutdown
	}
	if m.initialized {
		m.mu.Unlock()
		return nil
	}

	if m.store != nil {
		n, err := m.ledger.Load(ctx)
		if err != nil {
			m.logger.Warn("could not load failover history", zap.Error(err))
		} else {
			m.logger.Info("loaded failover history", zap.Int("records", n))
		}
	}

	if err := m.startLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.initialized = true
	mode := m.strategy.Mode
	checks := len(m.strategy.Checks)
	m.mu.Unlock()

	m.logger.Info("failover manager initialized",
		zap.String("mode", string(mode)),
		zap.String("primary", m.orchestrator.CurrentPrimary()),
		zap.Int("checks", checks))
	m.bus.Publish(ctx, events.Event{
		Type:    events.TypeInitialized,
		Target:  m.orchestrator.CurrentPrimary(),
		Message: fmt.Sprintf("mode %s, %d checks", mode, checks),
	})
	return nil
}

// Shutdown stops polling and automatic failover, then waits for any running
// failover to finish. A run still going at the timeout is left running and
// reported as a warning. Calling it again is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopLocked()
	m.mu.Unlock()

	timedOut := !m.waitIdle(ctx)
	if timedOut {
		m.logger.Warn("shutdown timed out waiting for failover",
			zap.Duration("timeout", m.settings.ShutdownTimeout),
			zap.String("state", m.orchestrator.State().String()),
			zap.Int32("pending_automatic", m.pending.Load()))
	}

	m.bus.Publish(ctx, events.Event{
		Type:    events.TypeShutdown,
		Target:  m.orchestrator.CurrentPrimary(),
		Message: "failover manager shut down",
		Data:    map[string]interface{}{"timed_out": timedOut},
	})
	m.logger.Info("failover manager shut down", zap.Bool("timed_out", timedOut))
	return nil
}

// waitIdle polls until no failover is running or pending. It returns false
// on timeout or when ctx ends first.
func (m *Manager) waitIdle(ctx context.Context) bool {
	if !m.busy() {
		return true
	}

	timeout := time.NewTimer(m.settings.ShutdownTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(m.settings.ShutdownPoll)
	defer ticker.Stop()

	m.logger.Info("waiting for in-flight failover to finish")
	for {
		select {
		case <-ticker.C:
			if !m.busy() {
				return true
			}
		case <-timeout.C:
			return !m.busy()
		case <-ctx.Done():
			return !m.busy()
		}
	}
}

func (m *Manager) busy() bool {
	return m.orchestrator.InFlight() || m.pending.Load() > 0
}

// UpdateConfig swaps the strategy. Health is reset to unknown and trigger
// cooldowns are forgotten; a running manager restarts polling under the new
// strategy.
func (m *Manager) UpdateConfig(ctx context.Context, strategy config.Strategy) error {
	strategy = strategy.Clone()
	strategy.ApplyDefaults()
	if err := strategy.Validate(); err != nil {
		m.logger.Error("rejected strategy update", zap.Error(err))
		m.bus.Publish(ctx, events.Event{
			Type:    events.TypeError,
			Message: "strategy update rejected",
			Err:     err,
		})
		return err
	}

	m.mu.Lock()
	running := m.initialized && !m.closed
	if running {
		m.stopLocked()
	}
	m.strategy = strategy
	m.registry.Reset(strategy.Checks)
	m.evaluator.Configure(strategy.Mode, strategy.Triggers)
	var err error
	if running {
		err = m.startLocked()
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}

	m.logger.Info("strategy updated",
		zap.String("mode", string(strategy.Mode)),
		zap.Int("triggers", len(strategy.Triggers)),
		zap.Int("checks", len(strategy.Checks)))
	m.bus.Publish(ctx, events.Event{
		Type:    events.TypeConfigUpdated,
		Message: fmt.Sprintf("mode %s, %d checks", strategy.Mode, len(strategy.Checks)),
		Data: map[string]interface{}{
			"mode":     string(strategy.Mode),
			"triggers": len(strategy.Triggers),
			"checks":   len(strategy.Checks),
		},
	})
	return nil
}

// startLocked starts the poller and the trigger subscription; callers hold mu
func (m *Manager) startLocked() error {
	if err := m.poller.Start(m.strategy.Checks, m.publishDegraded); err != nil {
		return err
	}
	if m.strategy.Mode.AutoFailover() {
		m.unsubscribe = m.bus.Subscribe(events.TypeHealthDegraded, m.handleDegraded)
	}
	return nil
}

// stopLocked reverses startLocked; callers hold mu
func (m *Manager) stopLocked() {
	m.poller.Stop()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Manager) publishDegraded(ctx context.Context, target string, st health.Status) {
	m.bus.Publish(ctx, events.Event{
		Type:    events.TypeHealthDegraded,
		Target:  target,
		Message: fmt.Sprintf("%s is %s (score %.0f)", target, st.State, st.Score),
		Health:  &st,
	})
}

// handleDegraded runs on the polling goroutine and must not take mu. The
// orchestrator guard is claimed before the trigger counts as fired, so a
// second critical target in the same round sees the run in flight.
func (m *Manager) handleDegraded(_ context.Context, e events.Event) {
	if e.Health == nil {
		return
	}

	var run *failover.Run
	claim := func() bool {
		r, err := m.orchestrator.Begin()
		if err != nil {
			return false
		}
		run = r
		return true
	}
	if !m.evaluator.Fire(e.Target, *e.Health, claim) {
		return
	}

	reason := fmt.Sprintf("%s health %s (score %.0f)", e.Target, e.Health.State, e.Health.Score)
	m.logger.Warn("automatic failover triggered",
		zap.String("target", e.Target),
		zap.Float64("score", e.Health.Score))

	m.pending.Add(1)
	go func() {
		defer m.pending.Add(-1)
		m.runAutomatic(run, e.Target, reason)
	}()
}

// runAutomatic is detached from the polling context so that stopping the
// poller never cancels a run
func (m *Manager) runAutomatic(run *failover.Run, degraded, reason string) {
	ctx := context.Background()
	defer run.Release()
	defer func() {
		if r := recover(); r != nil {
			m.failAutomatic(ctx, degraded, fmt.Errorf("automatic failover panicked: %v", r))
		}
	}()

	_, err := run.Perform(ctx, failover.Request{
		Trigger: history.TriggerAutomatic,
		Reason:  reason,
	})
	if err != nil {
		m.failAutomatic(ctx, degraded, err)
	}
}

func (m *Manager) failAutomatic(ctx context.Context, degraded string, err error) {
	m.bus.Publish(ctx, events.Event{
		Type:    events.TypeAutomaticFailoverFailed,
		Target:  degraded,
		Message: "automatic failover failed",
		Err:     err,
	})
	m.reportError(ctx, fmt.Errorf("automatic failover for %s: %w", degraded, err))
}

// PerformFailover runs a manual failover. An empty target picks the best
// healthy candidate. Cancelling ctx does not interrupt a started run.
func (m *Manager) PerformFailover(ctx context.Context, target string) (history.Record, error) {
	return m.orchestrator.PerformFailover(context.WithoutCancel(ctx), failover.Request{
		Target:  target,
		Trigger: history.TriggerManual,
		Reason:  "manual",
	})
}

// PerformRollback fails back to the primary replaced by the latest
// successful failover. Like PerformFailover it ignores cancellation of ctx.
func (m *Manager) PerformRollback(ctx context.Context, reason string) (history.Record, error) {
	return m.orchestrator.PerformRollback(context.WithoutCancel(ctx), history.TriggerManual, reason)
}

// CanFailover reports whether a failover could start now
func (m *Manager) CanFailover() bool {
	return m.orchestrator.CanFailover()
}

// CurrentPrimary returns the active primary
func (m *Manager) CurrentPrimary() string {
	return m.orchestrator.CurrentPrimary()
}

// State returns the orchestrator state
func (m *Manager) State() failover.State {
	return m.orchestrator.State()
}

// Strategy returns a copy of the active strategy
func (m *Manager) Strategy() config.Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy.Clone()
}

// GetHealthStatuses returns a copy of the registry
func (m *Manager) GetHealthStatuses() map[string]health.Status {
	return m.registry.Snapshot()
}

// History returns up to limit of the newest records, oldest first
func (m *Manager) History(limit int) []history.Record {
	return m.ledger.Recent(limit)
}

// GetMetrics summarizes history and current eligibility
func (m *Manager) GetMetrics() Metrics {
	stats := m.ledger.Stats()
	m.mu.Lock()
	mode := m.strategy.Mode
	m.mu.Unlock()

	return Metrics{
		TotalFailovers:      stats.Total,
		SuccessfulFailovers: stats.Successful,
		FailedFailovers:     stats.Failed,
		SuccessRate:         stats.SuccessRate,
		AverageDurationMs:   stats.AverageDurationMs,
		LastFailover:        stats.LastFailover,
		LastSuccess:         stats.LastSuccess,
		CanFailover:         m.orchestrator.CanFailover(),
		InFlight:            m.orchestrator.InFlight(),
		State:               m.orchestrator.State().String(),
		CurrentPrimary:      m.orchestrator.CurrentPrimary(),
		Mode:                mode,
		PendingAutomatic:    int(m.pending.Load()),
		Uptime:              m.now().Sub(m.started),
	}
}
