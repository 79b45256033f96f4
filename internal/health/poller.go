// internal/health/poller.go
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval is the period between polling rounds
const DefaultPollInterval = 5 * time.Second

// ErrPollerRunning is returned when Start is called on a running poller
var ErrPollerRunning = errors.New("health: poller already running")

// CriticalFunc is called for every target found critical in a round
type CriticalFunc func(ctx context.Context, target string, status Status)

// Poller periodically probes every check and writes the results to the
// registry
type Poller struct {
	prober   *Prober
	registry *Registry
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller. A non-positive interval selects the default.
func NewPoller(prober *Prober, registry *Registry, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		prober:   prober,
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Start begins polling checks until Stop is called. Only one loop may run
// at a time.
func (p *Poller) Start(checks []CheckSpec, onCritical CriticalFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return ErrPollerRunning
	}

	specs := make([]CheckSpec, len(checks))
	copy(specs, checks)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(ctx, specs, onCritical, p.done)

	p.logger.Info("health polling started",
		zap.Int("checks", len(specs)),
		zap.Duration("interval", p.interval))
	return nil
}

// Stop halts polling and waits for the loop to exit. A round in progress is
// cancelled and its results discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("health polling stopped")
}

// Running reports whether the loop is active
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context, checks []CheckSpec, onCritical CriticalFunc, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runRound(ctx, checks, onCritical)
		}
	}
}

// runRound probes every check concurrently. A slow or failing probe never
// holds back the others; the round completes when all have finished.
func (p *Poller) runRound(ctx context.Context, checks []CheckSpec, onCritical CriticalFunc) {
	results := make([]Status, len(checks))

	var g errgroup.Group
	for i, spec := range checks {
		g.Go(func() error {
			results[i] = p.prober.Probe(ctx, spec)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return
	}

	for i, spec := range checks {
		p.registry.Update(spec.Name, results[i])
	}

	if onCritical == nil {
		return
	}
	for i, spec := range checks {
		if results[i].IsCritical() {
			onCritical(ctx, spec.Name, results[i].Copy())
		}
	}
}
