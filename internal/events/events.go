package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/failoverd/internal/health"
	"github.com/FairForge/failoverd/internal/history"
)

// Type categorizes notifications
type Type string

const (
	TypeInitialized             Type = "initialized"
	TypeShutdown                Type = "shutdown"
	TypeHealthDegraded          Type = "health-degraded"
	TypeFailoverStarted         Type = "failover-started"
	TypeFailoverCompleted       Type = "failover-completed"
	TypeFailoverFailed          Type = "failover-failed"
	TypeAutomaticFailoverFailed Type = "automatic-failover-failed"
	TypeConfigUpdated           Type = "config-updated"
	TypeError                   Type = "error"

	// All subscribes to every type
	All Type = "*"
)

// Event is a notification published on the bus
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Target    string                 `json:"target,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Health    *health.Status         `json:"health,omitempty"`
	Record    *history.Record        `json:"record,omitempty"`
	Err       error                  `json:"-"`
	Error     string                 `json:"error,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Handler processes events
type Handler func(ctx context.Context, event Event)

// Publisher is the publishing side of the bus
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Bus is an in-process publish/subscribe channel. Handlers run
// synchronously on the publishing goroutine in subscription order.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[Type]map[uint64]Handler
	order     []uint64
	nextID    uint64
	events    []Event
	maxEvents int
	logger    *zap.Logger
}

// NewBus creates a bus that keeps the last maxEvents events
func NewBus(maxEvents int, logger *zap.Logger) *Bus {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers:  make(map[Type]map[uint64]Handler),
		events:    make([]Event, 0, maxEvents),
		maxEvents: maxEvents,
		logger:    logger,
	}
}

// Subscribe registers a handler for one type (or All). The returned func
// removes it.
func (b *Bus) Subscribe(t Type, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[t] == nil {
		b.handlers[t] = make(map[uint64]Handler)
	}
	b.handlers[t][id] = h
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[t], id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish stamps the event, stores it for Recent and notifies handlers
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Err != nil && event.Error == "" {
		event.Error = event.Err.Error()
	}

	b.mu.Lock()
	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		b.events = b.events[1:] // Remove oldest
	}
	handlers := b.matching(event.Type)
	b.mu.Unlock()

	for _, h := range handlers {
		b.dispatch(ctx, h, event)
	}
}

// matching returns handlers in subscription order; callers hold the lock
func (b *Bus) matching(t Type) []Handler {
	var result []Handler
	for _, id := range b.order {
		if h, ok := b.handlers[t][id]; ok {
			result = append(result, h)
			continue
		}
		if h, ok := b.handlers[All][id]; ok {
			result = append(result, h)
		}
	}
	return result
}

func (b *Bus) dispatch(ctx context.Context, h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("type", string(event.Type)),
				zap.Any("panic", r))
		}
	}()
	h(ctx, event)
}

// Recent returns up to limit of the newest events, oldest first
func (b *Bus) Recent(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > len(b.events) {
		limit = len(b.events)
	}
	result := make([]Event, limit)
	copy(result, b.events[len(b.events)-limit:])
	return result
}
