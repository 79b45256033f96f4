package events

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// EventLogger writes every notification to the log from a background
// goroutine so publishers never block on logging
type EventLogger struct {
	logger *zap.Logger
	buffer chan Event
	done   chan struct{}
	once   sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewEventLogger creates a logger and starts its worker
func NewEventLogger(logger *zap.Logger) *EventLogger {
	el := &EventLogger{
		logger: logger,
		buffer: make(chan Event, 1000),
		done:   make(chan struct{}),
	}
	go el.process()
	return el
}

// Handle enqueues the event; it is a bus Handler
func (el *EventLogger) Handle(_ context.Context, event Event) {
	el.mu.RLock()
	defer el.mu.RUnlock()
	if el.closed {
		return
	}
	select {
	case el.buffer <- event:
	default:
		el.logger.Warn("Event buffer full, dropping event", zap.String("type", string(event.Type)))
	}
}

// Close drains the buffer and stops the worker
func (el *EventLogger) Close() {
	el.once.Do(func() {
		el.mu.Lock()
		el.closed = true
		close(el.buffer)
		el.mu.Unlock()
		<-el.done
	})
}

func (el *EventLogger) process() {
	defer close(el.done)
	for event := range el.buffer {
		data, _ := json.Marshal(event)
		fields := []zap.Field{
			zap.String("type", string(event.Type)),
			zap.String("target", event.Target),
			zap.String("data", string(data)),
		}

		switch event.Type {
		case TypeFailoverFailed, TypeAutomaticFailoverFailed, TypeError:
			el.logger.Error("event", fields...)
		case TypeHealthDegraded:
			el.logger.Warn("event", fields...)
		default:
			el.logger.Info("event", fields...)
		}
	}
}
