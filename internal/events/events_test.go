package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := NewBus(10, zap.NewNop())

	var got []Type
	bus.Subscribe(TypeFailoverStarted, func(ctx context.Context, e Event) {
		got = append(got, e.Type)
	})
	bus.Subscribe(All, func(ctx context.Context, e Event) {
		got = append(got, "all:"+e.Type)
	})

	bus.Publish(context.Background(), Event{Type: TypeFailoverStarted})
	bus.Publish(context.Background(), Event{Type: TypeShutdown})

	assert.Equal(t, []Type{TypeFailoverStarted, "all:" + TypeFailoverStarted, "all:" + TypeShutdown}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10, zap.NewNop())

	calls := 0
	unsubscribe := bus.Subscribe(TypeHealthDegraded, func(ctx context.Context, e Event) { calls++ })

	bus.Publish(context.Background(), Event{Type: TypeHealthDegraded})
	unsubscribe()
	unsubscribe()
	bus.Publish(context.Background(), Event{Type: TypeHealthDegraded})

	assert.Equal(t, 1, calls)
}

func TestBus_StampsEvents(t *testing.T) {
	bus := NewBus(10, zap.NewNop())

	var seen Event
	bus.Subscribe(TypeError, func(ctx context.Context, e Event) { seen = e })
	bus.Publish(context.Background(), Event{Type: TypeError, Err: errors.New("boom")})

	assert.NotEmpty(t, seen.ID)
	assert.False(t, seen.Timestamp.IsZero())
	assert.Equal(t, "boom", seen.Error)
}

func TestBus_RecentIsBounded(t *testing.T) {
	bus := NewBus(3, zap.NewNop())
	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), Event{Type: TypeConfigUpdated, Message: string(rune('a' + i))})
	}

	recent := bus.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].Message)
	assert.Equal(t, "e", recent[2].Message)
	assert.Len(t, bus.Recent(1), 1)
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewBus(10, zap.NewNop())

	reached := false
	bus.Subscribe(TypeError, func(ctx context.Context, e Event) { panic("bad handler") })
	bus.Subscribe(TypeError, func(ctx context.Context, e Event) { reached = true })

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), Event{Type: TypeError})
	})
	assert.True(t, reached)
}

func TestEventLogger_LevelsByType(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	el := NewEventLogger(zap.New(core))

	el.Handle(context.Background(), Event{Type: TypeFailoverCompleted, Target: "us-west"})
	el.Handle(context.Background(), Event{Type: TypeFailoverFailed, Target: "us-west"})
	el.Handle(context.Background(), Event{Type: TypeHealthDegraded, Target: "us-east"})
	el.Close()

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, zap.WarnLevel, entries[2].Level)
}
