package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchDeliversToAllHandlers(t *testing.T) {
	d := NewDispatcher()

	var calls int64
	for i := 0; i < 3; i++ {
		d.OnPlayerJoined("counter", func(ctx context.Context, e PlayerJoined) error {
			atomic.AddInt64(&calls, 1)
			return nil
		})
	}

	d.Dispatch(context.Background(), PlayerJoined{Server: "survival", PlayerName: "Alice", Timestamp: time.Now()})
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
}

func TestDispatchWaitsForHandlers(t *testing.T) {
	d := NewDispatcher()

	done := false
	var mu sync.Mutex
	d.OnPlayerLeft("slow", func(ctx context.Context, e PlayerLeft) error {
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		done = true
		mu.Unlock()
		return nil
	})

	d.Dispatch(context.Background(), PlayerLeft{Server: "survival", PlayerName: "Alice", Timestamp: time.Now()})

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, done, "Dispatch should not return before handlers finish")
}

func TestDispatchIsolatesHandlerFailures(t *testing.T) {
	d := NewDispatcher()

	var ok int64
	d.OnPlayerChat("failing", func(ctx context.Context, e PlayerChat) error {
		return errors.New("boom")
	})
	d.OnPlayerChat("panicking", func(ctx context.Context, e PlayerChat) error {
		panic("boom")
	})
	d.OnPlayerChat("healthy", func(ctx context.Context, e PlayerChat) error {
		atomic.AddInt64(&ok, 1)
		return nil
	})

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), PlayerChat{Server: "s", PlayerName: "p", Message: "hi", Timestamp: time.Now()})
	})
	assert.Equal(t, int64(1), atomic.LoadInt64(&ok))
}

func TestDispatchOnlyMatchingKind(t *testing.T) {
	d := NewDispatcher()

	var joins, leaves int64
	d.OnPlayerJoined("j", func(ctx context.Context, e PlayerJoined) error {
		atomic.AddInt64(&joins, 1)
		return nil
	})
	d.OnPlayerLeft("l", func(ctx context.Context, e PlayerLeft) error {
		atomic.AddInt64(&leaves, 1)
		return nil
	})

	d.Dispatch(context.Background(), PlayerJoined{Server: "s", PlayerName: "p", Timestamp: time.Now()})
	d.Dispatch(context.Background(), PlayerJoined{Server: "s", PlayerName: "q", Timestamp: time.Now()})

	assert.Equal(t, int64(2), atomic.LoadInt64(&joins))
	assert.Equal(t, int64(0), atomic.LoadInt64(&leaves))
}

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Record(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func TestSinkSeesEveryEvent(t *testing.T) {
	d := NewDispatcher()
	sink := &captureSink{}
	d.SetSink(sink)

	d.Dispatch(context.Background(), ServerStopping{Server: "survival", Timestamp: time.Now()})
	d.Dispatch(context.Background(), PlayerJoined{Server: "survival", PlayerName: "Alice", Timestamp: time.Now()})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 2)
	assert.Equal(t, KindServerStopping, sink.events[0].EventKind())
	assert.Equal(t, KindPlayerJoined, sink.events[1].EventKind())
}
