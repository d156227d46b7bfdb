package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcadmin/mc-admin/pkg/logger"
)

// Sink receives a copy of every dispatched event, e.g. for archiving.
// Implementations must not block.
type Sink interface {
	Record(event Event)
}

// Dispatcher is the in-process event bus. Registration is typed per
// variant; dispatch runs every handler for the event concurrently and
// waits for all of them, logging individual failures without propagating.
// There is no persistence and no retry.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Kind][]namedHandler
	sink     Sink
}

type namedHandler struct {
	name string
	fn   func(ctx context.Context, event Event) error
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[Kind][]namedHandler),
	}
}

// SetSink attaches an archive sink. Pass nil to detach.
func (d *Dispatcher) SetSink(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

func (d *Dispatcher) register(kind Kind, name string, fn func(ctx context.Context, event Event) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], namedHandler{name: name, fn: fn})
	logger.Debug("Event handler registered", map[string]interface{}{
		"event_kind": kind,
		"handler":    name,
	})
}

// subscribe adapts a typed handler to the internal erased form
func subscribe[T Event](d *Dispatcher, kind Kind, name string, handler func(ctx context.Context, event T) error) {
	d.register(kind, name, func(ctx context.Context, event Event) error {
		return handler(ctx, event.(T))
	})
}

// Typed registration surface, one per variant.

func (d *Dispatcher) OnPlayerUuidDiscovered(name string, h func(ctx context.Context, e PlayerUuidDiscovered) error) {
	subscribe(d, KindPlayerUuidDiscovered, name, h)
}

func (d *Dispatcher) OnPlayerJoined(name string, h func(ctx context.Context, e PlayerJoined) error) {
	subscribe(d, KindPlayerJoined, name, h)
}

func (d *Dispatcher) OnPlayerLeft(name string, h func(ctx context.Context, e PlayerLeft) error) {
	subscribe(d, KindPlayerLeft, name, h)
}

func (d *Dispatcher) OnPlayerChat(name string, h func(ctx context.Context, e PlayerChat) error) {
	subscribe(d, KindPlayerChat, name, h)
}

func (d *Dispatcher) OnPlayerAchievement(name string, h func(ctx context.Context, e PlayerAchievement) error) {
	subscribe(d, KindPlayerAchievement, name, h)
}

func (d *Dispatcher) OnServerStopping(name string, h func(ctx context.Context, e ServerStopping) error) {
	subscribe(d, KindServerStopping, name, h)
}

func (d *Dispatcher) OnPlayerSkinUpdateRequested(name string, h func(ctx context.Context, e PlayerSkinUpdateRequested) error) {
	subscribe(d, KindPlayerSkinUpdateRequested, name, h)
}

func (d *Dispatcher) OnSystemCrashDetected(name string, h func(ctx context.Context, e SystemCrashDetected) error) {
	subscribe(d, KindSystemCrashDetected, name, h)
}

// Dispatch delivers the event to every registered handler and waits for
// all of them. Callers that need per-line ordering call this synchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	d.mu.RLock()
	handlers := d.handlers[event.EventKind()]
	sink := d.sink
	d.mu.RUnlock()

	if sink != nil {
		sink.Record(event)
	}

	if len(handlers) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, h := range handlers {
		go func(h namedHandler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Event handler panicked", fmt.Errorf("%v", r), map[string]interface{}{
						"event_kind": event.EventKind(),
						"handler":    h.name,
					})
				}
			}()
			if err := h.fn(ctx, event); err != nil {
				logger.Error("Event handler failed", err, map[string]interface{}{
					"event_kind": event.EventKind(),
					"handler":    h.name,
					"server":     event.EventServer(),
				})
			}
		}(h)
	}
	wg.Wait()
}

// DispatchAsync fires the event without waiting for handlers, for
// fire-and-forget emissions like skin update requests.
func (d *Dispatcher) DispatchAsync(ctx context.Context, event Event) {
	go d.Dispatch(ctx, event)
}
