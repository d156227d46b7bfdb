// Package console fans live server log lines out to WebSocket clients
// and feeds typed console commands back through RCON.
package console

import (
	"sync"

	"github.com/mcadmin/mc-admin/pkg/logger"
)

const defaultBuffer = 256

// Hub distributes log lines to per-instance subscribers. Delivery is
// best-effort: a subscriber that cannot keep up loses lines rather than
// stalling the monitor.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan string]struct{}
	buffer int
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[chan string]struct{}),
		buffer: defaultBuffer,
	}
}

// Publish delivers a line to every subscriber of the instance. Never
// blocks; full subscriber buffers drop the line.
func (h *Hub) Publish(instanceID, line string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[instanceID] {
		select {
		case ch <- line:
		default:
			logger.Debug("console subscriber lagging, line dropped", map[string]interface{}{
				"instance": instanceID,
			})
		}
	}
}

// Subscribe returns a line channel for one instance and a cancel that
// detaches and closes it.
func (h *Hub) Subscribe(instanceID string) (<-chan string, func()) {
	ch := make(chan string, h.buffer)

	h.mu.Lock()
	if h.subs[instanceID] == nil {
		h.subs[instanceID] = make(map[chan string]struct{})
	}
	h.subs[instanceID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[instanceID][ch]; !ok {
			return
		}
		delete(h.subs[instanceID], ch)
		if len(h.subs[instanceID]) == 0 {
			delete(h.subs, instanceID)
		}
		close(ch)
	}
	return ch, cancel
}

// Subscribers reports the subscriber count for an instance
func (h *Hub) Subscribers(instanceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[instanceID])
}
