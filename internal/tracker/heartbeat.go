package tracker

import (
	"context"
	"time"

	"github.com/mcadmin/mc-admin/internal/events"
	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// CrashLeaveReason marks sessions closed by crash recovery
const CrashLeaveReason = "System crash"

// Heartbeat writes a liveness timestamp on an interval and, at boot,
// detects a previous crash from the gap since the last write. Sessions
// left open across a crash are closed via synthetic PlayerLeft events
// carrying the pre-crash timestamp, so durations stay honest.
type Heartbeat struct {
	players    *repository.PlayerRepository
	dispatcher *events.Dispatcher
	interval   time.Duration
	threshold  time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewHeartbeat(players *repository.PlayerRepository, dispatcher *events.Dispatcher, interval, crashThreshold time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = time.Minute
	}
	if crashThreshold <= 0 {
		crashThreshold = 5 * time.Minute
	}
	return &Heartbeat{
		players:    players,
		dispatcher: dispatcher,
		interval:   interval,
		threshold:  crashThreshold,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// RecoverFromCrash runs once at boot, before the ticker starts. A
// missing heartbeat row means first boot and is a no-op.
func (h *Heartbeat) RecoverFromCrash(ctx context.Context) error {
	last, err := h.players.LastHeartbeat()
	if err != nil {
		return err
	}
	if last == nil {
		logger.Info("no previous heartbeat, first boot", nil)
		return nil
	}

	elapsed := time.Since(*last)
	if elapsed < h.threshold {
		return nil
	}

	entries, err := h.players.OpenSessionEntries()
	if err != nil {
		return err
	}

	logger.Warn("crash detected, closing stale sessions", map[string]interface{}{
		"last_heartbeat":  last.Format(time.RFC3339),
		"elapsed_seconds": int64(elapsed.Seconds()),
		"open_sessions":   len(entries),
	})

	for _, entry := range entries {
		h.dispatcher.Dispatch(ctx, events.PlayerLeft{
			Server:     entry.ServerID,
			PlayerName: entry.PlayerName,
			Reason:     CrashLeaveReason,
			Timestamp:  *last,
		})
	}

	h.dispatcher.Dispatch(ctx, events.SystemCrashDetected{
		LastHeartbeat:  *last,
		ElapsedSeconds: int64(elapsed.Seconds()),
		Timestamp:      time.Now(),
	})
	return nil
}

// Start begins the periodic heartbeat write. The first write happens
// immediately.
func (h *Heartbeat) Start() {
	go func() {
		defer close(h.done)

		h.beat()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				h.beat()
			}
		}
	}()
}

// Stop halts the ticker and waits for the loop to exit
func (h *Heartbeat) Stop() {
	close(h.stop)
	<-h.done
}

func (h *Heartbeat) beat() {
	if err := h.players.UpsertHeartbeat(time.Now()); err != nil {
		logger.Error("failed to write heartbeat", err, nil)
	}
}
