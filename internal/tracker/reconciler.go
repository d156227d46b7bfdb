package tracker

import (
	"context"
	"time"

	"github.com/mcadmin/mc-admin/internal/events"
	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// ReconcileLeaveReason marks sessions closed because the server's
// authoritative player list no longer contains the player
const ReconcileLeaveReason = "Reconciliation"

// OnlineSource exposes the authoritative online player sets. The
// supervisor implements it: healthy instances answer RCON list.
type OnlineSource interface {
	HealthyInstanceIDs(ctx context.Context) []string
	OnlinePlayers(ctx context.Context, instanceID string) ([]string, error)
}

// Reconciler periodically compares each healthy server's authoritative
// player list against the open sessions in the database and emits
// synthetic join and leave events for the difference. One server's
// failure never blocks the others.
type Reconciler struct {
	players    *repository.PlayerRepository
	source     OnlineSource
	dispatcher *events.Dispatcher
	interval   time.Duration

	stop chan struct{}
	done chan struct{}
	kick chan struct{}
}

func NewReconciler(players *repository.PlayerRepository, source OnlineSource, dispatcher *events.Dispatcher, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		players:    players,
		source:     source,
		dispatcher: dispatcher,
		interval:   interval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		kick:       make(chan struct{}, 1),
	}
}

// Register subscribes the crash trigger: a detected crash forces an
// immediate reconcile pass on top of the periodic one.
func (r *Reconciler) Register() {
	r.dispatcher.OnSystemCrashDetected("reconciler", func(_ context.Context, _ events.SystemCrashDetected) error {
		r.Trigger()
		return nil
	})
}

// Trigger requests an immediate pass; coalesces if one is pending
func (r *Reconciler) Trigger() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Start begins the periodic reconcile loop
func (r *Reconciler) Start(ctx context.Context) {
	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Reconcile(ctx)
			case <-r.kick:
				r.Reconcile(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit
func (r *Reconciler) Stop() {
	close(r.stop)
	<-r.done
}

// Reconcile runs one pass over every healthy server
func (r *Reconciler) Reconcile(ctx context.Context) {
	openByServer, err := r.openSessionNames()
	if err != nil {
		logger.Error("reconcile skipped, could not read open sessions", err, nil)
		return
	}

	for _, serverID := range r.source.HealthyInstanceIDs(ctx) {
		if err := r.reconcileServer(ctx, serverID, openByServer[serverID]); err != nil {
			logger.Error("reconcile failed for server", err, map[string]interface{}{
				"server": serverID,
			})
		}
	}
}

func (r *Reconciler) reconcileServer(ctx context.Context, serverID string, openNames map[string]bool) error {
	actual, err := r.source.OnlinePlayers(ctx, serverID)
	if err != nil {
		return err
	}

	actualSet := make(map[string]bool, len(actual))
	now := time.Now()

	for _, name := range actual {
		actualSet[name] = true
		if !openNames[name] {
			logger.Info("reconciler: player online without session, opening", map[string]interface{}{
				"server": serverID,
				"player": name,
			})
			r.dispatcher.Dispatch(ctx, events.PlayerJoined{
				Server:     serverID,
				PlayerName: name,
				Timestamp:  now,
			})
		}
	}

	for name := range openNames {
		if !actualSet[name] {
			logger.Info("reconciler: session without online player, closing", map[string]interface{}{
				"server": serverID,
				"player": name,
			})
			r.dispatcher.Dispatch(ctx, events.PlayerLeft{
				Server:     serverID,
				PlayerName: name,
				Reason:     ReconcileLeaveReason,
				Timestamp:  now,
			})
		}
	}
	return nil
}

// openSessionNames groups the open-session player names by server id
func (r *Reconciler) openSessionNames() (map[string]map[string]bool, error) {
	entries, err := r.players.OpenSessionEntries()
	if err != nil {
		return nil, err
	}
	grouped := make(map[string]map[string]bool)
	for _, entry := range entries {
		if grouped[entry.ServerID] == nil {
			grouped[entry.ServerID] = make(map[string]bool)
		}
		grouped[entry.ServerID][entry.PlayerName] = true
	}
	return grouped, nil
}
