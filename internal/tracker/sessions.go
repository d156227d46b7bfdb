package tracker

import (
	"context"

	"github.com/mcadmin/mc-admin/internal/events"
	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// SessionTracker opens a session on join and closes the most recent
// open one on leave. Open-session uniqueness is not enforced in the
// schema; duplicate joins append and readers pick the newest row.
type SessionTracker struct {
	players    *repository.PlayerRepository
	servers    *repository.ServerRepository
	identities *IdentityManager
	dispatcher *events.Dispatcher
}

func NewSessionTracker(players *repository.PlayerRepository, servers *repository.ServerRepository, identities *IdentityManager, dispatcher *events.Dispatcher) *SessionTracker {
	return &SessionTracker{
		players:    players,
		servers:    servers,
		identities: identities,
		dispatcher: dispatcher,
	}
}

// Register subscribes the tracker's handlers on the dispatcher
func (t *SessionTracker) Register() {
	t.dispatcher.OnPlayerJoined("sessions", t.onJoined)
	t.dispatcher.OnPlayerLeft("sessions", t.onLeft)
	t.dispatcher.OnServerStopping("sessions", t.onServerStopping)
}

func (t *SessionTracker) onJoined(_ context.Context, e events.PlayerJoined) error {
	player, err := t.identities.Resolve(e.PlayerName)
	if err != nil {
		logger.Warn("could not resolve joining player, no session opened", map[string]interface{}{
			"player": e.PlayerName,
			"server": e.Server,
			"reason": err.Error(),
		})
		return nil
	}

	server, err := t.servers.EnsureActive(e.Server)
	if err != nil {
		return err
	}

	_, err = t.players.OpenSession(player.ID, server.ID, e.Timestamp)
	return err
}

func (t *SessionTracker) onLeft(_ context.Context, e events.PlayerLeft) error {
	player, err := t.players.FindByName(e.PlayerName)
	if err != nil {
		return err
	}
	if player == nil {
		logger.Warn("leave event for unknown player, dropping", map[string]interface{}{
			"player": e.PlayerName,
			"server": e.Server,
		})
		return nil
	}

	server, err := t.servers.EnsureActive(e.Server)
	if err != nil {
		return err
	}

	session, err := t.players.LatestOpenSession(player.ID, server.ID)
	if err != nil {
		return err
	}
	if session == nil {
		logger.Warn("leave event without open session, dropping", map[string]interface{}{
			"player": e.PlayerName,
			"server": e.Server,
			"reason": e.Reason,
		})
		return nil
	}

	return t.players.CloseSession(session, e.Timestamp)
}

func (t *SessionTracker) onServerStopping(_ context.Context, e events.ServerStopping) error {
	server, err := t.servers.FindActive(e.Server)
	if err != nil {
		return err
	}
	if server == nil {
		return nil
	}

	sessions, err := t.players.OpenSessionsOnServer(server.ID)
	if err != nil {
		return err
	}

	for i := range sessions {
		if err := t.players.CloseSession(&sessions[i], e.Timestamp); err != nil {
			return err
		}
	}
	if len(sessions) > 0 {
		logger.Info("closed open sessions on server stop", map[string]interface{}{
			"server": e.Server,
			"count":  len(sessions),
		})
	}
	return nil
}
