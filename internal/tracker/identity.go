// Package tracker derives persistent player state from the event
// stream: identities, sessions, chat, achievements, skins and crash
// recovery. Each collaborator is a pure event handler; they never call
// each other directly.
package tracker

import (
	"context"
	"sync"

	"github.com/mcadmin/mc-admin/internal/events"
	"github.com/mcadmin/mc-admin/internal/models"
	"github.com/mcadmin/mc-admin/internal/mojang"
	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/pkg/errs"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// ProfileService resolves player names to UUID profiles
type ProfileService interface {
	LookupProfile(name string) (*mojang.Profile, error)
}

// IdentityManager keeps the name-to-UUID mapping current and requests
// skin refreshes on join. The tracker is best-effort: profile service
// failures log and drop the event.
type IdentityManager struct {
	players    *repository.PlayerRepository
	profiles   ProfileService
	dispatcher *events.Dispatcher

	// Serializes resolve-or-create so a join's concurrent handlers do
	// not race on inserting the same player.
	mu sync.Mutex
}

func NewIdentityManager(players *repository.PlayerRepository, profiles ProfileService, dispatcher *events.Dispatcher) *IdentityManager {
	return &IdentityManager{
		players:    players,
		profiles:   profiles,
		dispatcher: dispatcher,
	}
}

// Register subscribes the manager's handlers on the dispatcher
func (m *IdentityManager) Register() {
	m.dispatcher.OnPlayerUuidDiscovered("identity", m.onUuidDiscovered)
	m.dispatcher.OnPlayerJoined("identity", m.onJoined)
}

func (m *IdentityManager) onUuidDiscovered(_ context.Context, e events.PlayerUuidDiscovered) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.players.UpsertByUUID(e.UUID, e.PlayerName)
	return err
}

func (m *IdentityManager) onJoined(ctx context.Context, e events.PlayerJoined) error {
	player, err := m.Resolve(e.PlayerName)
	if err != nil {
		logger.Warn("could not resolve joining player, dropping", map[string]interface{}{
			"player": e.PlayerName,
			"server": e.Server,
			"reason": err.Error(),
		})
		return nil
	}

	m.dispatcher.DispatchAsync(ctx, events.PlayerSkinUpdateRequested{
		PlayerID:   player.ID,
		UUID:       player.UUID,
		PlayerName: player.CurrentName,
		Timestamp:  e.Timestamp,
	})
	return nil
}

// Resolve returns the player currently using the given name, creating
// the row via a profile lookup when the name is unknown. Shared with
// the session and chat trackers.
func (m *IdentityManager) Resolve(name string) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	player, err := m.players.FindByName(name)
	if err != nil {
		return nil, err
	}
	if player != nil {
		return player, nil
	}

	profile, err := m.profiles.LookupProfile(name)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, errs.NotFound("no profile for player %s", name)
	}
	return m.players.UpsertByUUID(profile.ID, name)
}
