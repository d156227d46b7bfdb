package tracker

import (
	"context"

	"github.com/mcadmin/mc-admin/internal/events"
	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// ChatTracker records chat messages and earned achievements
type ChatTracker struct {
	players    *repository.PlayerRepository
	servers    *repository.ServerRepository
	identities *IdentityManager
	dispatcher *events.Dispatcher
}

func NewChatTracker(players *repository.PlayerRepository, servers *repository.ServerRepository, identities *IdentityManager, dispatcher *events.Dispatcher) *ChatTracker {
	return &ChatTracker{
		players:    players,
		servers:    servers,
		identities: identities,
		dispatcher: dispatcher,
	}
}

// Register subscribes the tracker's handlers on the dispatcher
func (t *ChatTracker) Register() {
	t.dispatcher.OnPlayerChat("chat", t.onChat)
	t.dispatcher.OnPlayerAchievement("chat", t.onAchievement)
}

func (t *ChatTracker) onChat(_ context.Context, e events.PlayerChat) error {
	player, err := t.identities.Resolve(e.PlayerName)
	if err != nil {
		logger.Warn("could not resolve chatting player, dropping", map[string]interface{}{
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

	return t.players.InsertChat(player.ID, server.ID, e.Message, e.Timestamp)
}

func (t *ChatTracker) onAchievement(_ context.Context, e events.PlayerAchievement) error {
	player, err := t.identities.Resolve(e.PlayerName)
	if err != nil {
		logger.Warn("could not resolve achieving player, dropping", map[string]interface{}{
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

	return t.players.InsertAchievement(player.ID, server.ID, e.Achievement, e.Timestamp)
}
