package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/pkg/errs"
)

type PlayerHandler struct {
	players *repository.PlayerRepository
}

func NewPlayerHandler(players *repository.PlayerRepository) *PlayerHandler {
	return &PlayerHandler{players: players}
}

// Online returns currently online players grouped by server
func (h *PlayerHandler) Online(c *gin.Context) {
	grouped, err := h.players.OnlineGroupedByServer()
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"online": grouped})
}

// Profile returns a player's identity, recent sessions, chat,
// achievements and total playtime.
func (h *PlayerHandler) Profile(c *gin.Context) {
	player, err := h.players.FindByUUID(c.Param("uuid"))
	if err != nil {
		fail(c, err)
		return
	}
	if player == nil {
		fail(c, errs.NotFound("unknown player %s", c.Param("uuid")))
		return
	}

	limit := intQuery(c, "limit", 50)
	sessions, err := h.players.SessionsForPlayer(player.ID, limit)
	if err != nil {
		fail(c, err)
		return
	}
	chat, err := h.players.ChatForPlayer(player.ID, limit)
	if err != nil {
		fail(c, err)
		return
	}
	achievements, err := h.players.AchievementsForPlayer(player.ID)
	if err != nil {
		fail(c, err)
		return
	}
	playtime, err := h.players.TotalPlaytimeSeconds(player.ID)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{
		"player":               player,
		"sessions":             sessions,
		"chat":                 chat,
		"achievements":         achievements,
		"totalPlaytimeSeconds": playtime,
	})
}

// Avatar serves the stored 8x8 face crop
func (h *PlayerHandler) Avatar(c *gin.Context) {
	player, err := h.players.FindByUUID(c.Param("uuid"))
	if err != nil {
		fail(c, err)
		return
	}
	if player == nil || len(player.AvatarPNG) == 0 {
		fail(c, errs.NotFound("no avatar stored for %s", c.Param("uuid")))
		return
	}
	c.Data(http.StatusOK, "image/png", player.AvatarPNG)
}

// Skin serves the stored full skin texture
func (h *PlayerHandler) Skin(c *gin.Context) {
	player, err := h.players.FindByUUID(c.Param("uuid"))
	if err != nil {
		fail(c, err)
		return
	}
	if player == nil || len(player.SkinPNG) == 0 {
		fail(c, errs.NotFound("no skin stored for %s", c.Param("uuid")))
		return
	}
	c.Data(http.StatusOK, "image/png", player.SkinPNG)
}
