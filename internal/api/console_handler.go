package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mcadmin/mc-admin/internal/console"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

type ConsoleHandler struct {
	bridge   *console.Bridge
	upgrader websocket.Upgrader
}

func NewConsoleHandler(bridge *console.Bridge) *ConsoleHandler {
	return &ConsoleHandler{
		bridge: bridge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Stream upgrades to WebSocket and serves a live console session
func (h *ConsoleHandler) Stream(c *gin.Context) {
	instanceID := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", err, map[string]interface{}{
			"instance": instanceID,
		})
		return
	}
	defer conn.Close()

	h.bridge.Serve(c.Request.Context(), conn, instanceID)
}
