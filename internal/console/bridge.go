package console

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcadmin/mc-admin/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Message is one WebSocket frame in either direction
type Message struct {
	Type    string `json:"type"` // "log", "command", "response", "error"
	Content string `json:"content"`
}

// CommandSender is the slice of the supervisor the console needs
type CommandSender interface {
	SendRconCommand(ctx context.Context, instanceID, command string) (string, error)
}

// Bridge serves one WebSocket console session per call: log lines from
// the hub stream out, command frames run through RCON and their
// responses stream back. All writes go through the single Serve
// goroutine.
type Bridge struct {
	hub      *Hub
	commands CommandSender
}

func NewBridge(hub *Hub, commands CommandSender) *Bridge {
	return &Bridge{hub: hub, commands: commands}
}

// Serve pumps the session until the client disconnects or the context
// ends. The caller owns the connection and closes it afterwards.
func (b *Bridge) Serve(ctx context.Context, conn *websocket.Conn, instanceID string) {
	lines, cancel := b.hub.Subscribe(instanceID)
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	outbound := make(chan Message, 16)
	done := make(chan struct{})
	stopped := make(chan struct{})
	defer close(stopped)
	go b.readCommands(ctx, conn, instanceID, outbound, done, stopped)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := b.write(conn, Message{Type: "log", Content: line}); err != nil {
				return
			}
		case msg := <-outbound:
			if err := b.write(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (b *Bridge) write(conn *websocket.Conn, msg Message) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// readCommands forwards "command" frames to RCON, queueing responses on
// the outbound channel. It owns no writes itself and exits once the
// serve loop has stopped draining outbound.
func (b *Bridge) readCommands(ctx context.Context, conn *websocket.Conn, instanceID string, outbound chan<- Message, done chan<- struct{}, stopped <-chan struct{}) {
	defer close(done)
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("console read failed", err, map[string]interface{}{
					"instance": instanceID,
				})
			}
			return
		}
		if msg.Type != "command" {
			continue
		}

		response, err := b.commands.SendRconCommand(ctx, instanceID, msg.Content)
		if err != nil {
			logger.Error("console command failed", err, map[string]interface{}{
				"instance": instanceID,
				"command":  msg.Content,
			})
			if !b.queue(outbound, stopped, Message{Type: "error", Content: err.Error()}) {
				return
			}
			continue
		}
		if !b.queue(outbound, stopped, Message{Type: "response", Content: response}) {
			return
		}
	}
}

// queue offers a message to the serve loop, giving up when the session
// has ended
func (b *Bridge) queue(outbound chan<- Message, stopped <-chan struct{}, msg Message) bool {
	select {
	case outbound <- msg:
		return true
	case <-stopped:
		return false
	}
}
