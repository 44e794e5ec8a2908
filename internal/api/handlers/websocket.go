package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	ws "github.com/stay-ledger/backend/internal/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard may be served from another origin.
		return true
	},
}

// WebSocketUpgrade returns a handler that upgrades HTTP connections to WebSocket.
func WebSocketUpgrade(hub *ws.Hub, logger *slog.Logger) http.HandlerFunc {
	logger = logger.With("component", "websocket")
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		client := ws.NewClient(hub)
		hub.Register(client)

		go writePump(conn, client)
		go readPump(conn, client, hub, logger)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func writePump(conn *websocket.Conn, client *ws.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps messages from the WebSocket connection to the hub.
func readPump(conn *websocket.Conn, client *ws.Client, hub *ws.Hub, logger *slog.Logger) {
	defer func() {
		hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(65536)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if reply := handleClientMessage(message); reply != nil {
			client.Reply(reply)
		}
	}
}

// handleClientMessage answers client commands. Only ping is understood.
func handleClientMessage(message []byte) []byte {
	var in struct {
		Type ws.MessageType `json:"type"`
	}

	var out ws.Message
	switch err := json.Unmarshal(message, &in); {
	case err != nil:
		out = ws.NewMessage(ws.TypeError, ws.ErrorPayload{Code: "bad_message", Message: "message is not valid JSON"})
	case in.Type == ws.TypePing:
		out = ws.NewMessage(ws.TypePong, nil)
	default:
		out = ws.NewMessage(ws.TypeError, ws.ErrorPayload{
			Code:         "unknown_type",
			Message:      "unsupported message type",
			OriginalType: string(in.Type),
		})
	}

	data, err := out.JSON()
	if err != nil {
		return nil
	}
	return data
}
