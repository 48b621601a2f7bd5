package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/kriegsim/internal/auth"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 54 * time.Second // Must be less than pongWait
	maxMsgSize  = 4096
	sendBufSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS handled by middleware
	},
}

// WSHandler streams battle events to WebSocket clients.
type WSHandler struct {
	hub *Hub
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(hub *Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// ServeWS handles GET /api/v1/ws. A seat token makes the connection that
// seat's and subscribes it to its battle; ?battle_id= subscribes a
// spectator. Further battles are joined with subscribe messages.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	var seat *auth.Seat
	battleID := r.URL.Query().Get("battle_id")
	if s, ok := auth.SeatFromContext(r.Context()); ok {
		seat = &s
		battleID = s.BattleID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := newWSConn(conn, seat, sendBufSize)
	h.hub.Register(c)
	h.hub.Send(c, WSEvent{Type: EventConnected, BattleID: battleID, Data: map[string]string{"conn": c.label()}})
	if battleID != "" {
		h.replay(c, h.hub.Subscribe(c, battleID))
	}

	go h.writePump(c)
	go h.readPump(c)

	log.Info().Str("conn", c.label()).Str("battleId", battleID).Int("total", h.hub.ConnectionCount()).Msg("WebSocket client connected")
}

// replay sends a subscriber the latest turn of the battle it joined.
func (h *WSHandler) replay(c *WSConn, last []byte) {
	if last != nil {
		h.hub.sendRaw(c, last)
	}
}

// handleMessage applies one client message and acknowledges it.
func (h *WSHandler) handleMessage(c *WSConn, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.hub.Send(c, WSEvent{Type: EventError, Data: map[string]string{"error": "invalid message"}})
		return
	}
	if msg.BattleID == "" {
		h.hub.Send(c, WSEvent{Type: EventError, Data: map[string]string{"error": "battle_id is required"}})
		return
	}
	switch msg.Action {
	case "subscribe":
		last := h.hub.Subscribe(c, msg.BattleID)
		h.hub.Send(c, WSEvent{Type: EventSubscribed, BattleID: msg.BattleID})
		h.replay(c, last)
	case "unsubscribe":
		h.hub.Unsubscribe(c, msg.BattleID)
		h.hub.Send(c, WSEvent{Type: EventUnsubscribed, BattleID: msg.BattleID})
	default:
		h.hub.Send(c, WSEvent{Type: EventError, BattleID: msg.BattleID,
			Data: map[string]string{"error": fmt.Sprintf("unknown action %q", msg.Action)}})
	}
}

func (h *WSHandler) readPump(c *WSConn) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
		log.Info().Str("conn", c.label()).Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("conn", c.label()).Msg("WebSocket unexpected close")
			}
			return
		}
		h.handleMessage(c, raw)
	}
}

// writePump writes queued events. Whatever is queued when a frame starts
// goes into that frame, one event per line.
func (h *WSHandler) writePump(c *WSConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case first, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			frame := [][]byte{first}
			for n := len(c.send); n > 0; n-- {
				frame = append(frame, <-c.send)
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, joinLines(frame)); err != nil {
				log.Debug().Err(err).Str("conn", c.label()).Msg("WebSocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func joinLines(msgs [][]byte) []byte {
	size := len(msgs) - 1
	for _, m := range msgs {
		size += len(m)
	}
	out := make([]byte, 0, size)
	for i, m := range msgs {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, m...)
	}
	return out
}
