package handler

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/kriegsim/internal/auth"
)

// Connection-level event types. Battle events use the service event names.
const (
	EventConnected    = "connected"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventError        = "error"
	// EventYourTurn goes only to connections holding the seat to act.
	EventYourTurn = "your_turn"
)

// WSEvent is the envelope for all WebSocket messages.
type WSEvent struct {
	Type     string `json:"type"`
	BattleID string `json:"battle_id"`
	Data     any    `json:"data"`
}

// ClientMessage is the envelope for messages sent from the client.
type ClientMessage struct {
	Action   string `json:"action"` // "subscribe" or "unsubscribe"
	BattleID string `json:"battle_id"`
}

// YourTurn is the payload of EventYourTurn.
type YourTurn struct {
	Turn   int `json:"turn"`
	Player int `json:"player"`
}

// WSConn is one WebSocket client. A connection opened with a seat token
// holds that seat; everyone else watches.
type WSConn struct {
	conn *websocket.Conn
	seat *auth.Seat
	send chan []byte
}

func newWSConn(conn *websocket.Conn, seat *auth.Seat, buf int) *WSConn {
	return &WSConn{conn: conn, seat: seat, send: make(chan []byte, buf)}
}

func (c *WSConn) label() string {
	if c.seat == nil {
		return "spectator"
	}
	return fmt.Sprintf("%s/%d", c.seat.BattleID, c.seat.Player)
}

func (c *WSConn) holds(battleID string, player int) bool {
	return c.seat != nil && c.seat.BattleID == battleID && c.seat.Player == player
}

// offer queues msg without blocking; a full buffer drops it.
func (c *WSConn) offer(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Hub routes battle events to the connections watching each battle. It
// remembers the latest turn of every running battle so a late subscriber
// starts from the current position instead of waiting for the next move.
type Hub struct {
	mu     sync.RWMutex
	conns  map[*WSConn]struct{}
	rooms  map[string]map[*WSConn]struct{}
	latest map[string][]byte
}

func NewHub() *Hub {
	return &Hub{
		conns:  make(map[*WSConn]struct{}),
		rooms:  make(map[string]map[*WSConn]struct{}),
		latest: make(map[string][]byte),
	}
}

func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

// Unregister drops c from every room and closes its send queue. Calling it
// twice is harmless.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	for battleID := range h.rooms {
		h.leave(c, battleID)
	}
	close(c.send)
}

// Subscribe puts c in the room of battleID. It returns the latest turn
// event of the battle, if any, for the caller to replay after its ack.
func (h *Hub) Subscribe(c *WSConn, battleID string) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[battleID]
	if room == nil {
		room = make(map[*WSConn]struct{})
		h.rooms[battleID] = room
	}
	room[c] = struct{}{}
	return h.latest[battleID]
}

func (h *Hub) Unsubscribe(c *WSConn, battleID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(c, battleID)
}

// leave needs h.mu held for writing.
func (h *Hub) leave(c *WSConn, battleID string) {
	room, ok := h.rooms[battleID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, battleID)
	}
}

// Send queues an event for one connection. It reports false when the
// connection is gone or its buffer is full.
func (h *Hub) Send(c *WSConn, event WSEvent) bool {
	msg, ok := encodeEvent(event)
	if !ok {
		return false
	}
	return h.sendRaw(c, msg)
}

func (h *Hub) sendRaw(c *WSConn, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.conns[c]; !ok {
		return false
	}
	return c.offer(msg)
}

// publish delivers msg to the room of battleID, to every member or only to
// those accepted by only.
func (h *Hub) publish(battleID string, msg []byte, only func(*WSConn) bool) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.rooms[battleID] {
		if only != nil && !only(c) {
			continue
		}
		if !c.offer(msg) {
			log.Warn().Str("conn", c.label()).Str("battleId", battleID).Msg("Dropping WebSocket message, buffer full")
			continue
		}
		n++
	}
	return n
}

func (h *Hub) remember(battleID string, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest[battleID] = msg
}

func (h *Hub) forget(battleID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.latest, battleID)
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// BattleSubscriberCount returns the number of connections watching a
// battle.
func (h *Hub) BattleSubscriberCount(battleID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[battleID])
}

func encodeEvent(event WSEvent) ([]byte, bool) {
	msg, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Str("battleId", event.BattleID).Msg("Failed to marshal WebSocket event")
		return nil, false
	}
	return msg, true
}
