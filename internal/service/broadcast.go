package service

// Event types pushed to battle subscribers.
const (
	EventBattleCreated  = "battle_created"
	EventTurn           = "turn"
	EventBattleFinished = "battle_finished"
)

// Broadcaster sends real-time events to connected clients.
// Implemented by the WebSocket hub.
type Broadcaster interface {
	BroadcastBattleEvent(battleID string, eventType string, data any)
}

// NoopBroadcaster is a no-op implementation for testing or when WS is disabled.
type NoopBroadcaster struct{}

func (NoopBroadcaster) BroadcastBattleEvent(string, string, any) {}
