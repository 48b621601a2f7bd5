package handler

import "github.com/freeeve/kriegsim/internal/service"

// BroadcastBattleEvent implements service.Broadcaster. Every watcher gets
// the event; the seat that is to act next also gets a your_turn notice.
func (h *Hub) BroadcastBattleEvent(battleID string, eventType string, data any) {
	msg, ok := encodeEvent(WSEvent{Type: eventType, BattleID: battleID, Data: data})
	if !ok {
		return
	}

	switch eventType {
	case service.EventTurn:
		h.remember(battleID, msg)
		h.publish(battleID, msg, nil)
		if ev, ok := data.(service.TurnEvent); ok && !ev.Result.Outcome.Done() {
			h.notifySeat(battleID, ev.Turn+1, ev.Active)
		}
	case service.EventBattleCreated:
		h.publish(battleID, msg, nil)
		if v, ok := data.(*service.BattleView); ok {
			h.notifySeat(battleID, v.Turn, v.Active)
		}
	case service.EventBattleFinished:
		h.forget(battleID)
		h.publish(battleID, msg, nil)
	default:
		h.publish(battleID, msg, nil)
	}
}

func (h *Hub) notifySeat(battleID string, turn, player int) {
	msg, ok := encodeEvent(WSEvent{Type: EventYourTurn, BattleID: battleID, Data: YourTurn{Turn: turn, Player: player}})
	if !ok {
		return
	}
	h.publish(battleID, msg, func(c *WSConn) bool { return c.holds(battleID, player) })
}
