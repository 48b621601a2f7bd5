package handler

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/freeeve/kriegsim/internal/auth"
	"github.com/freeeve/kriegsim/internal/service"
	"github.com/freeeve/kriegsim/pkg/battle"
)

func spectator() *WSConn {
	return newWSConn(nil, nil, 256)
}

func seatConn(battleID string, player int) *WSConn {
	return newWSConn(nil, &auth.Seat{BattleID: battleID, Player: player}, 256)
}

// drain returns the event types queued on c.
func drain(t *testing.T, c *WSConn) []string {
	t.Helper()
	var types []string
	for {
		select {
		case msg := <-c.send:
			var e WSEvent
			if err := json.Unmarshal(msg, &e); err != nil {
				t.Fatalf("bad event %s: %v", msg, err)
			}
			types = append(types, e.Type)
		default:
			return types
		}
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub()
	c := spectator()

	hub.Register(c)
	if hub.ConnectionCount() != 1 {
		t.Errorf("expected 1 connection, got %d", hub.ConnectionCount())
	}
	hub.Unregister(c)
	if hub.ConnectionCount() != 0 {
		t.Errorf("expected 0 connections, got %d", hub.ConnectionCount())
	}
	// a second unregister must not close the channel twice
	hub.Unregister(c)
}

func TestHubRooms(t *testing.T) {
	hub := NewHub()
	c := seatConn("battle-1", 0)
	hub.Register(c)
	defer hub.Unregister(c)

	hub.Subscribe(c, "battle-1")
	hub.Subscribe(c, "battle-2")
	if hub.BattleSubscriberCount("battle-1") != 1 || hub.BattleSubscriberCount("battle-2") != 1 {
		t.Fatal("expected one subscriber in each room")
	}
	hub.Unsubscribe(c, "battle-1")
	if hub.BattleSubscriberCount("battle-1") != 0 {
		t.Errorf("expected an empty room, got %d", hub.BattleSubscriberCount("battle-1"))
	}
	hub.Unregister(c)
	if hub.BattleSubscriberCount("battle-2") != 0 {
		t.Error("unregister should leave every room")
	}
}

func TestHubBroadcastStaysInRoom(t *testing.T) {
	hub := NewHub()
	watcher, other := spectator(), spectator()
	for _, c := range []*WSConn{watcher, other} {
		hub.Register(c)
		defer hub.Unregister(c)
	}
	hub.Subscribe(watcher, "battle-1")
	hub.Subscribe(other, "battle-2")

	hub.BroadcastBattleEvent("battle-1", service.EventBattleFinished, service.FinishedEvent{Turns: 9})

	if got := drain(t, watcher); len(got) != 1 || got[0] != service.EventBattleFinished {
		t.Errorf("watcher got %v", got)
	}
	if got := drain(t, other); len(got) != 0 {
		t.Errorf("other room got %v", got)
	}
}

func TestHubYourTurnGoesToSeatToAct(t *testing.T) {
	hub := NewHub()
	p0, p1, watcher, elsewhere := seatConn("battle-1", 0), seatConn("battle-1", 1), spectator(), seatConn("battle-2", 1)
	for _, c := range []*WSConn{p0, p1, watcher, elsewhere} {
		hub.Register(c)
		defer hub.Unregister(c)
		hub.Subscribe(c, "battle-1")
	}

	hub.BroadcastBattleEvent("battle-1", service.EventTurn, service.TurnEvent{Turn: 3, Player: 0, Active: 1})

	want := map[*WSConn]string{
		p0:        "turn",
		p1:        "turn,your_turn",
		watcher:   "turn",
		elsewhere: "turn",
	}
	for c, w := range want {
		if got := strings.Join(drain(t, c), ","); got != w {
			t.Errorf("%s got %q, want %q", c.label(), got, w)
		}
	}
}

func TestHubYourTurnPayload(t *testing.T) {
	hub := NewHub()
	c := seatConn("battle-1", 1)
	hub.Register(c)
	defer hub.Unregister(c)
	hub.Subscribe(c, "battle-1")

	hub.BroadcastBattleEvent("battle-1", service.EventTurn, service.TurnEvent{Turn: 3, Active: 1})
	<-c.send
	var e struct {
		Type string   `json:"type"`
		Data YourTurn `json:"data"`
	}
	if err := json.Unmarshal(<-c.send, &e); err != nil {
		t.Fatal(err)
	}
	if e.Type != EventYourTurn || e.Data != (YourTurn{Turn: 4, Player: 1}) {
		t.Errorf("unexpected notice %+v", e)
	}
}

func TestHubNoYourTurnAfterLastMove(t *testing.T) {
	hub := NewHub()
	c := seatConn("battle-1", 1)
	hub.Register(c)
	defer hub.Unregister(c)
	hub.Subscribe(c, "battle-1")

	final := battle.StepResult{Outcome: battle.Outcome{Kind: battle.Win, Winner: battle.Player0}}
	hub.BroadcastBattleEvent("battle-1", service.EventTurn, service.TurnEvent{Turn: 7, Active: 1, Result: final})
	if got := drain(t, c); len(got) != 1 || got[0] != service.EventTurn {
		t.Errorf("got %v, want only the turn", got)
	}
}

func TestHubReplaysLatestTurn(t *testing.T) {
	hub := NewHub()
	if last := hub.Subscribe(spectator(), "battle-1"); last != nil {
		t.Fatalf("nothing to replay yet, got %s", last)
	}

	hub.BroadcastBattleEvent("battle-1", service.EventTurn, service.TurnEvent{Turn: 0, Active: 1})
	hub.BroadcastBattleEvent("battle-1", service.EventTurn, service.TurnEvent{Turn: 1, Active: 0})

	var e struct {
		Type string            `json:"type"`
		Data service.TurnEvent `json:"data"`
	}
	if err := json.Unmarshal(hub.Subscribe(spectator(), "battle-1"), &e); err != nil {
		t.Fatal(err)
	}
	if e.Type != service.EventTurn || e.Data.Turn != 1 {
		t.Errorf("replayed %+v, want turn 1", e)
	}

	hub.BroadcastBattleEvent("battle-1", service.EventBattleFinished, service.FinishedEvent{Turns: 2})
	if last := hub.Subscribe(spectator(), "battle-1"); last != nil {
		t.Errorf("finished battles have nothing to replay, got %s", last)
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	c := newWSConn(nil, nil, 1)
	hub.Register(c)
	defer hub.Unregister(c)
	hub.Subscribe(c, "battle-1")

	for i := 0; i < 5; i++ {
		hub.BroadcastBattleEvent("battle-1", service.EventTurn, service.TurnEvent{Turn: i})
	}
	if len(c.send) != 1 {
		t.Errorf("expected one buffered message, got %d", len(c.send))
	}
}

func TestHubConcurrentAccess(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := seatConn("battle-1", i%2)
			hub.Register(c)
			hub.Subscribe(c, "battle-1")
			hub.BroadcastBattleEvent("battle-1", service.EventTurn, service.TurnEvent{Turn: i, Active: 1})
			hub.Unsubscribe(c, "battle-1")
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ConnectionCount() != 0 || hub.BattleSubscriberCount("battle-1") != 0 {
		t.Errorf("expected an empty hub, got %d connections", hub.ConnectionCount())
	}
}

func TestHubSend(t *testing.T) {
	hub := NewHub()
	c := newWSConn(nil, nil, 1)

	if hub.Send(c, WSEvent{Type: EventSubscribed}) {
		t.Error("Send to an unregistered connection should fail")
	}
	hub.Register(c)
	if !hub.Send(c, WSEvent{Type: EventSubscribed, BattleID: "b1"}) {
		t.Fatal("Send failed")
	}
	if hub.Send(c, WSEvent{Type: EventSubscribed}) {
		t.Error("Send into a full buffer should fail")
	}
	if got := string(<-c.send); !strings.Contains(got, `"subscribed"`) || !strings.Contains(got, `"b1"`) {
		t.Errorf("unexpected payload %s", got)
	}
	hub.Unregister(c)
	if hub.Send(c, WSEvent{Type: EventSubscribed}) {
		t.Error("Send after Unregister should fail")
	}
}

func TestConnLabel(t *testing.T) {
	if got := spectator().label(); got != "spectator" {
		t.Errorf("label = %q", got)
	}
	if got := seatConn("b7", 1).label(); got != "b7/1" {
		t.Errorf("label = %q", got)
	}
}

func TestClientMessageDecoding(t *testing.T) {
	var msg ClientMessage
	if err := json.Unmarshal([]byte(`{"action":"subscribe","battle_id":"battle-9"}`), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Action != "subscribe" || msg.BattleID != "battle-9" {
		t.Errorf("unexpected message %+v", msg)
	}
}
