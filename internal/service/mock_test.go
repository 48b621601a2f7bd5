package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/freeeve/kriegsim/internal/model"
)

// mockBattleRepo implements repository.BattleRepository for testing.
type mockBattleRepo struct {
	mu      sync.Mutex
	battles map[string]*model.Battle
	order   []string
}

func newMockBattleRepo() *mockBattleRepo {
	return &mockBattleRepo{battles: make(map[string]*model.Battle)}
}

func (m *mockBattleRepo) Create(_ context.Context, b *model.Battle) (*model.Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	cp.ID = fmt.Sprintf("battle-%d", len(m.battles)+1)
	cp.Status = model.StatusActive
	cp.CreatedAt = time.Now()
	cp.Seats = append([]model.Seat(nil), b.Seats...)
	for i := range cp.Seats {
		cp.Seats[i].BattleID = cp.ID
	}
	m.battles[cp.ID] = &cp
	m.order = append(m.order, cp.ID)
	out := cp
	return &out, nil
}

func (m *mockBattleRepo) FindByID(_ context.Context, id string) (*model.Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.battles[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *mockBattleRepo) List(_ context.Context, status string, limit int) ([]model.Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Battle
	for i := len(m.order) - 1; i >= 0; i-- {
		b := m.battles[m.order[i]]
		if status == "" || b.Status == status {
			result = append(result, *b)
		}
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *mockBattleRepo) UpdateTurn(_ context.Context, id string, turn int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.battles[id].Turn = turn
	return nil
}

func (m *mockBattleRepo) SetFinished(_ context.Context, id string, winner *int, outcome, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.battles[id]
	now := time.Now()
	b.Status, b.Winner, b.Outcome, b.Reason, b.FinishedAt = model.StatusFinished, winner, outcome, reason, &now
	return nil
}

func (m *mockBattleRepo) SetAborted(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.battles[id]
	b.Status, b.Reason = model.StatusAborted, reason
	return nil
}

func (m *mockBattleRepo) status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.battles[id].Status
}

// mockTurnRepo implements repository.TurnRepository for testing.
type mockTurnRepo struct {
	mu    sync.Mutex
	turns map[string][]model.Turn
}

func newMockTurnRepo() *mockTurnRepo {
	return &mockTurnRepo{turns: make(map[string][]model.Turn)}
}

func (m *mockTurnRepo) SaveTurn(_ context.Context, t *model.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, prev := range m.turns[t.BattleID] {
		if prev.Turn == t.Turn {
			return fmt.Errorf("duplicate turn %d for battle %s", t.Turn, t.BattleID)
		}
	}
	t.ID = fmt.Sprintf("turn-%d", len(m.turns[t.BattleID])+1)
	t.CreatedAt = time.Now()
	m.turns[t.BattleID] = append(m.turns[t.BattleID], *t)
	return nil
}

func (m *mockTurnRepo) ListTurns(_ context.Context, battleID string, since int) ([]model.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Turn
	for _, t := range m.turns[battleID] {
		if t.Turn >= since {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Turn < result[j].Turn })
	return result, nil
}

func (m *mockTurnRepo) LastTurn(_ context.Context, battleID string) (*model.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.turns[battleID]
	if len(ts) == 0 {
		return nil, nil
	}
	t := ts[len(ts)-1]
	return &t, nil
}

func (m *mockTurnRepo) count(battleID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns[battleID])
}

// mockCache implements repository.BattleCache for testing.
type mockCache struct {
	mu        sync.Mutex
	positions map[string]string
	locks     map[string]string
	deadlines map[string]time.Time
}

func newMockCache() *mockCache {
	return &mockCache{
		positions: make(map[string]string),
		locks:     make(map[string]string),
		deadlines: make(map[string]time.Time),
	}
}

func (c *mockCache) SetPosition(_ context.Context, battleID, bfen string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[battleID] = bfen
	return nil
}

func (c *mockCache) GetPosition(_ context.Context, battleID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positions[battleID], nil
}

func (c *mockCache) Lock(_ context.Context, battleID, token string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.locks[battleID]; held {
		return false, nil
	}
	c.locks[battleID] = token
	return true, nil
}

func (c *mockCache) Unlock(_ context.Context, battleID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[battleID] == token {
		delete(c.locks, battleID)
	}
	return nil
}

func (c *mockCache) SetDeadline(_ context.Context, battleID string, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines[battleID] = deadline
	return nil
}

func (c *mockCache) GetDeadline(_ context.Context, battleID string) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadlines[battleID], nil
}

func (c *mockCache) ClearDeadline(_ context.Context, battleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deadlines, battleID)
	return nil
}

func (c *mockCache) DeleteBattleData(_ context.Context, battleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.positions, battleID)
	delete(c.locks, battleID)
	delete(c.deadlines, battleID)
	return nil
}

// recordingBroadcaster keeps every event it is sent.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingBroadcaster) BroadcastBattleEvent(_ string, eventType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recordingBroadcaster) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}
