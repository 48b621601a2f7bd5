// Package memory keeps battles, turns and live state in process memory.
// It backs the server in development and the end-to-end tests; nothing
// survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/freeeve/kriegsim/internal/model"
)

// Store implements repository.BattleRepository, repository.TurnRepository
// and repository.BattleCache.
type Store struct {
	mu        sync.Mutex
	seq       int
	battles   map[string]*model.Battle
	order     []string
	turns     map[string][]model.Turn
	positions map[string]string
	locks     map[string]lock
	deadlines map[string]time.Time
}

type lock struct {
	token   string
	expires time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		battles:   make(map[string]*model.Battle),
		turns:     make(map[string][]model.Turn),
		positions: make(map[string]string),
		locks:     make(map[string]lock),
		deadlines: make(map[string]time.Time),
	}
}

func copyBattle(b *model.Battle) *model.Battle {
	cp := *b
	cp.Seats = append([]model.Seat(nil), b.Seats...)
	return &cp
}

func (s *Store) Create(_ context.Context, b *model.Battle) (*model.Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec := copyBattle(b)
	rec.ID = fmt.Sprintf("mem-%d", s.seq)
	rec.Status = model.StatusActive
	rec.CreatedAt = time.Now().UTC()
	for i := range rec.Seats {
		rec.Seats[i].BattleID = rec.ID
	}
	s.battles[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return copyBattle(rec), nil
}

func (s *Store) FindByID(_ context.Context, id string) (*model.Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.battles[id]
	if !ok {
		return nil, nil
	}
	return copyBattle(b), nil
}

func (s *Store) List(_ context.Context, status string, limit int) ([]model.Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Battle
	for i := len(s.order) - 1; i >= 0; i-- {
		b := s.battles[s.order[i]]
		if status != "" && b.Status != status {
			continue
		}
		out = append(out, *copyBattle(b))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) UpdateTurn(_ context.Context, id string, turn int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.battles[id]
	if !ok {
		return fmt.Errorf("battle %s not found", id)
	}
	b.Turn = turn
	return nil
}

func (s *Store) SetFinished(_ context.Context, id string, winner *int, outcome, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.battles[id]
	if !ok {
		return fmt.Errorf("battle %s not found", id)
	}
	now := time.Now().UTC()
	b.Status, b.Winner, b.Outcome, b.Reason, b.FinishedAt = model.StatusFinished, winner, outcome, reason, &now
	return nil
}

func (s *Store) SetAborted(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.battles[id]
	if !ok {
		return fmt.Errorf("battle %s not found", id)
	}
	now := time.Now().UTC()
	b.Status, b.Reason, b.FinishedAt = model.StatusAborted, reason, &now
	return nil
}

// SaveTurn refuses a second record for the same turn, like the unique key
// in Postgres.
func (s *Store) SaveTurn(_ context.Context, t *model.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, prev := range s.turns[t.BattleID] {
		if prev.Turn == t.Turn {
			return fmt.Errorf("turn %d of battle %s already recorded", t.Turn, t.BattleID)
		}
	}
	t.ID = fmt.Sprintf("%s-t%d", t.BattleID, t.Turn)
	t.CreatedAt = time.Now().UTC()
	s.turns[t.BattleID] = append(s.turns[t.BattleID], *t)
	return nil
}

func (s *Store) ListTurns(_ context.Context, battleID string, since int) ([]model.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Turn
	for _, t := range s.turns[battleID] {
		if t.Turn >= since {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Turn < out[j].Turn })
	return out, nil
}

func (s *Store) LastTurn(_ context.Context, battleID string) (*model.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *model.Turn
	for i, t := range s.turns[battleID] {
		if last == nil || t.Turn > last.Turn {
			last = &s.turns[battleID][i]
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (s *Store) SetPosition(_ context.Context, battleID, bfen string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[battleID] = bfen
	return nil
}

func (s *Store) GetPosition(_ context.Context, battleID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[battleID], nil
}

// Lock honours the ttl so a crashed holder cannot wedge a battle.
func (s *Store) Lock(_ context.Context, battleID, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, held := s.locks[battleID]; held && time.Now().Before(l.expires) {
		return false, nil
	}
	s.locks[battleID] = lock{token: token, expires: time.Now().Add(ttl)}
	return true, nil
}

func (s *Store) Unlock(_ context.Context, battleID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[battleID].token == token {
		delete(s.locks, battleID)
	}
	return nil
}

func (s *Store) SetDeadline(_ context.Context, battleID string, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines[battleID] = deadline
	return nil
}

func (s *Store) GetDeadline(_ context.Context, battleID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadlines[battleID], nil
}

func (s *Store) ClearDeadline(_ context.Context, battleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deadlines, battleID)
	return nil
}

func (s *Store) DeleteBattleData(_ context.Context, battleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, battleID)
	delete(s.locks, battleID)
	delete(s.deadlines, battleID)
	return nil
}
