package repository

import (
	"context"
	"time"

	"github.com/freeeve/kriegsim/internal/model"
)

// BattleRepository defines battle and seat data operations.
type BattleRepository interface {
	Create(ctx context.Context, b *model.Battle) (*model.Battle, error)
	FindByID(ctx context.Context, id string) (*model.Battle, error)
	List(ctx context.Context, status string, limit int) ([]model.Battle, error)
	UpdateTurn(ctx context.Context, id string, turn int) error
	SetFinished(ctx context.Context, id string, winner *int, outcome, reason string) error
	SetAborted(ctx context.Context, id, reason string) error
}

// TurnRepository defines turn history operations.
type TurnRepository interface {
	SaveTurn(ctx context.Context, t *model.Turn) error
	ListTurns(ctx context.Context, battleID string, since int) ([]model.Turn, error)
	LastTurn(ctx context.Context, battleID string) (*model.Turn, error)
}

// BattleCache defines live battle state operations (Redis).
type BattleCache interface {
	SetPosition(ctx context.Context, battleID, bfen string) error
	GetPosition(ctx context.Context, battleID string) (string, error)
	// Lock takes the per-battle action lock. It returns false when another
	// holder has it.
	Lock(ctx context.Context, battleID, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, battleID, token string) error
	SetDeadline(ctx context.Context, battleID string, deadline time.Time) error
	GetDeadline(ctx context.Context, battleID string) (time.Time, error)
	ClearDeadline(ctx context.Context, battleID string) error
	DeleteBattleData(ctx context.Context, battleID string) error
}
