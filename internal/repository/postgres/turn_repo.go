package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/freeeve/kriegsim/internal/model"
)

// TurnRepo handles the turn history of battles.
type TurnRepo struct {
	db *sql.DB
}

// NewTurnRepo creates a TurnRepo.
func NewTurnRepo(db *sql.DB) *TurnRepo {
	return &TurnRepo{db: db}
}

// SaveTurn inserts a turn record and fills in its ID and creation time.
func (r *TurnRepo) SaveTurn(ctx context.Context, t *model.Turn) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO turns (battle_id, turn, player, action, result, reward, position)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		t.BattleID, t.Turn, t.Player, t.Action, []byte(t.Result), t.Reward, t.Position,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

// ListTurns returns the turns of a battle from turn since onwards, in order.
func (r *TurnRepo) ListTurns(ctx context.Context, battleID string, since int) ([]model.Turn, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, battle_id, turn, player, action, result, reward, position, created_at
		 FROM turns WHERE battle_id = $1 AND turn >= $2 ORDER BY turn`, battleID, since)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, *t)
	}
	return turns, rows.Err()
}

// LastTurn returns the most recent turn of a battle, or nil when none.
func (r *TurnRepo) LastTurn(ctx context.Context, battleID string) (*model.Turn, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, battle_id, turn, player, action, result, reward, position, created_at
		 FROM turns WHERE battle_id = $1 ORDER BY turn DESC LIMIT 1`, battleID)
	t, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last turn: %w", err)
	}
	return t, nil
}

func scanTurn(row rowScanner) (*model.Turn, error) {
	var (
		t      model.Turn
		result []byte
	)
	if err := row.Scan(&t.ID, &t.BattleID, &t.Turn, &t.Player, &t.Action, &result, &t.Reward, &t.Position, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Result = result
	return &t, nil
}
