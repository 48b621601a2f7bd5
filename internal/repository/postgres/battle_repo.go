package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/freeeve/kriegsim/internal/model"
)

// BattleRepo handles battle and seat database operations.
type BattleRepo struct {
	db *sql.DB
}

// NewBattleRepo creates a BattleRepo.
func NewBattleRepo(db *sql.DB) *BattleRepo {
	return &BattleRepo{db: db}
}

// Create inserts a battle and its seats in one transaction.
func (r *BattleRepo) Create(ctx context.Context, b *model.Battle) (*model.Battle, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	out := *b
	err = tx.QueryRowContext(ctx,
		`INSERT INTO battles (name, scenario, rules, opening, turn)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, status, created_at`,
		b.Name, b.Scenario, []byte(b.Rules), b.Opening, b.Turn,
	).Scan(&out.ID, &out.Status, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create battle: %w", err)
	}

	out.Seats = make([]model.Seat, len(b.Seats))
	for i, s := range b.Seats {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO battle_seats (battle_id, player, kind, agent) VALUES ($1, $2, $3, $4)`,
			out.ID, s.Player, s.Kind, s.Agent,
		)
		if err != nil {
			return nil, fmt.Errorf("create seat %d: %w", s.Player, err)
		}
		s.BattleID = out.ID
		out.Seats[i] = s
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit battle: %w", err)
	}
	return &out, nil
}

// FindByID returns a battle by ID with its seats, or nil when missing.
func (r *BattleRepo) FindByID(ctx context.Context, id string) (*model.Battle, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, scenario, status, winner, outcome, reason, rules, opening, turn, created_at, finished_at
		 FROM battles WHERE id = $1`, id)
	b, err := scanBattle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find battle: %w", err)
	}

	seats, err := r.listSeats(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Seats = seats
	return b, nil
}

// List returns the newest battles, optionally filtered by status.
func (r *BattleRepo) List(ctx context.Context, status string, limit int) ([]model.Battle, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, scenario, status, winner, outcome, reason, rules, opening, turn, created_at, finished_at
		 FROM battles WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list battles: %w", err)
	}
	defer rows.Close()

	var battles []model.Battle
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan battle: %w", err)
		}
		battles = append(battles, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list battles: %w", err)
	}
	for i := range battles {
		seats, err := r.listSeats(ctx, battles[i].ID)
		if err != nil {
			return nil, err
		}
		battles[i].Seats = seats
	}
	return battles, nil
}

// UpdateTurn records the number of completed actions.
func (r *BattleRepo) UpdateTurn(ctx context.Context, id string, turn int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE battles SET turn = $2 WHERE id = $1`, id, turn)
	if err != nil {
		return fmt.Errorf("update turn: %w", err)
	}
	return nil
}

// SetFinished marks a battle finished. winner is nil for a draw.
func (r *BattleRepo) SetFinished(ctx context.Context, id string, winner *int, outcome, reason string) error {
	var w sql.NullInt64
	if winner != nil {
		w = sql.NullInt64{Int64: int64(*winner), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE battles SET status = 'finished', winner = $2, outcome = $3, reason = $4, finished_at = now()
		 WHERE id = $1`, id, w, outcome, reason)
	if err != nil {
		return fmt.Errorf("set finished: %w", err)
	}
	return nil
}

// SetAborted marks a battle abandoned before a terminal outcome.
func (r *BattleRepo) SetAborted(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE battles SET status = 'aborted', reason = $2, finished_at = now() WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("set aborted: %w", err)
	}
	return nil
}

func (r *BattleRepo) listSeats(ctx context.Context, battleID string) ([]model.Seat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT battle_id, player, kind, agent FROM battle_seats WHERE battle_id = $1 ORDER BY player`, battleID)
	if err != nil {
		return nil, fmt.Errorf("list seats: %w", err)
	}
	defer rows.Close()

	var seats []model.Seat
	for rows.Next() {
		var s model.Seat
		if err := rows.Scan(&s.BattleID, &s.Player, &s.Kind, &s.Agent); err != nil {
			return nil, fmt.Errorf("scan seat: %w", err)
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBattle(row rowScanner) (*model.Battle, error) {
	var (
		b      model.Battle
		winner sql.NullInt64
		rules  []byte
	)
	err := row.Scan(&b.ID, &b.Name, &b.Scenario, &b.Status, &winner, &b.Outcome, &b.Reason,
		&rules, &b.Opening, &b.Turn, &b.CreatedAt, &b.FinishedAt)
	if err != nil {
		return nil, err
	}
	if winner.Valid {
		w := int(winner.Int64)
		b.Winner = &w
	}
	b.Rules = rules
	return &b, nil
}
