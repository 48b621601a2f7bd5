// Package sqlite stores battles and turn history in a single SQLite file.
// It serves the arena and single-node servers that run without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/freeeve/kriegsim/internal/model"
	"github.com/freeeve/kriegsim/internal/repository/sqlite/migrations"
)

// ErrDuplicateTurn is returned when a battle already has a record for a turn.
var ErrDuplicateTurn = errors.New("sqlite: turn already recorded")

// Store implements repository.BattleRepository and repository.TurnRepository.
type Store struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// Open opens the database at path, creating it if needed, and applies the
// embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// One writer at a time; readers share it.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	if _, err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a battle and its seats in one transaction.
func (s *Store) Create(ctx context.Context, b *model.Battle) (*model.Battle, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	out := *b
	out.ID = uuid.NewString()
	out.Status = model.StatusActive
	out.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	rules := string(b.Rules)
	if rules == "" {
		rules = "{}"
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO battles (id, name, scenario, status, rules, opening, turn, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, b.Name, b.Scenario, out.Status, rules, b.Opening, b.Turn, toMillis(out.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create battle: %w", err)
	}

	out.Seats = make([]model.Seat, len(b.Seats))
	for i, seat := range b.Seats {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO battle_seats (battle_id, player, kind, agent) VALUES (?, ?, ?, ?)`,
			out.ID, seat.Player, seat.Kind, seat.Agent,
		)
		if err != nil {
			return nil, fmt.Errorf("create seat %d: %w", seat.Player, err)
		}
		seat.BattleID = out.ID
		out.Seats[i] = seat
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit battle: %w", err)
	}
	return &out, nil
}

const battleColumns = `id, name, scenario, status, winner, outcome, reason, rules, opening, turn, created_at, finished_at`

// FindByID returns a battle with its seats, or nil when it does not exist.
func (s *Store) FindByID(ctx context.Context, id string) (*model.Battle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+battleColumns+` FROM battles WHERE id = ?`, id)
	b, err := scanBattle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find battle: %w", err)
	}
	if b.Seats, err = s.listSeats(ctx, id); err != nil {
		return nil, err
	}
	return b, nil
}

// List returns the newest battles, optionally filtered by status.
func (s *Store) List(ctx context.Context, status string, limit int) ([]model.Battle, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+battleColumns+` FROM battles
		 WHERE (? = '' OR status = ?)
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, status, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list battles: %w", err)
	}
	var battles []model.Battle
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan battle: %w", err)
		}
		battles = append(battles, *b)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list battles: %w", err)
	}

	// Seats are read after the cursor is closed; the pool holds one connection.
	for i := range battles {
		if battles[i].Seats, err = s.listSeats(ctx, battles[i].ID); err != nil {
			return nil, err
		}
	}
	return battles, nil
}

// UpdateTurn records the number of completed actions.
func (s *Store) UpdateTurn(ctx context.Context, id string, turn int) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE battles SET turn = ? WHERE id = ?`, turn, id); err != nil {
		return fmt.Errorf("update turn: %w", err)
	}
	return nil
}

// SetFinished marks a battle finished. winner is nil for a draw.
func (s *Store) SetFinished(ctx context.Context, id string, winner *int, outcome, reason string) error {
	var w sql.NullInt64
	if winner != nil {
		w = sql.NullInt64{Int64: int64(*winner), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE battles SET status = ?, winner = ?, outcome = ?, reason = ?, finished_at = ?
		 WHERE id = ?`, model.StatusFinished, w, outcome, reason, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set finished: %w", err)
	}
	return nil
}

// SetAborted marks a battle abandoned before a terminal outcome.
func (s *Store) SetAborted(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE battles SET status = ?, reason = ?, finished_at = ? WHERE id = ?`,
		model.StatusAborted, reason, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set aborted: %w", err)
	}
	return nil
}

func (s *Store) listSeats(ctx context.Context, battleID string) ([]model.Seat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT battle_id, player, kind, agent FROM battle_seats WHERE battle_id = ? ORDER BY player`, battleID)
	if err != nil {
		return nil, fmt.Errorf("list seats: %w", err)
	}
	defer rows.Close()

	var seats []model.Seat
	for rows.Next() {
		var seat model.Seat
		if err := rows.Scan(&seat.BattleID, &seat.Player, &seat.Kind, &seat.Agent); err != nil {
			return nil, fmt.Errorf("scan seat: %w", err)
		}
		seats = append(seats, seat)
	}
	return seats, rows.Err()
}

// SaveTurn inserts a turn record and fills in its ID and creation time.
func (s *Store) SaveTurn(ctx context.Context, t *model.Turn) error {
	id := uuid.NewString()
	created := time.Now().UTC().Truncate(time.Millisecond)
	result := string(t.Result)
	if result == "" {
		result = "null"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, battle_id, turn, player, action, result, reward, position, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, t.BattleID, t.Turn, t.Player, t.Action, result, t.Reward, t.Position, toMillis(created),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save turn %d: %w", t.Turn, ErrDuplicateTurn)
		}
		return fmt.Errorf("save turn: %w", err)
	}
	t.ID = id
	t.CreatedAt = created
	return nil
}

const turnColumns = `id, battle_id, turn, player, action, result, reward, position, created_at`

// ListTurns returns the turns of a battle from turn since onwards, in order.
func (s *Store) ListTurns(ctx context.Context, battleID string, since int) ([]model.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE battle_id = ? AND turn >= ? ORDER BY turn`, battleID, since)
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
func (s *Store) LastTurn(ctx context.Context, battleID string) (*model.Turn, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE battle_id = ? ORDER BY turn DESC LIMIT 1`, battleID)
	t, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last turn: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBattle(row rowScanner) (*model.Battle, error) {
	var (
		b        model.Battle
		winner   sql.NullInt64
		rules    string
		created  int64
		finished sql.NullInt64
	)
	err := row.Scan(&b.ID, &b.Name, &b.Scenario, &b.Status, &winner, &b.Outcome, &b.Reason,
		&rules, &b.Opening, &b.Turn, &created, &finished)
	if err != nil {
		return nil, err
	}
	if winner.Valid {
		w := int(winner.Int64)
		b.Winner = &w
	}
	b.Rules = []byte(rules)
	b.CreatedAt = fromMillis(created)
	if finished.Valid {
		at := fromMillis(finished.Int64)
		b.FinishedAt = &at
	}
	return &b, nil
}

func scanTurn(row rowScanner) (*model.Turn, error) {
	var (
		t       model.Turn
		result  string
		created int64
	)
	if err := row.Scan(&t.ID, &t.BattleID, &t.Turn, &t.Player, &t.Action, &result, &t.Reward, &t.Position, &created); err != nil {
		return nil, err
	}
	t.Result = []byte(result)
	t.CreatedAt = fromMillis(created)
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
