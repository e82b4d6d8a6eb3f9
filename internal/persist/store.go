// Package persist stores cooldown snapshots and the cast journal in SQLite.
package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"spellforge/server/internal/cast"
	"spellforge/server/internal/persist/migrations"
)

var ErrNotConfigured = errors.New("persist: store is not configured")

// CooldownSnapshot is a cooldown saved relative to the moment the actor
// left, so it can be re-anchored to the tick they return on.
type CooldownSnapshot struct {
	Ability        string
	RemainingTicks int64
}

// JournalEntry is a stored cast record.
type JournalEntry struct {
	ID            int64     `json:"id"`
	Actor         uuid.UUID `json:"actor"`
	Ability       string    `json:"ability"`
	Tick          int64     `json:"tick"`
	Outcome       string    `json:"outcome"`
	Reason        string    `json:"reason,omitempty"`
	ElapsedMicros int64     `json:"elapsedMicros"`
	CastAt        time.Time `json:"castAt"`
}

// Store persists runtime state in SQLite.
type Store struct {
	db *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies embedded migrations. The
// special path ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("persist: storage path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps in-memory databases shared and serialises writes.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveCooldowns replaces actor's snapshot. An empty snapshot clears it.
func (s *Store) SaveCooldowns(ctx context.Context, actor uuid.UUID, snapshot []CooldownSnapshot, savedAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save cooldowns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cooldown_snapshots WHERE actor = ?`, actor.String()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear cooldowns: %w", err)
	}
	for _, entry := range snapshot {
		if entry.RemainingTicks <= 0 || entry.Ability == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cooldown_snapshots (actor, ability, remaining_ticks, saved_at) VALUES (?, ?, ?, ?)`,
			actor.String(), entry.Ability, entry.RemainingTicks, toMillis(savedAt),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert cooldown %s: %w", entry.Ability, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save cooldowns: %w", err)
	}
	return nil
}

// TakeCooldowns returns and deletes actor's snapshot so it restores once.
func (s *Store) TakeCooldowns(ctx context.Context, actor uuid.UUID) ([]CooldownSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin take cooldowns: %w", err)
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT ability, remaining_ticks FROM cooldown_snapshots WHERE actor = ? ORDER BY ability`,
		actor.String(),
	)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("query cooldowns: %w", err)
	}
	var out []CooldownSnapshot
	for rows.Next() {
		var entry CooldownSnapshot
		if err := rows.Scan(&entry.Ability, &entry.RemainingTicks); err != nil {
			_ = rows.Close()
			_ = tx.Rollback()
			return nil, fmt.Errorf("scan cooldown: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		_ = tx.Rollback()
		return nil, fmt.Errorf("iterate cooldowns: %w", err)
	}
	_ = rows.Close()
	if _, err := tx.ExecContext(ctx, `DELETE FROM cooldown_snapshots WHERE actor = ?`, actor.String()); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("delete cooldowns: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit take cooldowns: %w", err)
	}
	return out, nil
}

// AppendJournal inserts records in one transaction.
func (s *Store) AppendJournal(ctx context.Context, records []cast.Record) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO cast_journal (actor, ability, tick, outcome, reason, elapsed_micros, cast_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare journal insert: %w", err)
	}
	defer stmt.Close()
	for _, record := range records {
		if _, err := stmt.ExecContext(ctx,
			record.Actor.String(), record.Ability, record.Tick, record.Outcome, record.Reason, record.ElapsedMicros, toMillis(record.At),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert journal record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal batch: %w", err)
	}
	return nil
}

// RecentJournal returns up to limit records, newest first. A nil actor
// selects every actor.
func (s *Store) RecentJournal(ctx context.Context, actor uuid.UUID, limit int) ([]JournalEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, actor, ability, tick, outcome, reason, elapsed_micros, cast_at FROM cast_journal`
	args := []any{}
	if actor != uuid.Nil {
		query += ` WHERE actor = ?`
		args = append(args, actor.String())
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			entry   JournalEntry
			actorID string
			castAt  int64
		)
		if err := rows.Scan(&entry.ID, &actorID, &entry.Ability, &entry.Tick, &entry.Outcome, &entry.Reason, &entry.ElapsedMicros, &castAt); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		parsed, err := uuid.Parse(actorID)
		if err != nil {
			return nil, fmt.Errorf("parse journal actor %q: %w", actorID, err)
		}
		entry.Actor = parsed
		entry.CastAt = fromMillis(castAt)
		out = append(out, entry)
	}
	return out, rows.Err()
}
