// Package sqlite stores calibration profiles and player progression in a
// single SQLite file, for deployments without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/lastecho/internal/calibration"
	"github.com/MrWong99/lastecho/internal/combat"
	"github.com/MrWong99/lastecho/internal/progress"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var (
	_ calibration.Store = (*Store)(nil)
	_ progress.Store    = (*PlayerStore)(nil)
)

// Store is a SQLite-backed [calibration.Store]. [Store.Players] exposes the
// progression store sharing the same database handle.
type Store struct {
	db      *sql.DB
	players *PlayerStore
}

// Open opens (creating if needed) and migrates the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single writer keeps read-modify-write transactions from racing.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return &Store{db: db, players: &PlayerStore{db: db}}, nil
}

// Players returns the progression store.
func (s *Store) Players() *PlayerStore { return s.players }

// Ping checks the database handle. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// migrate applies every embedded migration that is not yet recorded in
// schema_migrations, in file name order.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
		    name        TEXT     PRIMARY KEY,
		    applied_at  INTEGER  NOT NULL
		)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, name := range files {
		var n int
		if err := db.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, name).Scan(&n); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if n > 0 {
			continue
		}
		content, err := fs.ReadFile(migrationFS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
			name, time.Now().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// upSection returns the SQL between "-- +migrate Up" and "-- +migrate Down".
// Files without markers are applied whole.
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	if i := strings.Index(content, up); i >= 0 {
		content = content[i+len(up):]
	}
	if i := strings.Index(content, down); i >= 0 {
		content = content[:i]
	}
	return content
}

// Save implements [calibration.Store].
func (s *Store) Save(ctx context.Context, userID string, p calibration.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	measured := p.MeasuredAt
	if measured.IsZero() {
		measured = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calibration_profiles (user_id, baseline_db, samples, measured_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET baseline_db = excluded.baseline_db,
		    samples     = excluded.samples,
		    measured_at = excluded.measured_at`,
		userID, p.BaselineDB, p.Samples, measured.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save calibration: %w", err)
	}
	return nil
}

// Load implements [calibration.Store].
func (s *Store) Load(ctx context.Context, userID string) (calibration.Profile, error) {
	var (
		p        calibration.Profile
		measured int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT baseline_db, samples, measured_at
		FROM   calibration_profiles
		WHERE  user_id = ?`, userID,
	).Scan(&p.BaselineDB, &p.Samples, &measured)
	if errors.Is(err, sql.ErrNoRows) {
		return calibration.Profile{}, calibration.ErrNotFound
	}
	if err != nil {
		return calibration.Profile{}, fmt.Errorf("sqlite: load calibration: %w", err)
	}
	p.MeasuredAt = time.UnixMilli(measured).UTC()
	return p, nil
}

// PlayerStore implements [progress.Store].
type PlayerStore struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Get implements [progress.Store].
func (s *PlayerStore) Get(ctx context.Context, userID string) (progress.Player, error) {
	p, err := scanPlayer(s.db.QueryRowContext(ctx,
		`SELECT user_id, level, exp, class FROM players WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return progress.NewPlayer(userID), nil
	}
	if err != nil {
		return progress.Player{}, fmt.Errorf("sqlite: get player: %w", err)
	}
	return p, nil
}

// Update implements [progress.Store].
func (s *PlayerStore) Update(ctx context.Context, userID string, fn func(*progress.Player) error) (progress.Player, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return progress.Player{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO players (user_id, updated_at) VALUES (?, ?) ON CONFLICT (user_id) DO NOTHING`,
		userID, time.Now().UnixMilli()); err != nil {
		return progress.Player{}, fmt.Errorf("sqlite: ensure player: %w", err)
	}
	p, err := scanPlayer(tx.QueryRowContext(ctx,
		`SELECT user_id, level, exp, class FROM players WHERE user_id = ?`, userID))
	if err != nil {
		return progress.Player{}, fmt.Errorf("sqlite: read player: %w", err)
	}
	if err := fn(&p); err != nil {
		return progress.Player{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE players SET level = ?, exp = ?, class = ?, updated_at = ? WHERE user_id = ?`,
		p.Level, p.Exp, string(p.Class), time.Now().UnixMilli(), userID); err != nil {
		return progress.Player{}, fmt.Errorf("sqlite: write player: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return progress.Player{}, fmt.Errorf("sqlite: commit: %w", err)
	}
	return p, nil
}

func scanPlayer(row rowScanner) (progress.Player, error) {
	var (
		p     progress.Player
		class string
	)
	if err := row.Scan(&p.UserID, &p.Level, &p.Exp, &class); err != nil {
		return progress.Player{}, err
	}
	p.Class = combat.Class(class)
	return p, nil
}
