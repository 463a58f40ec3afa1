package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lastecho/internal/calibration"
	"github.com/MrWong99/lastecho/internal/combat"
	"github.com/MrWong99/lastecho/internal/progress"
)

var (
	_ calibration.Store = (*CalibrationStore)(nil)
	_ progress.Store    = (*ProgressStore)(nil)
)

// Store owns the connection pool.
type Store struct {
	pool        *pgxpool.Pool
	calibration *CalibrationStore
	progress    *ProgressStore
}

// NewStore connects to dsn, pings and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{
		pool:        pool,
		calibration: &CalibrationStore{pool: pool},
		progress:    &ProgressStore{pool: pool},
	}, nil
}

// Calibration returns the calibration profile store.
func (s *Store) Calibration() *CalibrationStore { return s.calibration }

// Progress returns the player progression store.
func (s *Store) Progress() *ProgressStore { return s.progress }

// Ping checks database connectivity. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases all pooled connections.
func (s *Store) Close() { s.pool.Close() }

// CalibrationStore implements [calibration.Store].
type CalibrationStore struct {
	pool *pgxpool.Pool
}

// Save implements [calibration.Store].
func (c *CalibrationStore) Save(ctx context.Context, userID string, p calibration.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	measured := p.MeasuredAt
	if measured.IsZero() {
		measured = time.Now()
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO calibration_profiles (user_id, baseline_db, samples, measured_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET baseline_db = EXCLUDED.baseline_db,
		    samples     = EXCLUDED.samples,
		    measured_at = EXCLUDED.measured_at`,
		userID, p.BaselineDB, p.Samples, measured,
	)
	if err != nil {
		return fmt.Errorf("postgres: save calibration: %w", err)
	}
	return nil
}

// Load implements [calibration.Store].
func (c *CalibrationStore) Load(ctx context.Context, userID string) (calibration.Profile, error) {
	var p calibration.Profile
	err := c.pool.QueryRow(ctx, `
		SELECT baseline_db, samples, measured_at
		FROM   calibration_profiles
		WHERE  user_id = $1`, userID,
	).Scan(&p.BaselineDB, &p.Samples, &p.MeasuredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return calibration.Profile{}, calibration.ErrNotFound
	}
	if err != nil {
		return calibration.Profile{}, fmt.Errorf("postgres: load calibration: %w", err)
	}
	return p, nil
}

// ProgressStore implements [progress.Store].
type ProgressStore struct {
	pool *pgxpool.Pool
}

// Get implements [progress.Store].
func (s *ProgressStore) Get(ctx context.Context, userID string) (progress.Player, error) {
	p, err := scanPlayer(s.pool.QueryRow(ctx, `
		SELECT user_id, level, exp, class FROM players WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return progress.NewPlayer(userID), nil
	}
	if err != nil {
		return progress.Player{}, fmt.Errorf("postgres: get player: %w", err)
	}
	return p, nil
}

// Update implements [progress.Store]. The row is locked for the duration of
// fn so concurrent grants for the same user serialise.
func (s *ProgressStore) Update(ctx context.Context, userID string, fn func(*progress.Player) error) (progress.Player, error) {
	var out progress.Player
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO players (user_id) VALUES ($1)
			ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return err
		}
		p, err := scanPlayer(tx.QueryRow(ctx, `
			SELECT user_id, level, exp, class FROM players
			WHERE  user_id = $1
			FOR UPDATE`, userID))
		if err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE players
			SET    level = $2, exp = $3, class = $4, updated_at = now()
			WHERE  user_id = $1`,
			userID, p.Level, p.Exp, string(p.Class)); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return progress.Player{}, fmt.Errorf("postgres: update player: %w", err)
	}
	return out, nil
}

func scanPlayer(row pgx.Row) (progress.Player, error) {
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
