// Package postgres stores calibration profiles and player progression in
// PostgreSQL.
//
// Both stores share one [pgxpool.Pool]:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Calibration().Save(ctx, userID, profile)
//	_, _ = store.Progress().Update(ctx, userID, fn)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCalibration = `
CREATE TABLE IF NOT EXISTS calibration_profiles (
    user_id      TEXT              PRIMARY KEY,
    baseline_db  DOUBLE PRECISION  NOT NULL,
    samples      INTEGER           NOT NULL DEFAULT 0,
    measured_at  TIMESTAMPTZ       NOT NULL DEFAULT now()
);
`

const ddlPlayers = `
CREATE TABLE IF NOT EXISTS players (
    user_id     TEXT         PRIMARY KEY,
    level       INTEGER      NOT NULL DEFAULT 1 CHECK (level >= 1),
    exp         INTEGER      NOT NULL DEFAULT 0 CHECK (exp >= 0),
    class       TEXT         NOT NULL DEFAULT 'commoner',
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates the tables if they do not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	steps := []struct {
		table string
		ddl   string
	}{
		{"calibration_profiles", ddlCalibration},
		{"players", ddlPlayers},
	}
	for _, s := range steps {
		if _, err := pool.Exec(ctx, s.ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", s.table, err)
		}
	}
	return nil
}
