package storage

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS reference_observations (
        property_key  TEXT        NOT NULL,
        property_name TEXT        NOT NULL,
        destination   TEXT        NOT NULL,
        check_in      DATE        NOT NULL,
        check_out     DATE        NOT NULL,
        lowest_price  BIGINT      NOT NULL,
        currency      TEXT        NOT NULL,
        provenance    TEXT        NOT NULL DEFAULT '',
        observed_at   TIMESTAMPTZ NOT NULL,
        expires_at    TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (property_key, check_in, check_out),
        CHECK (check_out > check_in),
        CHECK (expires_at > observed_at)
    );`,
	`CREATE INDEX IF NOT EXISTS reference_observations_expires_idx
        ON reference_observations (expires_at);`,
	`CREATE INDEX IF NOT EXISTS reference_observations_destination_idx
        ON reference_observations (destination);`,
	`CREATE TABLE IF NOT EXISTS price_alerts (
        id             TEXT        PRIMARY KEY,
        property_key   TEXT        NOT NULL,
        property_name  TEXT        NOT NULL,
        destination    TEXT        NOT NULL,
        check_in       DATE        NOT NULL,
        check_out      DATE        NOT NULL,
        previous_price BIGINT      NOT NULL,
        new_price      BIGINT      NOT NULL,
        currency       TEXT        NOT NULL,
        delta_pct      NUMERIC     NOT NULL,
        kind           TEXT        NOT NULL,
        status         TEXT        NOT NULL DEFAULT 'open',
        created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE INDEX IF NOT EXISTS price_alerts_created_idx ON price_alerts (created_at DESC);`,
}

// EnsureSchema creates the observation table (with its expiry index) and the
// alert log when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
