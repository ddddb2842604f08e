package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"hotel-rate-shadow/internal/config"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrAlertNotFound is returned when acknowledging an unknown alert.
	ErrAlertNotFound = errors.New("storage: alert not found")
)

// ObservationStore persists reference price observations keyed by ObservationKey.
// Implementations return records regardless of expiry; filtering is the cache's job.
type ObservationStore interface {
	GetObservation(ctx context.Context, key ObservationKey) (*Observation, error)
	UpsertObservation(ctx context.Context, obs Observation) error
	ListObservationsByDestination(ctx context.Context, destination string) ([]Observation, error)
	DeleteObservationsExpiredBefore(ctx context.Context, now time.Time) (int64, error)
	CountObservations(ctx context.Context, key ObservationKey) (int64, error)
}

// AlertStore is the append-only price alert log.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert PriceAlert) (PriceAlert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]PriceAlert, error)
	AcknowledgeAlert(ctx context.Context, id string) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend bundles both stores and a closer.
type Backend interface {
	ObservationStore
	AlertStore
	Close()
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Open returns the PostgreSQL store when a DSN is configured and the
// in-memory store otherwise.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Backend, error) {
	if cfg.DSN == "" {
		return NewMemory(), nil
	}

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := NewStore(pool)
	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}
