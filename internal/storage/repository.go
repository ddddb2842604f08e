package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	getObservationSQL = `SELECT
        property_key,
        property_name,
        destination,
        check_in,
        check_out,
        lowest_price,
        currency,
        provenance,
        observed_at,
        expires_at
    FROM reference_observations
    WHERE property_key = $1
      AND check_in = $2
      AND check_out = $3;`

	upsertObservationSQL = `INSERT INTO reference_observations (
        property_key,
        property_name,
        destination,
        check_in,
        check_out,
        lowest_price,
        currency,
        provenance,
        observed_at,
        expires_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (property_key, check_in, check_out) DO UPDATE
    SET
        property_name = EXCLUDED.property_name,
        destination   = EXCLUDED.destination,
        lowest_price  = EXCLUDED.lowest_price,
        currency      = EXCLUDED.currency,
        provenance    = EXCLUDED.provenance,
        observed_at   = EXCLUDED.observed_at,
        expires_at    = EXCLUDED.expires_at;`

	listObservationsByDestinationSQL = `SELECT
        property_key,
        property_name,
        destination,
        check_in,
        check_out,
        lowest_price,
        currency,
        provenance,
        observed_at,
        expires_at
    FROM reference_observations
    WHERE destination = $1
    ORDER BY property_key, check_in, check_out;`

	deleteExpiredObservationsSQL = `DELETE FROM reference_observations WHERE expires_at < $1;`

	countObservationsSQL = `SELECT COUNT(*) FROM reference_observations
    WHERE property_key = $1
      AND check_in = $2
      AND check_out = $3;`

	insertAlertSQL = `INSERT INTO price_alerts (
        id,
        property_key,
        property_name,
        destination,
        check_in,
        check_out,
        previous_price,
        new_price,
        currency,
        delta_pct,
        kind,
        status,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    RETURNING created_at;`

	listAlertsSQL = `SELECT
        id,
        property_key,
        property_name,
        destination,
        check_in,
        check_out,
        previous_price,
        new_price,
        currency,
        delta_pct::text,
        kind,
        status,
        created_at
    FROM price_alerts
    WHERE ($1 = '' OR status = $1)
      AND ($2::timestamptz IS NULL OR created_at >= $2)
      AND ($3::timestamptz IS NULL OR created_at < $3)
    ORDER BY created_at DESC
    LIMIT $4;`

	acknowledgeAlertSQL = `UPDATE price_alerts SET status = 'acknowledged' WHERE id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`

	maxAlertListLimit = 100000
)

// Store is the PostgreSQL Backend.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// session ends with the connection anyway if this fails
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// GetObservation fetches the stored record for key, or nil when absent.
func (s *Store) GetObservation(ctx context.Context, key ObservationKey) (*Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, getObservationSQL, key.PropertyKey, key.CheckIn, key.CheckOut)
	if err != nil {
		return nil, fmt.Errorf("get observation: %w", err)
	}
	obs, err := pgx.CollectOneRow(rows, scanObservation)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get observation: %w", err)
	}
	return &obs, nil
}

// UpsertObservation writes the observation, replacing any record with the same key.
func (s *Store) UpsertObservation(ctx context.Context, obs Observation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertObservationSQL,
		obs.PropertyKey,
		obs.PropertyName,
		obs.Destination,
		Date(obs.CheckIn),
		Date(obs.CheckOut),
		obs.LowestPrice,
		obs.Currency,
		obs.Provenance,
		obs.ObservedAt,
		obs.ExpiresAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert observation: %w", execErr)
	}
	return nil
}

// ListObservationsByDestination lists every stored record for a destination.
func (s *Store) ListObservationsByDestination(ctx context.Context, destination string) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsByDestinationSQL, strings.ToUpper(destination))
	if queryErr != nil {
		return nil, fmt.Errorf("list observations: %w", queryErr)
	}
	out, err := pgx.CollectRows(rows, scanObservation)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	return out, nil
}

// DeleteObservationsExpiredBefore removes expired records.
func (s *Store) DeleteObservationsExpiredBefore(ctx context.Context, now time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteExpiredObservationsSQL, now)
	if execErr != nil {
		return 0, fmt.Errorf("delete expired observations: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// CountObservations counts stored records for key.
func (s *Store) CountObservations(ctx context.Context, key ObservationKey) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL, key.PropertyKey, key.CheckIn, key.CheckOut).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// InsertAlert appends an alert to the log.
func (s *Store) InsertAlert(ctx context.Context, alert PriceAlert) (PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceAlert{}, err
	}

	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Status == "" {
		alert.Status = AlertOpen
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ID,
		alert.PropertyKey,
		alert.PropertyName,
		alert.Destination,
		Date(alert.CheckIn),
		Date(alert.CheckOut),
		alert.PreviousPrice,
		alert.NewPrice,
		alert.Currency,
		alert.DeltaPercent.String(),
		string(alert.Kind),
		string(alert.Status),
		alert.CreatedAt,
	)
	if scanErr := row.Scan(&alert.CreatedAt); scanErr != nil {
		return PriceAlert{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// ListAlerts lists alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = maxAlertListLimit
	}

	var from, to *time.Time
	if !filter.From.IsZero() {
		from = &filter.From
	}
	if !filter.To.IsZero() {
		to = &filter.To
	}

	rows, queryErr := pool.Query(ctx, listAlertsSQL, string(filter.Status), from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	alerts, err := pgx.CollectRows(rows, scanAlert)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// AcknowledgeAlert marks an alert acknowledged.
func (s *Store) AcknowledgeAlert(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, acknowledgeAlertSQL, id)
	if execErr != nil {
		return fmt.Errorf("acknowledge alert: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func scanObservation(row pgx.CollectableRow) (Observation, error) {
	var obs Observation
	if err := row.Scan(
		&obs.PropertyKey,
		&obs.PropertyName,
		&obs.Destination,
		&obs.CheckIn,
		&obs.CheckOut,
		&obs.LowestPrice,
		&obs.Currency,
		&obs.Provenance,
		&obs.ObservedAt,
		&obs.ExpiresAt,
	); err != nil {
		return Observation{}, err
	}
	obs.CheckIn = Date(obs.CheckIn)
	obs.CheckOut = Date(obs.CheckOut)
	return obs, nil
}

func scanAlert(row pgx.CollectableRow) (PriceAlert, error) {
	var (
		rec      PriceAlert
		deltaStr string
		kind     string
		status   string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.PropertyKey,
		&rec.PropertyName,
		&rec.Destination,
		&rec.CheckIn,
		&rec.CheckOut,
		&rec.PreviousPrice,
		&rec.NewPrice,
		&rec.Currency,
		&deltaStr,
		&kind,
		&status,
		&rec.CreatedAt,
	); err != nil {
		return PriceAlert{}, err
	}

	delta, err := decimal.NewFromString(deltaStr)
	if err != nil {
		return PriceAlert{}, fmt.Errorf("parse delta pct: %w", err)
	}
	rec.DeltaPercent = delta
	rec.Kind = AlertKind(kind)
	rec.Status = AlertStatus(status)
	return rec, nil
}

var (
	_ Backend        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
