// Package cache is the reference price cache: a TTL view over the observation
// store that never fails its caller. A storage error degrades to "no reference"
// on reads and to a logged, counted no-op on writes.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hotel-rate-shadow/internal/metrics"
	"hotel-rate-shadow/internal/storage"
)

// ErrInvalidObservation is logged when Put receives an unusable record.
var ErrInvalidObservation = errors.New("invalid observation")

var hundred = decimal.NewFromInt(100)

// Options tune the cache.
type Options struct {
	TTL               time.Duration
	AlertThresholdPct float64
}

// Option mutates a Cache at construction.
type Option func(*Cache)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache wraps the observation and alert stores.
type Cache struct {
	store     storage.ObservationStore
	alerts    storage.AlertStore
	ttl       time.Duration
	threshold decimal.Decimal
	now       func() time.Time
	logger    zerolog.Logger
}

// New builds a cache. alerts may be nil, in which case price moves are only logged.
func New(store storage.ObservationStore, alerts storage.AlertStore, opts Options, logger zerolog.Logger, options ...Option) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	c := &Cache{
		store:     store,
		alerts:    alerts,
		ttl:       ttl,
		threshold: decimal.NewFromFloat(opts.AlertThresholdPct),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With().Str("component", "reference_cache").Logger(),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// TTL reports the configured lifetime of an observation.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Now returns the cache clock reading.
func (c *Cache) Now() time.Time { return c.now() }

// Stamp sets ObservedAt and ExpiresAt on obs.
func (c *Cache) Stamp(obs storage.Observation, observedAt time.Time) storage.Observation {
	obs.ObservedAt = observedAt
	obs.ExpiresAt = observedAt.Add(c.ttl)
	return obs
}

// Put upserts obs and returns the price alert raised against the previously
// stored record, if any.
func (c *Cache) Put(ctx context.Context, obs storage.Observation) *storage.PriceAlert {
	if err := validate(obs); err != nil {
		c.logger.Warn().Err(err).Str("key", obs.Key().String()).Msg("dropping observation")
		metrics.CacheErrorsTotal.WithLabelValues("validate").Inc()
		return nil
	}

	prev, err := c.store.GetObservation(ctx, obs.Key())
	if err != nil {
		c.storageError("get_previous", obs.Key(), err)
		prev = nil
	}

	if err := c.store.UpsertObservation(ctx, obs); err != nil {
		c.storageError("upsert", obs.Key(), err)
		return nil
	}

	if prev == nil || prev.LowestPrice <= 0 || prev.LowestPrice == obs.LowestPrice {
		return nil
	}
	return c.raiseAlert(ctx, *prev, obs)
}

// Get returns the fresh observation for the key. Expired records are treated
// as absent even before eviction runs.
func (c *Cache) Get(ctx context.Context, propertyKey string, checkIn, checkOut time.Time) (storage.Observation, bool) {
	key := storage.NewObservationKey(propertyKey, checkIn, checkOut)
	obs, err := c.store.GetObservation(ctx, key)
	if err != nil {
		c.storageError("get", key, err)
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		return storage.Observation{}, false
	}
	if obs == nil {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return storage.Observation{}, false
	}
	if !obs.Fresh(c.now()) {
		metrics.CacheLookupsTotal.WithLabelValues("expired").Inc()
		return storage.Observation{}, false
	}
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return *obs, true
}

// GetAllForDestination returns every fresh observation for the destination.
func (c *Cache) GetAllForDestination(ctx context.Context, destination string) []storage.Observation {
	all, err := c.store.ListObservationsByDestination(ctx, destination)
	if err != nil {
		metrics.CacheErrorsTotal.WithLabelValues("list").Inc()
		c.logger.Error().Err(err).Str("destination", destination).Msg("list observations failed")
		return nil
	}
	now := c.now()
	fresh := all[:0]
	for _, obs := range all {
		if obs.Fresh(now) {
			fresh = append(fresh, obs)
		}
	}
	return fresh
}

// EvictExpired deletes every record whose expiry has passed and reports how
// many were removed.
func (c *Cache) EvictExpired(ctx context.Context) int64 {
	removed, err := c.store.DeleteObservationsExpiredBefore(ctx, c.now())
	if err != nil {
		metrics.CacheErrorsTotal.WithLabelValues("evict").Inc()
		c.logger.Error().Err(err).Msg("evict expired observations failed")
		return 0
	}
	metrics.CacheEvictedTotal.Add(float64(removed))
	if removed > 0 {
		c.logger.Info().Int64("removed", removed).Msg("expired observations evicted")
	}
	return removed
}

func (c *Cache) raiseAlert(ctx context.Context, prev, next storage.Observation) *storage.PriceAlert {
	delta := DeltaPercent(prev.LowestPrice, next.LowestPrice)
	if delta.Abs().LessThanOrEqual(c.threshold) {
		return nil
	}

	kind := storage.AlertPriceChange
	if next.LowestPrice < prev.LowestPrice {
		kind = storage.AlertPriceDrop
	}
	alert := storage.PriceAlert{
		PropertyKey:   next.PropertyKey,
		PropertyName:  next.PropertyName,
		Destination:   next.Destination,
		CheckIn:       storage.Date(next.CheckIn),
		CheckOut:      storage.Date(next.CheckOut),
		PreviousPrice: prev.LowestPrice,
		NewPrice:      next.LowestPrice,
		Currency:      next.Currency,
		DeltaPercent:  delta,
		Kind:          kind,
		Status:        storage.AlertOpen,
		CreatedAt:     c.now(),
	}

	metrics.PriceAlertsTotal.WithLabelValues(string(kind)).Inc()
	c.logger.Info().
		Str("property_key", alert.PropertyKey).
		Int64("previous", alert.PreviousPrice).
		Int64("new", alert.NewPrice).
		Str("delta_pct", delta.StringFixed(2)).
		Msg("reference price moved")

	if c.alerts == nil {
		return &alert
	}
	stored, err := c.alerts.InsertAlert(ctx, alert)
	if err != nil {
		c.storageError("insert_alert", next.Key(), err)
		return &alert
	}
	return &stored
}

func (c *Cache) storageError(op string, key storage.ObservationKey, err error) {
	metrics.CacheErrorsTotal.WithLabelValues(op).Inc()
	c.logger.Error().Err(err).Str("op", op).Str("key", key.String()).Msg("reference cache storage error")
}

// DeltaPercent returns (next-prev)/prev*100 rounded to two places.
func DeltaPercent(prev, next int64) decimal.Decimal {
	if prev == 0 {
		return decimal.Zero
	}
	p := decimal.NewFromInt(prev)
	return decimal.NewFromInt(next).Sub(p).Div(p).Mul(hundred).Round(2)
}

func validate(obs storage.Observation) error {
	switch {
	case obs.PropertyKey == "":
		return errors.Join(ErrInvalidObservation, errors.New("empty property key"))
	case obs.LowestPrice <= 0:
		return errors.Join(ErrInvalidObservation, errors.New("non-positive price"))
	case !storage.Date(obs.CheckOut).After(storage.Date(obs.CheckIn)):
		return errors.Join(ErrInvalidObservation, errors.New("check_out must be after check_in"))
	case !obs.ExpiresAt.After(obs.ObservedAt):
		return errors.Join(ErrInvalidObservation, errors.New("expires_at must be after observed_at"))
	}
	return nil
}
