// Package shadowing decides the sale price of a supplier rate by matching it
// against the public marketplace reference. The sale price is the reference
// price or nothing: a rate without a usable reference, or one that would sell
// below cost, is never offered.
package shadowing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hotel-rate-shadow/internal/alerting"
	"hotel-rate-shadow/internal/matcher"
	"hotel-rate-shadow/internal/metrics"
	"hotel-rate-shadow/internal/storage"
	"hotel-rate-shadow/internal/supplier"
)

// Reason explains a decision.
type Reason string

const (
	ReasonOK             Reason = "ok"
	ReasonNoReference    Reason = "no_reference"
	ReasonNegativeMargin Reason = "negative_margin"
	ReasonStaleReference Reason = "stale_reference"
)

// Source tells where the reference came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceOnDemand Source = "on_demand"
	SourceNone     Source = "none"
)

// MarginLevel buckets MarginPercent for operators.
type MarginLevel string

const (
	MarginSafe    MarginLevel = "safe"
	MarginLow     MarginLevel = "low"
	MarginWarning MarginLevel = "warning"
	MarginDanger  MarginLevel = "danger"
	MarginUnknown MarginLevel = "unknown"
)

// User-facing messages for decisions that are not offered.
const (
	MessageUnderReview = "pricing under review, please retry shortly"
	MessageUnavailable = "property temporarily unavailable"
)

var (
	hundred  = decimal.NewFromInt(100)
	ten      = decimal.NewFromInt(10)
	five     = decimal.NewFromInt(5)
	zeroRate = decimal.Zero
)

// Decision is the outcome of evaluating one supplier rate.
// FinalPrice and Margin are only meaningful when Safe is true.
type Decision struct {
	PropertyID    string
	PropertyName  string
	Destination   string
	CheckIn       time.Time
	CheckOut      time.Time
	NetRate       int64
	Currency      string
	FinalPrice    int64
	Margin        int64
	MarginPercent decimal.Decimal
	MarginLevel   MarginLevel
	Matched       bool
	Safe          bool
	Reason        Reason
	Source        Source
	Reference     *storage.Observation
	Message       string
	DecidedAt     time.Time
}

// References is the read side of the reference cache.
type References interface {
	Get(ctx context.Context, propertyKey string, checkIn, checkOut time.Time) (storage.Observation, bool)
	GetAllForDestination(ctx context.Context, destination string) []storage.Observation
	Now() time.Time
}

// Collector fetches a single window on demand.
type Collector interface {
	Collect(ctx context.Context, destination string, checkIn, checkOut time.Time) ([]storage.Observation, error)
}

// LinkComposer decorates booking URLs.
type LinkComposer interface {
	Compose(propertyID, destination, baseURL string) string
}

// Options tune the engine.
type Options struct {
	OnDemandTimeout time.Duration
	OnDemandCollect bool
	BookingBaseURL  string
}

// Engine evaluates supplier rates.
type Engine struct {
	refs      References
	collector Collector
	rates     supplier.RateSource
	links     LinkComposer
	notifier  alerting.Notifier
	opts      Options
	logger    zerolog.Logger
}

// New builds an engine. collector, rates, links and notifier may be nil; the
// corresponding paths are then skipped.
func New(refs References, collector Collector, rates supplier.RateSource, links LinkComposer, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Engine {
	if opts.OnDemandTimeout <= 0 {
		opts.OnDemandTimeout = 3 * time.Second
	}
	return &Engine{
		refs:      refs,
		collector: collector,
		rates:     rates,
		links:     links,
		notifier:  notifier,
		opts:      opts,
		logger:    logger.With().Str("component", "shadowing_engine").Logger(),
	}
}

// Evaluate decides whether and at what price the rate may be offered.
func (e *Engine) Evaluate(ctx context.Context, rate supplier.Rate) Decision {
	return e.evaluate(ctx, rate, e.onDemand)
}

func (e *Engine) evaluate(ctx context.Context, rate supplier.Rate, fallback lookupFunc) Decision {
	d := Decision{
		PropertyID:   rate.PropertyID,
		PropertyName: rate.PropertyName,
		Destination:  matcher.NormalizeDestination(rate.Destination),
		CheckIn:      storage.Date(rate.CheckIn),
		CheckOut:     storage.Date(rate.CheckOut),
		NetRate:      rate.NetRate,
		Currency:     rate.Currency,
		MarginLevel:  MarginUnknown,
		Source:       SourceNone,
	}

	candidates, source := e.lookup(ctx, rate, fallback)
	ref, ok := matcher.Match(rate, candidates)
	if !ok {
		return e.finish(d, ReasonNoReference)
	}

	d.Matched = true
	d.Source = source
	d.Reference = &ref

	if !ref.Fresh(e.refs.Now()) {
		return e.finish(d, ReasonStaleReference)
	}

	margin := ref.LowestPrice - rate.NetRate
	d.MarginPercent = marginPercent(margin, rate.NetRate)
	d.MarginLevel = Level(d.MarginPercent)

	if margin < 0 {
		d = e.finish(d, ReasonNegativeMargin)
		e.notifyNegativeMargin(ctx, d, ref)
		return d
	}

	d.Safe = true
	d.FinalPrice = ref.LowestPrice
	d.Margin = margin
	if d.Currency == "" {
		d.Currency = ref.Currency
	}
	return e.finish(d, ReasonOK)
}

// lookupFunc supplies candidates after a cache miss.
type lookupFunc func(ctx context.Context, rate supplier.Rate, key string) ([]storage.Observation, Source)

// lookup returns match candidates: the cached reference, or failing that
// whatever fallback produces.
func (e *Engine) lookup(ctx context.Context, rate supplier.Rate, fallback lookupFunc) ([]storage.Observation, Source) {
	key := matcher.PropertyKey(rate.PropertyName, rate.Destination)
	if obs, ok := e.refs.Get(ctx, key, rate.CheckIn, rate.CheckOut); ok {
		return []storage.Observation{obs}, SourceCache
	}
	if fallback == nil {
		return nil, SourceNone
	}
	return fallback(ctx, rate, key)
}

// onDemand runs one bounded collection for the rate's window, then retries the
// cache. Freshly collected observations are candidates too, so a storage
// failure during the write does not hide them.
func (e *Engine) onDemand(ctx context.Context, rate supplier.Rate, key string) ([]storage.Observation, Source) {
	if !e.opts.OnDemandCollect || e.collector == nil {
		return nil, SourceNone
	}

	collected, err := e.collectWithin(ctx, rate.Destination, rate.CheckIn, rate.CheckOut)
	if err != nil {
		e.logger.Warn().Err(err).
			Str("property_key", key).
			Bool("timeout", errors.Is(err, context.DeadlineExceeded)).
			Msg("on-demand collection failed")
	}

	candidates := make([]storage.Observation, 0, len(collected)+1)
	if obs, ok := e.refs.Get(ctx, key, rate.CheckIn, rate.CheckOut); ok {
		candidates = append(candidates, obs)
	}
	candidates = append(candidates, collected...)
	return candidates, SourceOnDemand
}

type collectResult struct {
	observations []storage.Observation
	err          error
}

// collectWithin runs one collection but returns after OnDemandTimeout even
// when the fetcher ignores cancellation. An abandoned collection keeps running
// in the background; it only ever writes whole observations.
func (e *Engine) collectWithin(ctx context.Context, destination string, checkIn, checkOut time.Time) ([]storage.Observation, error) {
	cctx, cancel := context.WithTimeout(ctx, e.opts.OnDemandTimeout)
	done := make(chan collectResult, 1)
	go func() {
		defer cancel()
		obs, err := e.collector.Collect(cctx, destination, checkIn, checkOut)
		done <- collectResult{observations: obs, err: err}
	}()

	select {
	case res := <-done:
		return res.observations, res.err
	case <-cctx.Done():
		select {
		case res := <-done:
			return res.observations, res.err
		default:
		}
		metrics.OnDemandAbandonedTotal.Inc()
		return nil, cctx.Err()
	}
}

func (e *Engine) finish(d Decision, reason Reason) Decision {
	d.Reason = reason
	d.DecidedAt = e.refs.Now()
	switch reason {
	case ReasonOK:
	case ReasonNegativeMargin:
		d.Message = MessageUnderReview
	default:
		d.Message = MessageUnavailable
	}
	if !d.Safe {
		d.FinalPrice = 0
		d.Margin = 0
	}

	metrics.DecisionsTotal.WithLabelValues(string(reason), string(d.Source)).Inc()
	e.logger.Debug().
		Str("property_id", d.PropertyID).
		Str("reason", string(reason)).
		Str("source", string(d.Source)).
		Int64("net_rate", d.NetRate).
		Int64("final_price", d.FinalPrice).
		Msg("rate evaluated")
	return d
}

func (e *Engine) notifyNegativeMargin(ctx context.Context, d Decision, ref storage.Observation) {
	e.logger.Warn().
		Str("property_id", d.PropertyID).
		Str("property_key", ref.PropertyKey).
		Int64("net_rate", d.NetRate).
		Int64("reference_price", ref.LowestPrice).
		Msg("negative margin, rate withheld")

	if e.notifier == nil {
		return
	}
	event := alerting.Event{
		Type:    alerting.EventNegativeMargin,
		Time:    d.DecidedAt,
		Subject: fmt.Sprintf("negative margin: %s", d.PropertyName),
		Fields: map[string]string{
			"property_id":     d.PropertyID,
			"property_key":    ref.PropertyKey,
			"destination":     d.Destination,
			"check_in":        d.CheckIn.Format(time.DateOnly),
			"check_out":       d.CheckOut.Format(time.DateOnly),
			"net_rate":        strconv.FormatInt(d.NetRate, 10),
			"reference_price": strconv.FormatInt(ref.LowestPrice, 10),
			"deficit":         strconv.FormatInt(ref.LowestPrice-d.NetRate, 10),
			"margin_pct":      d.MarginPercent.StringFixed(2),
			"currency":        d.Currency,
		},
	}
	// fire and forget; the decision does not wait on delivery
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.logger.Error().Err(err).Str("property_id", d.PropertyID).Msg("negative margin alert not queued")
	}
}

func marginPercent(margin, netRate int64) decimal.Decimal {
	if netRate <= 0 {
		return zeroRate
	}
	return decimal.NewFromInt(margin).Div(decimal.NewFromInt(netRate)).Mul(hundred).Round(2)
}

// Level maps a margin percentage to an operator indicator.
func Level(pct decimal.Decimal) MarginLevel {
	switch {
	case pct.GreaterThanOrEqual(ten):
		return MarginSafe
	case pct.GreaterThanOrEqual(five):
		return MarginLow
	case pct.GreaterThanOrEqual(zeroRate):
		return MarginWarning
	default:
		return MarginDanger
	}
}
