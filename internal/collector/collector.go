// Package collector turns marketplace listings into reference observations,
// either on demand for one stay window or as a scheduled sweep.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"hotel-rate-shadow/internal/alerting"
	"hotel-rate-shadow/internal/cache"
	"hotel-rate-shadow/internal/fetcher"
	"hotel-rate-shadow/internal/matcher"
	"hotel-rate-shadow/internal/metrics"
	"hotel-rate-shadow/internal/storage"
)

// ErrCollection marks a window whose marketplace fetch failed.
var ErrCollection = errors.New("collection failed")

// CollectionError reports the failing window.
type CollectionError struct {
	Destination string
	CheckIn     time.Time
	CheckOut    time.Time
	Err         error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect %s %s..%s: %v", e.Destination,
		e.CheckIn.Format(time.DateOnly), e.CheckOut.Format(time.DateOnly), e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

func (e *CollectionError) Is(target error) bool { return target == ErrCollection }

// Options configure a Collector.
type Options struct {
	Provenance  string
	Concurrency int
}

// Collector fetches marketplace listings and writes them to the cache.
type Collector struct {
	fetcher  fetcher.MarketplaceFetcher
	cache    *cache.Cache
	notifier alerting.Notifier
	opts     Options
	logger   zerolog.Logger
}

// New builds a collector. notifier may be nil.
func New(f fetcher.MarketplaceFetcher, c *cache.Cache, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Collector {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Provenance == "" {
		opts.Provenance = "marketplace"
	}
	return &Collector{
		fetcher:  f,
		cache:    c,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With().Str("component", "collector").Logger(),
	}
}

// Collect fetches one destination and stay window and stores the results.
// An empty listing is a valid outcome, not an error.
func (c *Collector) Collect(ctx context.Context, destination string, checkIn, checkOut time.Time) ([]storage.Observation, error) {
	destination = matcher.NormalizeDestination(destination)
	checkIn, checkOut = storage.Date(checkIn), storage.Date(checkOut)

	started := time.Now()
	listings, err := c.fetcher.FetchLowestPrices(ctx, destination, checkIn, checkOut)
	metrics.CollectionDurationSeconds.WithLabelValues(destination).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.CollectionsTotal.WithLabelValues(destination, "failed").Inc()
		return nil, &CollectionError{Destination: destination, CheckIn: checkIn, CheckOut: checkOut, Err: err}
	}

	observedAt := c.cache.Now()
	observations := c.build(destination, checkIn, checkOut, observedAt, listings)
	for _, obs := range observations {
		if alert := c.cache.Put(ctx, obs); alert != nil {
			c.notifyPriceAlert(ctx, *alert)
		}
	}

	outcome := "ok"
	if len(observations) == 0 {
		outcome = "empty"
	}
	metrics.CollectionsTotal.WithLabelValues(destination, outcome).Inc()
	c.logger.Debug().
		Str("destination", destination).
		Time("check_in", checkIn).
		Int("listings", len(listings)).
		Int("observations", len(observations)).
		Msg("window collected")
	return observations, nil
}

// build normalises listings into observations, keeping the cheapest listing
// when the marketplace shows the same property more than once.
func (c *Collector) build(destination string, checkIn, checkOut, observedAt time.Time, listings []fetcher.Listing) []storage.Observation {
	index := make(map[string]int, len(listings))
	out := make([]storage.Observation, 0, len(listings))
	for _, l := range listings {
		name := strings.TrimSpace(l.PropertyName)
		if matcher.NormalizeName(name) == "" || l.Price <= 0 {
			c.logger.Debug().Str("name", l.PropertyName).Int64("price", l.Price).Msg("skipping unusable listing")
			continue
		}
		key := matcher.PropertyKey(name, destination)
		obs := c.cache.Stamp(storage.Observation{
			PropertyKey:  key,
			PropertyName: name,
			Destination:  destination,
			CheckIn:      checkIn,
			CheckOut:     checkOut,
			LowestPrice:  l.Price,
			Currency:     l.Currency,
			Provenance:   c.opts.Provenance,
		}, observedAt)

		if i, dup := index[key]; dup {
			if obs.LowestPrice < out[i].LowestPrice {
				out[i] = obs
			}
			continue
		}
		index[key] = len(out)
		out = append(out, obs)
	}
	return out
}

func (c *Collector) notifyPriceAlert(ctx context.Context, alert storage.PriceAlert) {
	if c.notifier == nil {
		return
	}
	event := alerting.Event{
		Type:    alerting.EventPriceAlert,
		Time:    alert.CreatedAt,
		Subject: fmt.Sprintf("%s: %s", strings.ReplaceAll(string(alert.Kind), "_", " "), alert.PropertyName),
		Fields: map[string]string{
			"property_key":   alert.PropertyKey,
			"destination":    alert.Destination,
			"check_in":       alert.CheckIn.Format(time.DateOnly),
			"check_out":      alert.CheckOut.Format(time.DateOnly),
			"previous_price": strconv.FormatInt(alert.PreviousPrice, 10),
			"new_price":      strconv.FormatInt(alert.NewPrice, 10),
			"delta_pct":      alert.DeltaPercent.StringFixed(2),
			"currency":       alert.Currency,
		},
	}
	if err := c.notifier.Notify(ctx, event); err != nil {
		c.logger.Warn().Err(err).Str("property_key", alert.PropertyKey).Msg("price alert notification not queued")
	}
}

// Window is one (destination, stay) slot of a sweep.
type Window struct {
	Destination string
	CheckIn     time.Time
	CheckOut    time.Time
}

// Plan lists the destinations and day offsets a sweep covers.
type Plan struct {
	Destinations []string
	OffsetsDays  []int
	Nights       int
}

// Windows expands the plan relative to today.
func (p Plan) Windows(today time.Time) []Window {
	nights := p.Nights
	if nights <= 0 {
		nights = 1
	}
	today = storage.Date(today)
	out := make([]Window, 0, len(p.Destinations)*len(p.OffsetsDays))
	for _, d := range p.Destinations {
		d = matcher.NormalizeDestination(d)
		if d == "" {
			continue
		}
		for _, off := range p.OffsetsDays {
			in := today.AddDate(0, 0, off)
			out = append(out, Window{Destination: d, CheckIn: in, CheckOut: in.AddDate(0, 0, nights)})
		}
	}
	return out
}

// SweepReport summarises a scheduled sweep.
type SweepReport struct {
	Windows      int
	Collected    int
	Skipped      int
	Failed       int
	Observations int
	Errors       []error
	Duration     time.Duration
}

// RunScheduledSweep collects every window of the plan with bounded
// parallelism. A failing window is logged and counted; the sweep continues.
func (c *Collector) RunScheduledSweep(ctx context.Context, plan Plan) SweepReport {
	started := time.Now()
	windows := plan.Windows(c.cache.Now())
	report := SweepReport{Windows: len(windows)}

	fresh := c.freshWindows(ctx, windows)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for _, w := range windows {
		if fresh[windowKey(w.Destination, w.CheckIn, w.CheckOut)] {
			report.Skipped++
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			obs, err := c.Collect(gctx, w.Destination, w.CheckIn, w.CheckOut)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Errors = append(report.Errors, err)
				c.logger.Warn().Err(err).Str("destination", w.Destination).Time("check_in", w.CheckIn).Msg("window collection failed")
				return nil
			}
			report.Collected++
			report.Observations += len(obs)
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(started)
	c.logger.Info().
		Int("windows", report.Windows).
		Int("collected", report.Collected).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("observations", report.Observations).
		Dur("duration", report.Duration).
		Msg("sweep finished")
	return report
}

// freshWindows marks windows the cache already covers for at least half a TTL.
// Anything older is re-fetched so consecutive sweeps still compare prices.
func (c *Collector) freshWindows(ctx context.Context, windows []Window) map[string]bool {
	horizon := c.cache.Now().Add(c.cache.TTL() / 2)
	seen := make(map[string]bool)
	fresh := make(map[string]bool)
	for _, w := range windows {
		if seen[w.Destination] {
			continue
		}
		seen[w.Destination] = true
		for _, obs := range c.cache.GetAllForDestination(ctx, w.Destination) {
			if !obs.Fresh(horizon) {
				continue
			}
			fresh[windowKey(w.Destination, obs.CheckIn, obs.CheckOut)] = true
		}
	}
	return fresh
}

func windowKey(destination string, checkIn, checkOut time.Time) string {
	return destination + "|" + storage.Date(checkIn).Format(time.DateOnly) + "|" + storage.Date(checkOut).Format(time.DateOnly)
}
