package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hotel-rate-shadow/internal/alerting"
	"hotel-rate-shadow/internal/cache"
	"hotel-rate-shadow/internal/collector"
	"hotel-rate-shadow/internal/fetcher"
	"hotel-rate-shadow/internal/shadowing"
	"hotel-rate-shadow/internal/storage"
	"hotel-rate-shadow/internal/supplier"
)

// SimulateOptions describe a synthetic rate evaluation.
type SimulateOptions struct {
	PropertyName   string
	Destination    string
	NetRate        int64
	ReferencePrice int64
	Currency       string
}

// SimulateAlert 使用给定的净价/参考价走一遍定价流程，并同步发送告警。
// A safe result sends a test event instead so channels can still be checked.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (shadowing.Decision, error) {
	if !a.Config.Alerting.Enabled {
		return shadowing.Decision{}, errors.New("alerting 未启用")
	}
	if opts.NetRate <= 0 || opts.ReferencePrice <= 0 {
		return shadowing.Decision{}, errors.New("net rate and reference price must be positive")
	}
	if opts.PropertyName == "" {
		opts.PropertyName = "Simulated Hotel"
	}
	if opts.Destination == "" {
		opts.Destination = "SIM"
	}

	notifier := a.newNotifier()

	checkIn := storage.Date(time.Now().UTC()).AddDate(0, 0, 1)
	checkOut := checkIn.AddDate(0, 0, 1)

	mem := storage.NewMemory()
	refCache := cache.New(mem, mem, cache.Options{
		TTL:               a.Config.Cache.TTL,
		AlertThresholdPct: a.Config.Cache.AlertThresholdPct,
	}, a.Logger)
	market := &staticMarketFetcher{listing: fetcher.Listing{
		PropertyName: opts.PropertyName,
		Price:        opts.ReferencePrice,
		Currency:     opts.Currency,
	}}
	col := collector.New(market, refCache, notifier, collector.Options{Provenance: "simulated"}, a.Logger)
	engine := shadowing.New(refCache, col, nil, nil, notifier, shadowing.Options{
		OnDemandTimeout: a.Config.Shadowing.OnDemandTimeout,
		OnDemandCollect: true,
	}, a.Logger)

	decision := engine.Evaluate(ctx, supplier.Rate{
		PropertyID:   "simulated",
		PropertyName: opts.PropertyName,
		Destination:  opts.Destination,
		CheckIn:      checkIn,
		CheckOut:     checkOut,
		NetRate:      opts.NetRate,
		Currency:     opts.Currency,
	})

	if decision.Reason != shadowing.ReasonNegativeMargin {
		event := alerting.Event{
			Type:    alerting.EventTest,
			Time:    time.Now().UTC(),
			Subject: fmt.Sprintf("simulated evaluation: %s", opts.PropertyName),
			Fields: map[string]string{
				"reason":     string(decision.Reason),
				"net_rate":   fmt.Sprintf("%d", decision.NetRate),
				"final":      fmt.Sprintf("%d", decision.FinalPrice),
				"margin_pct": decision.MarginPercent.StringFixed(2),
			},
		}
		if err := notifier.Notify(ctx, event); err != nil {
			return decision, err
		}
	}
	return decision, nil
}

type staticMarketFetcher struct {
	listing fetcher.Listing
}

func (s *staticMarketFetcher) FetchLowestPrices(ctx context.Context, destination string, checkIn, checkOut time.Time) ([]fetcher.Listing, error) {
	return []fetcher.Listing{s.listing}, nil
}

var _ fetcher.MarketplaceFetcher = (*staticMarketFetcher)(nil)
