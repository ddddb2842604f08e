package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"hotel-rate-shadow/internal/affiliate"
	"hotel-rate-shadow/internal/alerting"
	"hotel-rate-shadow/internal/cache"
	"hotel-rate-shadow/internal/collector"
	"hotel-rate-shadow/internal/config"
	"hotel-rate-shadow/internal/fetcher"
	"hotel-rate-shadow/internal/logging"
	"hotel-rate-shadow/internal/metrics"
	"hotel-rate-shadow/internal/scheduler"
	"hotel-rate-shadow/internal/service"
	"hotel-rate-shadow/internal/shadowing"
	"hotel-rate-shadow/internal/storage"
	"hotel-rate-shadow/internal/supplier"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	openBackend func(ctx context.Context, cfg config.DatabaseConfig) (storage.Backend, error)
	fetcher     fetcher.MarketplaceFetcher
	rates       supplier.RateSource
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config:      cfg,
		Logger:      logging.Component(logger, "app"),
		openBackend: storage.Open,
	}
}

func (a *App) newFetcher() fetcher.MarketplaceFetcher {
	if a.fetcher != nil {
		return a.fetcher
	}
	return fetcher.NewMarket(fetcher.MarketOptions{
		BaseURL:   a.Config.Marketplace.BaseURL,
		Timeout:   a.Config.Marketplace.RequestTimeout,
		UserAgent: a.Config.Marketplace.UserAgent,
	}, a.Logger)
}

func (a *App) newRateSource() supplier.RateSource {
	if a.rates != nil {
		return a.rates
	}
	return supplier.NewClient(supplier.Options{
		BaseURL:   a.Config.Supplier.BaseURL,
		APIKey:    a.Config.Supplier.APIKey,
		Timeout:   a.Config.Supplier.RequestTimeout,
		UserAgent: a.Config.Supplier.UserAgent,
	}, a.Logger)
}

// newNotifier returns every configured channel, or the log channel when
// alerting is off or nothing is configured.
func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Alerting
	if !cfg.Enabled {
		return alerting.NewLogNotifier(a.Logger)
	}

	var channels alerting.MultiNotifier
	if cfg.Telegram.Enabled {
		channels = append(channels, alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Timeout, a.Logger))
	}
	if cfg.Webhook.Enabled {
		channels = append(channels, alerting.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Type, cfg.Timeout, a.Logger))
	}
	switch len(channels) {
	case 0:
		a.Logger.Warn().Msg("alerting enabled but no channel configured; alerts go to the log")
		return alerting.NewLogNotifier(a.Logger)
	case 1:
		return channels[0]
	default:
		return channels
	}
}

func (a *App) openStore(ctx context.Context) (storage.Backend, error) {
	backend, err := a.openBackend(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	if _, ok := backend.(*storage.Memory); ok {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
	}
	return backend, nil
}

// runtime is the wired pricing core.
type runtime struct {
	backend    storage.Backend
	cache      *cache.Cache
	collector  *collector.Collector
	engine     *shadowing.Engine
	rates      supplier.RateSource
	dispatcher *alerting.Dispatcher
}

func (r *runtime) Close() {
	if r.dispatcher != nil {
		_ = r.dispatcher.Close()
	}
	if r.backend != nil {
		r.backend.Close()
	}
}

func (a *App) buildRuntime(ctx context.Context) (*runtime, error) {
	backend, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	dispatcher := alerting.NewDispatcher(a.newNotifier(), a.Config.Alerting.QueueSize, a.Config.Alerting.Timeout, a.Logger)

	refCache := cache.New(backend, backend, cache.Options{
		TTL:               a.Config.Cache.TTL,
		AlertThresholdPct: a.Config.Cache.AlertThresholdPct,
	}, a.Logger)

	col := collector.New(a.newFetcher(), refCache, dispatcher, collector.Options{
		Provenance:  a.Config.Marketplace.Provenance,
		Concurrency: a.Config.Collector.Concurrency,
	}, a.Logger)

	var links shadowing.LinkComposer
	if a.Config.Affiliate.BaseURL != "" {
		links = affiliate.NewComposer(a.Config.Affiliate.PartnerID, a.Config.Affiliate.Secret)
	}

	rates := a.newRateSource()
	engine := shadowing.New(refCache, col, rates, links, dispatcher, shadowing.Options{
		OnDemandTimeout: a.Config.Shadowing.OnDemandTimeout,
		OnDemandCollect: a.Config.Shadowing.OnDemandCollect,
		BookingBaseURL:  a.Config.Affiliate.BaseURL,
	}, a.Logger)

	return &runtime{
		backend:    backend,
		cache:      refCache,
		collector:  col,
		engine:     engine,
		rates:      rates,
		dispatcher: dispatcher,
	}, nil
}

func (a *App) plan() collector.Plan {
	return collector.Plan{
		Destinations: a.Config.NormalizedDestinations(),
		OffsetsDays:  a.Config.Collector.OffsetsDays,
		Nights:       a.Config.Collector.Nights,
	}
}

// Run executes the long-running sweep service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	plan := a.plan()
	if len(plan.Destinations) == 0 {
		a.Logger.Warn().Msg("collector.destinations empty; sweeps will only evict")
	}

	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, a.Config.Metrics.Path, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Cron:         a.Config.Scheduler.Cron,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}

	var locker storage.AdvisoryLocker
	if l, ok := rt.backend.(storage.AdvisoryLocker); ok {
		locker = l
	}

	svc := service.New(sched, rt.collector, rt.cache, plan, locker, a.Config.Scheduler.AdvisoryLockKey, a.Logger)

	a.Logger.Info().Strs("destinations", plan.Destinations).Msg("starting reference sweep service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("reference sweep service stopped")
	return nil
}

// ExportOptions hold parameters for exporting the price alert log.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	Open      bool
}

// AlertsOptions configure the alerts listing.
type AlertsOptions struct {
	Limit int
	Open  bool
}

// SweepOptions configure a one-off sweep.
type SweepOptions struct {
	Destinations []string
	Evict        bool
}

// EvaluateOptions configure a one-off search evaluation.
type EvaluateOptions struct {
	Destination string
	CheckIn     time.Time
	CheckOut    time.Time
	SafeOnly    bool
}
