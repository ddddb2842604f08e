package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Sweep runs a single scheduled sweep in the foreground.
func (a *App) Sweep(ctx context.Context, opts SweepOptions) error {
	return a.sweep(ctx, opts, os.Stdout)
}

func (a *App) sweep(ctx context.Context, opts SweepOptions, out io.Writer) error {
	rt, err := a.buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	plan := a.plan()
	if len(opts.Destinations) > 0 {
		plan.Destinations = opts.Destinations
	}
	if len(plan.Destinations) == 0 {
		return fmt.Errorf("no destinations: set collector.destinations or pass --destination")
	}

	report := rt.collector.RunScheduledSweep(ctx, plan)
	fmt.Fprintf(out, "windows=%d collected=%d skipped=%d failed=%d observations=%d duration=%s\n",
		report.Windows, report.Collected, report.Skipped, report.Failed, report.Observations, report.Duration.Round(time.Millisecond))
	for _, err := range report.Errors {
		fmt.Fprintf(out, "  error: %s\n", sanitizeInline(err.Error()))
	}

	if opts.Evict {
		fmt.Fprintf(out, "evicted=%d\n", rt.cache.EvictExpired(ctx))
	}
	if report.Windows > 0 && report.Failed == report.Windows {
		return fmt.Errorf("all %d windows failed", report.Windows)
	}
	return nil
}

// Evict removes expired observations once.
func (a *App) Evict(ctx context.Context) error {
	rt, err := a.buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Fprintf(os.Stdout, "evicted=%d\n", rt.cache.EvictExpired(ctx))
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
