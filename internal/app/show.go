package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"hotel-rate-shadow/internal/storage"
)

// Alerts prints recent price alerts.
func (a *App) Alerts(ctx context.Context, opts AlertsOptions) error {
	return a.alerts(ctx, opts, os.Stdout)
}

func (a *App) alerts(ctx context.Context, opts AlertsOptions, out io.Writer) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	filter := storage.AlertFilter{Limit: opts.Limit}
	if opts.Open {
		filter.Status = storage.AlertOpen
	}
	alerts, err := store.ListAlerts(ctx, filter)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tID\tProperty\tStay\tPrevious\tNew\tDelta%\tKind\tStatus")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s..%s\t%d\t%d\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.ID,
			sanitizeInline(alert.PropertyName),
			alert.CheckIn.Format(time.DateOnly),
			alert.CheckOut.Format(time.DateOnly),
			alert.PreviousPrice,
			alert.NewPrice,
			alert.DeltaPercent.StringFixed(2),
			alert.Kind,
			alert.Status,
		)
	}

	writer.Flush()
	return nil
}

// Acknowledge marks a price alert as handled.
func (a *App) Acknowledge(ctx context.Context, id string) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.AcknowledgeAlert(ctx, id); err != nil {
		return fmt.Errorf("acknowledge %s: %w", id, err)
	}
	a.Logger.Info().Str("alert_id", id).Msg("alert acknowledged")
	return nil
}
