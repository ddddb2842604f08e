package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"hotel-rate-shadow/internal/shadowing"
	"hotel-rate-shadow/internal/supplier"
)

// Evaluate prices every supplier rate for a destination and stay window and
// prints the decisions.
func (a *App) Evaluate(ctx context.Context, opts EvaluateOptions) error {
	return a.evaluate(ctx, opts, os.Stdout)
}

func (a *App) evaluate(ctx context.Context, opts EvaluateOptions, out io.Writer) error {
	if !opts.CheckOut.After(opts.CheckIn) {
		return errors.New("check-out must be after check-in")
	}

	rt, err := a.buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	offers, err := rt.engine.EvaluateSearch(ctx, opts.Destination, opts.CheckIn, opts.CheckOut)
	if errors.Is(err, supplier.ErrSupplierUnavailable) {
		fmt.Fprintln(out, shadowing.MessageUnavailable)
		return err
	}
	if err != nil {
		return err
	}
	if opts.SafeOnly {
		offers = shadowing.Safe(offers)
	}
	if len(offers) == 0 {
		fmt.Fprintln(out, "no offers")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Property\tNet\tReference\tFinal\tMargin%\tLevel\tReason\tSource\tMessage")
	for _, o := range offers {
		reference := "-"
		if o.Reference != nil {
			reference = fmt.Sprintf("%d", o.Reference.LowestPrice)
		}
		final := "-"
		if o.Safe {
			final = fmt.Sprintf("%d", o.FinalPrice)
		}
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.PropertyName,
			o.NetRate,
			reference,
			final,
			o.MarginPercent.StringFixed(2),
			o.MarginLevel,
			o.Reason,
			o.Source,
			o.Message,
		)
	}
	writer.Flush()

	for _, o := range offers {
		if o.BookingURL == "" {
			continue
		}
		fmt.Fprintf(out, "%s: %s\n", o.PropertyName, o.BookingURL)
		if room, ok := a.lowestRoom(ctx, rt.rates, o); ok {
			fmt.Fprintf(out, "  room: %s (%s, refundable=%t)\n", room.Name, room.BoardType, room.Refundable)
		}
	}
	return nil
}

// lowestRoom loads the room breakdown of a selected property. Failures only
// cost the room line; the offer itself stands.
func (a *App) lowestRoom(ctx context.Context, rates supplier.RateSource, o shadowing.Offer) (supplier.RoomRate, bool) {
	if rates == nil {
		return supplier.RoomRate{}, false
	}
	details, err := rates.RateDetails(ctx, o.PropertyID, o.CheckIn, o.CheckOut)
	if err != nil {
		a.Logger.Warn().Err(err).Str("property_id", o.PropertyID).Msg("rate details unavailable")
		return supplier.RoomRate{}, false
	}
	return details.Lowest()
}
