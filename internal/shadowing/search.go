package shadowing

import (
	"context"
	"errors"
	"time"

	"hotel-rate-shadow/internal/matcher"
	"hotel-rate-shadow/internal/storage"
	"hotel-rate-shadow/internal/supplier"
)

// ErrNoRateSource is returned by EvaluateSearch when no supplier is wired.
var ErrNoRateSource = errors.New("shadowing: no supplier configured")

// Offer pairs a decision with the link a customer would follow.
type Offer struct {
	Decision
	BookingURL string
}

// EvaluateSearch prices every supplier rate for a destination and stay window.
// A supplier failure yields no offers and the supplier error; it is never
// reported as an empty but successful search.
func (e *Engine) EvaluateSearch(ctx context.Context, destination string, checkIn, checkOut time.Time) ([]Offer, error) {
	if e.rates == nil {
		return nil, ErrNoRateSource
	}
	destination = matcher.NormalizeDestination(destination)

	rates, err := e.rates.Search(ctx, destination, checkIn, checkOut)
	if err != nil {
		return nil, err
	}

	// At most one marketplace fetch per search. Unlike Evaluate, a rate whose
	// property is missing from an already warm window gets no per-rate collect.
	warmed := e.prewarm(ctx, destination, checkIn, checkOut, len(rates))
	fallback := func(_ context.Context, _ supplier.Rate, _ string) ([]storage.Observation, Source) {
		if len(warmed) == 0 {
			return nil, SourceNone
		}
		return warmed, SourceOnDemand
	}

	offers := make([]Offer, 0, len(rates))
	for _, r := range rates {
		d := e.evaluate(ctx, r, fallback)
		offer := Offer{Decision: d}
		if d.Safe && e.links != nil && e.opts.BookingBaseURL != "" {
			offer.BookingURL = e.links.Compose(r.PropertyID, destination, e.opts.BookingBaseURL)
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

// prewarm runs one collection for the window when the cache holds nothing
// for it and returns what was collected.
func (e *Engine) prewarm(ctx context.Context, destination string, checkIn, checkOut time.Time, rates int) []storage.Observation {
	if rates == 0 || !e.opts.OnDemandCollect || e.collector == nil {
		return nil
	}
	in, out := storage.Date(checkIn), storage.Date(checkOut)
	for _, obs := range e.refs.GetAllForDestination(ctx, destination) {
		if obs.CheckIn.Equal(in) && obs.CheckOut.Equal(out) {
			return nil
		}
	}

	collected, err := e.collectWithin(ctx, destination, in, out)
	if err != nil {
		e.logger.Warn().Err(err).Str("destination", destination).Msg("search prewarm failed")
	}
	return collected
}

// Safe filters offers down to those that may be shown.
func Safe(offers []Offer) []Offer {
	out := make([]Offer, 0, len(offers))
	for _, o := range offers {
		if o.Safe {
			out = append(out, o)
		}
	}
	return out
}
