package fetcher

import (
	"context"
	"time"
)

// Listing is one property's lowest public price as shown on the marketplace.
type Listing struct {
	PropertyName string
	Price        int64
	Currency     string
}

// MarketplaceFetcher retrieves lowest public prices for a destination and stay window.
// An empty result with a nil error means the marketplace listed nothing.
type MarketplaceFetcher interface {
	FetchLowestPrices(ctx context.Context, destination string, checkIn, checkOut time.Time) ([]Listing, error)
}
