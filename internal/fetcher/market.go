package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"hotel-rate-shadow/internal/version"
)

const searchPath = "/lowest-prices"

// ErrMarketplace marks every failure to read the marketplace.
var ErrMarketplace = errors.New("marketplace fetch failed")

// FetchError carries the upstream status of a failed fetch.
type FetchError struct {
	Destination string
	Status      int
	Err         error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("marketplace %s (%d): %v", e.Destination, e.Status, e.Err)
	}
	return fmt.Sprintf("marketplace %s: %v", e.Destination, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrMarketplace }

// MarketOptions parameterise the marketplace sidecar client.
type MarketOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Market asks a scraping sidecar for the lowest listed price per property.
// The sidecar owns browser automation; this side only speaks JSON.
type Market struct {
	opts    MarketOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMarket constructs a marketplace fetcher.
func NewMarket(opts MarketOptions, logger zerolog.Logger) *Market {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Market{
		opts:    opts,
		logger:  logger.With().Str("component", "market_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// FetchLowestPrices posts the stay window to the sidecar and returns its listings.
func (m *Market) FetchLowestPrices(ctx context.Context, destination string, checkIn, checkOut time.Time) ([]Listing, error) {
	fail := func(status int, err error) error {
		return &FetchError{Destination: destination, Status: status, Err: err}
	}

	if m.baseURL == "" {
		return nil, fail(0, errors.New("marketplace base url not configured"))
	}
	if !checkOut.After(checkIn) {
		return nil, fail(0, errors.New("check_out must be after check_in"))
	}

	body, err := json.Marshal(searchRequest{
		Destination: destination,
		CheckIn:     checkIn.Format(time.DateOnly),
		CheckOut:    checkOut.Format(time.DateOnly),
	})
	if err != nil {
		return nil, fail(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fail(0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fail(0, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fail(resp.StatusCode, parseHTTPError(payload))
	}

	var res searchResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("decode listings: %w", err))
	}

	listings := make([]Listing, 0, len(res.Listings))
	for _, l := range res.Listings {
		listings = append(listings, Listing{
			PropertyName: l.Name,
			Price:        l.Price,
			Currency:     strings.ToUpper(strings.TrimSpace(l.Currency)),
		})
	}

	m.logger.Debug().
		Str("destination", destination).
		Time("check_in", checkIn).
		Int("listings", len(listings)).
		Msg("marketplace listings fetched")
	return listings, nil
}

type searchRequest struct {
	Destination string `json:"destination"`
	CheckIn     string `json:"check_in"`
	CheckOut    string `json:"check_out"`
}

type searchResponse struct {
	Listings []struct {
		Name     string `json:"name"`
		Price    int64  `json:"price"`
		Currency string `json:"currency"`
	} `json:"listings"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return errors.New(apiErr.Message)
		}
		if apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return errors.New(strings.TrimSpace(string(payload)))
	}
	return errors.New("empty response")
}

var _ MarketplaceFetcher = (*Market)(nil)
