package supplier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"hotel-rate-shadow/internal/metrics"
	"hotel-rate-shadow/internal/version"
)

const (
	searchPath      = "/hotels/search"
	ratesPathFmt    = "/hotels/%s/rates"
	maxErrorSnippet = 256
)

// ErrSupplierUnavailable marks every failure to obtain rates from the supplier.
// Callers must treat it as "no rate to evaluate", never as a zero rate.
var ErrSupplierUnavailable = errors.New("supplier unavailable")

// UnavailableError carries the failing operation and upstream status.
type UnavailableError struct {
	Op     string
	Status int
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("supplier %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("supplier %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSupplierUnavailable) match.
func (e *UnavailableError) Is(target error) bool { return target == ErrSupplierUnavailable }

// Rate is one supplier offer; NetRate is the cost basis in minor units.
type Rate struct {
	PropertyID   string
	PropertyName string
	Destination  string
	CheckIn      time.Time
	CheckOut     time.Time
	NetRate      int64
	Currency     string
}

// RoomRate is one bookable room/board combination.
type RoomRate struct {
	RoomID     string
	Name       string
	BoardType  string
	Refundable bool
	NetRate    int64
	Currency   string
}

// RateDetails is the full breakdown for a single property.
type RateDetails struct {
	PropertyID   string
	PropertyName string
	CheckIn      time.Time
	CheckOut     time.Time
	Rooms        []RoomRate
}

// Lowest returns the cheapest room, if any.
func (d RateDetails) Lowest() (RoomRate, bool) {
	if len(d.Rooms) == 0 {
		return RoomRate{}, false
	}
	best := d.Rooms[0]
	for _, r := range d.Rooms[1:] {
		if r.NetRate < best.NetRate {
			best = r
		}
	}
	return best, true
}

// RateSource is the consumer-side view of the supplier client.
type RateSource interface {
	Search(ctx context.Context, destination string, checkIn, checkOut time.Time) ([]Rate, error)
	RateDetails(ctx context.Context, propertyID string, checkIn, checkOut time.Time) (RateDetails, error)
}

// Options parameterise the REST client.
type Options struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Client queries the affiliate supplier. It keeps no cache.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a supplier client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "supplier_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Search lists available properties and net rates for a stay window.
func (c *Client) Search(ctx context.Context, destination string, checkIn, checkOut time.Time) ([]Rate, error) {
	const op = "search"

	q := url.Values{}
	q.Set("destination", destination)
	q.Set("check_in", checkIn.Format(time.DateOnly))
	q.Set("check_out", checkOut.Format(time.DateOnly))

	var res searchResponse
	if err := c.get(ctx, op, searchPath, q, &res); err != nil {
		return nil, err
	}

	rates := make([]Rate, 0, len(res.Hotels))
	for _, h := range res.Hotels {
		rate, err := h.toRate(destination, checkIn, checkOut)
		if err != nil {
			c.logger.Warn().Err(err).Str("property_id", h.PropertyID).Msg("skipping malformed supplier rate")
			continue
		}
		rates = append(rates, rate)
	}

	metrics.SupplierRequestsTotal.WithLabelValues(op, "ok").Inc()
	c.logger.Debug().Str("destination", destination).Int("rates", len(rates)).Msg("supplier search completed")
	return rates, nil
}

// RateDetails returns the room breakdown for one property.
func (c *Client) RateDetails(ctx context.Context, propertyID string, checkIn, checkOut time.Time) (RateDetails, error) {
	const op = "rate_details"

	if strings.TrimSpace(propertyID) == "" {
		return RateDetails{}, &UnavailableError{Op: op, Err: errors.New("property id required")}
	}

	q := url.Values{}
	q.Set("check_in", checkIn.Format(time.DateOnly))
	q.Set("check_out", checkOut.Format(time.DateOnly))

	var res detailsResponse
	path := fmt.Sprintf(ratesPathFmt, url.PathEscape(propertyID))
	if err := c.get(ctx, op, path, q, &res); err != nil {
		return RateDetails{}, err
	}

	details := RateDetails{
		PropertyID:   res.PropertyID,
		PropertyName: res.PropertyName,
		CheckIn:      checkIn,
		CheckOut:     checkOut,
		Rooms:        make([]RoomRate, 0, len(res.Rooms)),
	}
	if details.PropertyID == "" {
		details.PropertyID = propertyID
	}
	for _, r := range res.Rooms {
		if r.NetRate <= 0 {
			continue
		}
		details.Rooms = append(details.Rooms, RoomRate{
			RoomID:     r.RoomID,
			Name:       r.Name,
			BoardType:  r.BoardType,
			Refundable: r.Refundable,
			NetRate:    r.NetRate,
			Currency:   r.Currency,
		})
	}

	metrics.SupplierRequestsTotal.WithLabelValues(op, "ok").Inc()
	return details, nil
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	fail := func(status int, err error) error {
		metrics.SupplierRequestsTotal.WithLabelValues(op, "unavailable").Inc()
		c.logger.Warn().Err(err).Str("op", op).Int("status", status).Msg("supplier request failed")
		return &UnavailableError{Op: op, Status: status, Err: err}
	}

	if c.baseURL == "" {
		return fail(0, errors.New("supplier base url not configured"))
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}
	if c.opts.APIKey != "" {
		req.Header.Set("X-API-Key", c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(resp.StatusCode, parseHTTPError(payload))
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type searchResponse struct {
	Hotels []hotelRate `json:"hotels"`
}

type hotelRate struct {
	PropertyID   string `json:"property_id"`
	PropertyName string `json:"property_name"`
	Destination  string `json:"destination"`
	CheckIn      string `json:"check_in"`
	CheckOut     string `json:"check_out"`
	NetRate      int64  `json:"net_rate"`
	Currency     string `json:"currency"`
}

func (h hotelRate) toRate(destination string, checkIn, checkOut time.Time) (Rate, error) {
	if h.PropertyID == "" || strings.TrimSpace(h.PropertyName) == "" {
		return Rate{}, errors.New("missing property id or name")
	}
	if h.NetRate <= 0 {
		return Rate{}, fmt.Errorf("non-positive net rate %d", h.NetRate)
	}

	rate := Rate{
		PropertyID:   h.PropertyID,
		PropertyName: h.PropertyName,
		Destination:  h.Destination,
		CheckIn:      checkIn,
		CheckOut:     checkOut,
		NetRate:      h.NetRate,
		Currency:     strings.ToUpper(h.Currency),
	}
	if rate.Destination == "" {
		rate.Destination = destination
	}
	if h.CheckIn != "" {
		t, err := time.Parse(time.DateOnly, h.CheckIn)
		if err != nil {
			return Rate{}, fmt.Errorf("parse check_in: %w", err)
		}
		rate.CheckIn = t
	}
	if h.CheckOut != "" {
		t, err := time.Parse(time.DateOnly, h.CheckOut)
		if err != nil {
			return Rate{}, fmt.Errorf("parse check_out: %w", err)
		}
		rate.CheckOut = t
	}
	return rate, nil
}

type detailsResponse struct {
	PropertyID   string `json:"property_id"`
	PropertyName string `json:"property_name"`
	Rooms        []struct {
		RoomID     string `json:"room_id"`
		Name       string `json:"name"`
		BoardType  string `json:"board_type"`
		Refundable bool   `json:"refundable"`
		NetRate    int64  `json:"net_rate"`
		Currency   string `json:"currency"`
	} `json:"rooms"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
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
		if apiErr.Code != "" {
			return errors.New(apiErr.Code)
		}
	}
	text := strings.TrimSpace(string(payload))
	if len(text) > maxErrorSnippet {
		text = text[:maxErrorSnippet]
	}
	if text != "" {
		return errors.New(text)
	}
	return errors.New("empty error response")
}

var _ RateSource = (*Client)(nil)
