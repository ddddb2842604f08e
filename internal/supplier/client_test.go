package supplier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	checkIn  = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	checkOut = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
)

func TestSearchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hotels/search", r.URL.Path)
		assert.Equal(t, "SEL", r.URL.Query().Get("destination"))
		assert.Equal(t, "2026-03-01", r.URL.Query().Get("check_in"))
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"hotels": []map[string]any{
				{"property_id": "p1", "property_name": "HotelX", "net_rate": 120000, "currency": "krw"},
				{"property_id": "p2", "property_name": "Free Hotel", "net_rate": 0, "currency": "KRW"},
				{"property_id": "", "property_name": "Nameless", "net_rate": 1000, "currency": "KRW"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL + "/", APIKey: "key", Timeout: time.Second}, zerolog.Nop())
	rates, err := c.Search(context.Background(), "SEL", checkIn, checkOut)
	require.NoError(t, err)
	require.Len(t, rates, 1, "zero-rate and id-less offers must be dropped")

	assert.Equal(t, "p1", rates[0].PropertyID)
	assert.Equal(t, int64(120000), rates[0].NetRate)
	assert.Equal(t, "KRW", rates[0].Currency)
	assert.Equal(t, "SEL", rates[0].Destination)
	assert.True(t, rates[0].CheckIn.Equal(checkIn))
}

func TestSearchHTTPErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "upstream down"})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	rates, err := c.Search(context.Background(), "SEL", checkIn, checkOut)
	require.Error(t, err)
	assert.Nil(t, rates)
	assert.True(t, errors.Is(err, ErrSupplierUnavailable))

	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusBadGateway, ue.Status)
	assert.Contains(t, ue.Error(), "upstream down")
}

func TestSearchTransportAndDecodeErrors(t *testing.T) {
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer garbage.Close()

	c := NewClient(Options{BaseURL: garbage.URL, Timeout: time.Second}, zerolog.Nop())
	_, err := c.Search(context.Background(), "SEL", checkIn, checkOut)
	assert.ErrorIs(t, err, ErrSupplierUnavailable)

	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := closed.URL
	closed.Close()

	c = NewClient(Options{BaseURL: url, Timeout: time.Second}, zerolog.Nop())
	_, err = c.Search(context.Background(), "SEL", checkIn, checkOut)
	assert.ErrorIs(t, err, ErrSupplierUnavailable)

	c = NewClient(Options{}, zerolog.Nop())
	_, err = c.Search(context.Background(), "SEL", checkIn, checkOut)
	assert.ErrorIs(t, err, ErrSupplierUnavailable)
}

func TestRateDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hotels/p%201/rates", r.URL.EscapedPath())
		_ = json.NewEncoder(w).Encode(map[string]any{
			"property_name": "HotelX",
			"rooms": []map[string]any{
				{"room_id": "std", "name": "Standard", "net_rate": 130000, "currency": "KRW"},
				{"room_id": "eco", "name": "Economy", "net_rate": 110000, "currency": "KRW", "refundable": true},
				{"room_id": "bad", "name": "Broken", "net_rate": 0},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	details, err := c.RateDetails(context.Background(), "p 1", checkIn, checkOut)
	require.NoError(t, err)

	assert.Equal(t, "p 1", details.PropertyID)
	assert.Len(t, details.Rooms, 2)
	lowest, ok := details.Lowest()
	require.True(t, ok)
	assert.Equal(t, "eco", lowest.RoomID)
	assert.True(t, lowest.Refundable)

	_, err = c.RateDetails(context.Background(), " ", checkIn, checkOut)
	assert.ErrorIs(t, err, ErrSupplierUnavailable)
}
