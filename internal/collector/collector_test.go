package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel-rate-shadow/internal/alerting"
	"hotel-rate-shadow/internal/cache"
	"hotel-rate-shadow/internal/fetcher"
	"hotel-rate-shadow/internal/storage"
)

type stubFetcher struct {
	mu       sync.Mutex
	listings map[string][]fetcher.Listing // destination -> listings
	fail     map[string]error
	calls    int

	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *stubFetcher) FetchLowestPrices(ctx context.Context, destination string, checkIn, checkOut time.Time) ([]fetcher.Listing, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.fail[destination]; err != nil {
		return nil, err
	}
	return s.listings[destination], nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (c *captureNotifier) Notify(ctx context.Context, e alerting.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T, f fetcher.MarketplaceFetcher, concurrency int) (*Collector, *cache.Cache, *clock, *captureNotifier) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	mem := storage.NewMemory()
	c := cache.New(mem, mem, cache.Options{TTL: 10 * time.Minute, AlertThresholdPct: 5}, zerolog.Nop(), cache.WithClock(clk.Now))
	n := &captureNotifier{}
	return New(f, c, n, Options{Concurrency: concurrency}, zerolog.Nop()), c, clk, n
}

var (
	in  = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	out = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
)

func TestCollectStoresNormalisedObservations(t *testing.T) {
	f := &stubFetcher{listings: map[string][]fetcher.Listing{
		"SEL": {
			{PropertyName: "HotelX", Price: 100000, Currency: "KRW"},
			{PropertyName: "hotelx ", Price: 95000, Currency: "KRW"},
			{PropertyName: "Hotel Seoul", Price: 90000, Currency: "KRW"},
			{PropertyName: "   ", Price: 1000},
			{PropertyName: "Free", Price: 0},
		},
	}}
	col, c, clk, _ := setup(t, f, 1)

	obs, err := col.Collect(context.Background(), "sel", in, out)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	got, ok := c.Get(context.Background(), "SEL:hotelx", in, out)
	require.True(t, ok)
	assert.Equal(t, int64(95000), got.LowestPrice, "duplicate listing keeps the lower price")
	assert.Equal(t, "SEL", got.Destination)
	assert.Equal(t, "marketplace", got.Provenance)
	assert.Equal(t, clk.Now().Add(10*time.Minute), got.ExpiresAt)
}

func TestCollectZeroResultsIsValid(t *testing.T) {
	col, _, _, _ := setup(t, &stubFetcher{}, 1)
	obs, err := col.Collect(context.Background(), "SEL", in, out)
	require.NoError(t, err)
	assert.Empty(t, obs)
}

func TestCollectFailureIsCollectionError(t *testing.T) {
	f := &stubFetcher{fail: map[string]error{"SEL": errors.New("blocked")}}
	col, _, _, _ := setup(t, f, 1)

	_, err := col.Collect(context.Background(), "SEL", in, out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCollection)

	var ce *CollectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "SEL", ce.Destination)
	assert.Contains(t, err.Error(), "blocked")
}

func TestCollectNotifiesPriceAlerts(t *testing.T) {
	f := &stubFetcher{listings: map[string][]fetcher.Listing{
		"SEL": {{PropertyName: "HotelX", Price: 100000, Currency: "KRW"}},
	}}
	col, _, clk, n := setup(t, f, 1)

	_, err := col.Collect(context.Background(), "SEL", in, out)
	require.NoError(t, err)

	f.mu.Lock()
	f.listings["SEL"] = []fetcher.Listing{{PropertyName: "HotelX", Price: 80000, Currency: "KRW"}}
	f.mu.Unlock()
	clk.Advance(time.Minute)

	_, err = col.Collect(context.Background(), "SEL", in, out)
	require.NoError(t, err)

	require.Len(t, n.events, 1)
	assert.Equal(t, alerting.EventPriceAlert, n.events[0].Type)
	assert.Equal(t, "-20.00", n.events[0].Fields["delta_pct"])
	assert.Equal(t, "80000", n.events[0].Fields["new_price"])
}

func TestPlanWindows(t *testing.T) {
	plan := Plan{Destinations: []string{"sel", " ", "PUS"}, OffsetsDays: []int{1, 7}, Nights: 2}
	windows := plan.Windows(time.Date(2026, 2, 1, 23, 59, 0, 0, time.UTC))

	require.Len(t, windows, 4)
	assert.Equal(t, "SEL", windows[0].Destination)
	assert.Equal(t, time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC), windows[0].CheckIn)
	assert.Equal(t, time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC), windows[0].CheckOut)
	assert.Equal(t, "PUS", windows[3].Destination)
	assert.Equal(t, time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC), windows[3].CheckIn)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	f := &stubFetcher{
		listings: map[string][]fetcher.Listing{
			"SEL": {{PropertyName: "HotelX", Price: 100000}},
			"PUS": {{PropertyName: "Beach", Price: 70000}},
		},
		fail: map[string]error{"JEJ": errors.New("timeout")},
	}
	col, _, _, _ := setup(t, f, 2)

	report := col.RunScheduledSweep(context.Background(), Plan{
		Destinations: []string{"SEL", "JEJ", "PUS"},
		OffsetsDays:  []int{1, 3},
		Nights:       1,
	})

	assert.Equal(t, 6, report.Windows)
	assert.Equal(t, 4, report.Collected)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 4, report.Observations)
	for _, err := range report.Errors {
		assert.ErrorIs(t, err, ErrCollection)
	}
}

func TestSweepRespectsConcurrencyCap(t *testing.T) {
	f := &stubFetcher{delay: 20 * time.Millisecond}
	col, _, _, _ := setup(t, f, 2)

	report := col.RunScheduledSweep(context.Background(), Plan{
		Destinations: []string{"SEL", "PUS", "JEJ"},
		OffsetsDays:  []int{1, 3, 7},
	})

	assert.Equal(t, 9, report.Collected)
	assert.LessOrEqual(t, f.peak.Load(), int32(2))
}

func TestSweepSkipsRecentlyCollectedWindows(t *testing.T) {
	f := &stubFetcher{listings: map[string][]fetcher.Listing{
		"SEL": {{PropertyName: "HotelX", Price: 100000}},
	}}
	col, _, clk, _ := setup(t, f, 1)
	plan := Plan{Destinations: []string{"SEL"}, OffsetsDays: []int{1}}

	first := col.RunScheduledSweep(context.Background(), plan)
	assert.Equal(t, 1, first.Collected)

	clk.Advance(time.Minute)
	second := col.RunScheduledSweep(context.Background(), plan)
	assert.Equal(t, 1, second.Skipped)
	assert.Zero(t, second.Collected)

	// a full interval later the window is refreshed again
	clk.Advance(9 * time.Minute)
	third := col.RunScheduledSweep(context.Background(), plan)
	assert.Equal(t, 1, third.Collected)
	assert.Equal(t, 2, f.calls)
}
