package shadowing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel-rate-shadow/internal/affiliate"
	"hotel-rate-shadow/internal/alerting"
	"hotel-rate-shadow/internal/cache"
	"hotel-rate-shadow/internal/collector"
	"hotel-rate-shadow/internal/fetcher"
	"hotel-rate-shadow/internal/storage"
	"hotel-rate-shadow/internal/supplier"
)

var (
	checkIn  = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	checkOut = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
)

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

type stubMarketplace struct {
	mu       sync.Mutex
	listings []fetcher.Listing
	err      error
	block    bool
	sleep    time.Duration // ignores ctx
	calls    int
}

func (s *stubMarketplace) FetchLowestPrices(ctx context.Context, destination string, in, out time.Time) ([]fetcher.Listing, error) {
	s.mu.Lock()
	s.calls++
	block, sleep, listings, err := s.block, s.sleep, s.listings, s.err
	s.mu.Unlock()

	if sleep > 0 {
		time.Sleep(sleep)
		return listings, err
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return listings, err
}

func (s *stubMarketplace) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recorder struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recorder) Notify(ctx context.Context, e alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type stubSupplier struct {
	rates []supplier.Rate
	err   error
}

func (s stubSupplier) Search(ctx context.Context, destination string, in, out time.Time) ([]supplier.Rate, error) {
	return s.rates, s.err
}

func (s stubSupplier) RateDetails(ctx context.Context, id string, in, out time.Time) (supplier.RateDetails, error) {
	return supplier.RateDetails{}, s.err
}

type harness struct {
	engine *Engine
	cache  *cache.Cache
	market *stubMarketplace
	alerts *recorder
	clock  *clock
}

func newHarness(t *testing.T, market *stubMarketplace, rates supplier.RateSource) *harness {
	t.Helper()
	clk := &clock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	mem := storage.NewMemory()
	c := cache.New(mem, mem, cache.Options{TTL: 10 * time.Minute, AlertThresholdPct: 5}, zerolog.Nop(), cache.WithClock(clk.Now))
	rec := &recorder{}
	col := collector.New(market, c, rec, collector.Options{}, zerolog.Nop())
	links := affiliate.NewComposer("partner", "secret")
	e := New(c, col, rates, links, rec, Options{
		OnDemandTimeout: 50 * time.Millisecond,
		OnDemandCollect: true,
		BookingBaseURL:  "https://book.example.com/go",
	}, zerolog.Nop())
	return &harness{engine: e, cache: c, market: market, alerts: rec, clock: clk}
}

func hotelXRate(net int64) supplier.Rate {
	return supplier.Rate{
		PropertyID:   "sx-1",
		PropertyName: "HotelX",
		Destination:  "SEL",
		CheckIn:      checkIn,
		CheckOut:     checkOut,
		NetRate:      net,
		Currency:     "KRW",
	}
}

func TestEvaluateOnDemandSafe(t *testing.T) {
	h := newHarness(t, &stubMarketplace{listings: []fetcher.Listing{{PropertyName: "HotelX", Price: 150000, Currency: "KRW"}}}, nil)

	d := h.engine.Evaluate(context.Background(), hotelXRate(120000))

	assert.True(t, d.Matched)
	assert.True(t, d.Safe)
	assert.Equal(t, ReasonOK, d.Reason)
	assert.Equal(t, int64(150000), d.FinalPrice)
	assert.Equal(t, int64(30000), d.Margin)
	assert.Equal(t, "25.00", d.MarginPercent.StringFixed(2))
	assert.Equal(t, MarginSafe, d.MarginLevel)
	assert.Equal(t, SourceOnDemand, d.Source)
	assert.Empty(t, d.Message)

	// the on-demand result is cached for the next evaluation
	again := h.engine.Evaluate(context.Background(), hotelXRate(120000))
	assert.Equal(t, SourceCache, again.Source)
	assert.Equal(t, 1, h.market.callCount())
}

func TestEvaluateNegativeMargin(t *testing.T) {
	h := newHarness(t, &stubMarketplace{listings: []fetcher.Listing{{PropertyName: "HotelX", Price: 150000, Currency: "KRW"}}}, nil)

	d := h.engine.Evaluate(context.Background(), hotelXRate(160000))

	assert.True(t, d.Matched)
	assert.False(t, d.Safe)
	assert.Equal(t, ReasonNegativeMargin, d.Reason)
	assert.Zero(t, d.FinalPrice)
	assert.Zero(t, d.Margin)
	assert.Equal(t, MarginDanger, d.MarginLevel)
	assert.Equal(t, MessageUnderReview, d.Message)

	require.Equal(t, 1, h.alerts.count())
	ev := h.alerts.events[0]
	assert.Equal(t, alerting.EventNegativeMargin, ev.Type)
	assert.Equal(t, "-10000", ev.Fields["deficit"])
}

func TestEvaluateNoReferenceNeverFallsBack(t *testing.T) {
	h := newHarness(t, &stubMarketplace{}, nil)

	rate := hotelXRate(80000)
	rate.PropertyName = "HotelY"
	d := h.engine.Evaluate(context.Background(), rate)

	assert.False(t, d.Matched)
	assert.False(t, d.Safe)
	assert.Equal(t, ReasonNoReference, d.Reason)
	assert.Zero(t, d.FinalPrice)
	assert.Equal(t, MessageUnavailable, d.Message)
	assert.Zero(t, h.alerts.count())
}

func TestEvaluateOnDemandTimeoutIsNoReference(t *testing.T) {
	h := newHarness(t, &stubMarketplace{block: true}, nil)

	started := time.Now()
	d := h.engine.Evaluate(context.Background(), hotelXRate(80000))

	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, ReasonNoReference, d.Reason)
	assert.Zero(t, d.FinalPrice)
}

func TestEvaluateBoundedWhenFetcherIgnoresCancellation(t *testing.T) {
	market := &stubMarketplace{
		sleep:    400 * time.Millisecond,
		listings: []fetcher.Listing{{PropertyName: "HotelX", Price: 150000, Currency: "KRW"}},
	}
	h := newHarness(t, market, nil)

	started := time.Now()
	d := h.engine.Evaluate(context.Background(), hotelXRate(120000))
	elapsed := time.Since(started)

	assert.Less(t, elapsed, 300*time.Millisecond, "evaluate must return near the on-demand timeout")
	assert.Equal(t, ReasonNoReference, d.Reason)
	assert.False(t, d.Safe)
	assert.Zero(t, d.FinalPrice)

	// the abandoned collection still lands whole in the cache
	require.Eventually(t, func() bool {
		_, ok := h.cache.Get(context.Background(), "SEL:hotelx", checkIn, checkOut)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEvaluateSearchPrewarmBoundedWhenFetcherIgnoresCancellation(t *testing.T) {
	market := &stubMarketplace{sleep: 400 * time.Millisecond}
	h := newHarness(t, market, stubSupplier{rates: []supplier.Rate{hotelXRate(120000)}})

	started := time.Now()
	offers, err := h.engine.EvaluateSearch(context.Background(), "SEL", checkIn, checkOut)
	require.NoError(t, err)

	assert.Less(t, time.Since(started), 300*time.Millisecond)
	require.Len(t, offers, 1)
	assert.Equal(t, ReasonNoReference, offers[0].Reason)
}

func TestEvaluateCollectionFailureIsNoReference(t *testing.T) {
	h := newHarness(t, &stubMarketplace{err: errors.New("captcha")}, nil)

	d := h.engine.Evaluate(context.Background(), hotelXRate(80000))
	assert.Equal(t, ReasonNoReference, d.Reason)
	assert.False(t, d.Safe)
}

func TestEvaluateStaleReference(t *testing.T) {
	h := newHarness(t, &stubMarketplace{}, nil)
	old := storage.Observation{
		PropertyKey:  "SEL:hotelx",
		PropertyName: "HotelX",
		Destination:  "SEL",
		CheckIn:      checkIn,
		CheckOut:     checkOut,
		LowestPrice:  150000,
		Currency:     "KRW",
		ObservedAt:   h.clock.Now().Add(-20 * time.Minute),
		ExpiresAt:    h.clock.Now().Add(-10 * time.Minute),
	}

	d := h.engine.evaluate(context.Background(), hotelXRate(120000), func(context.Context, supplier.Rate, string) ([]storage.Observation, Source) {
		return []storage.Observation{old}, SourceOnDemand
	})

	assert.True(t, d.Matched)
	assert.False(t, d.Safe)
	assert.Equal(t, ReasonStaleReference, d.Reason)
	assert.Zero(t, d.FinalPrice)
}

func TestEvaluateExpiredCacheEntryTriggersRefresh(t *testing.T) {
	market := &stubMarketplace{listings: []fetcher.Listing{{PropertyName: "HotelX", Price: 150000, Currency: "KRW"}}}
	h := newHarness(t, market, nil)
	ctx := context.Background()

	require.True(t, h.engine.Evaluate(ctx, hotelXRate(120000)).Safe)
	h.clock.Advance(10 * time.Minute)

	market.mu.Lock()
	market.listings = []fetcher.Listing{{PropertyName: "HotelX", Price: 140000, Currency: "KRW"}}
	market.mu.Unlock()

	d := h.engine.Evaluate(ctx, hotelXRate(120000))
	assert.Equal(t, int64(140000), d.FinalPrice)
	assert.Equal(t, 2, market.callCount())
}

func TestLevel(t *testing.T) {
	h := newHarness(t, &stubMarketplace{listings: []fetcher.Listing{{PropertyName: "HotelX", Price: 100000}}}, nil)
	cases := map[int64]MarginLevel{
		90000:  MarginSafe,    // 11.11%
		94000:  MarginLow,     // 6.38%
		99000:  MarginWarning, // 1.01%
		100000: MarginWarning, // 0%
	}
	for net, want := range cases {
		d := h.engine.Evaluate(context.Background(), hotelXRate(net))
		assert.Equal(t, want, d.MarginLevel, "net %d", net)
		assert.True(t, d.Safe)
	}
}

func TestEvaluateSearch(t *testing.T) {
	market := &stubMarketplace{listings: []fetcher.Listing{
		{PropertyName: "HotelX", Price: 150000, Currency: "KRW"},
		{PropertyName: "Pricey Inn", Price: 90000, Currency: "KRW"},
	}}
	rates := stubSupplier{rates: []supplier.Rate{
		hotelXRate(120000),
		{PropertyID: "sx-2", PropertyName: "Pricey Inn", Destination: "SEL", CheckIn: checkIn, CheckOut: checkOut, NetRate: 95000, Currency: "KRW"},
		{PropertyID: "sx-3", PropertyName: "Unknown", Destination: "SEL", CheckIn: checkIn, CheckOut: checkOut, NetRate: 50000, Currency: "KRW"},
	}}
	h := newHarness(t, market, rates)

	offers, err := h.engine.EvaluateSearch(context.Background(), "sel", checkIn, checkOut)
	require.NoError(t, err)
	require.Len(t, offers, 3)

	assert.Equal(t, 1, market.callCount(), "one marketplace fetch per search")

	assert.True(t, offers[0].Safe)
	assert.Contains(t, offers[0].BookingURL, "pid=sx-1")
	assert.Contains(t, offers[0].BookingURL, "click_token=")

	assert.Equal(t, ReasonNegativeMargin, offers[1].Reason)
	assert.Empty(t, offers[1].BookingURL)
	assert.Equal(t, ReasonNoReference, offers[2].Reason)

	safe := Safe(offers)
	require.Len(t, safe, 1)
	assert.Equal(t, "sx-1", safe[0].PropertyID)
}

func TestEvaluateSearchSupplierUnavailable(t *testing.T) {
	h := newHarness(t, &stubMarketplace{}, stubSupplier{err: &supplier.UnavailableError{Op: "search", Status: 503, Err: errors.New("down")}})

	offers, err := h.engine.EvaluateSearch(context.Background(), "SEL", checkIn, checkOut)
	assert.Nil(t, offers)
	assert.ErrorIs(t, err, supplier.ErrSupplierUnavailable)
	assert.Zero(t, h.market.callCount())
}

func TestEvaluateSearchWithoutSupplier(t *testing.T) {
	h := newHarness(t, &stubMarketplace{}, nil)
	_, err := h.engine.EvaluateSearch(context.Background(), "SEL", checkIn, checkOut)
	assert.ErrorIs(t, err, ErrNoRateSource)
}
