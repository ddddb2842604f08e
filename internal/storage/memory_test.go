package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleObservation(price int64, observedAt time.Time) Observation {
	return Observation{
		PropertyKey:  "SEL:hotel x",
		PropertyName: "Hotel X",
		Destination:  "SEL",
		CheckIn:      time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
		CheckOut:     time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		LowestPrice:  price,
		Currency:     "KRW",
		ObservedAt:   observedAt,
		ExpiresAt:    observedAt.Add(10 * time.Minute),
	}
}

func TestMemoryUpsertReplacesAndNormalisesDates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.UpsertObservation(ctx, sampleObservation(150000, now)))
	require.NoError(t, m.UpsertObservation(ctx, sampleObservation(140000, now.Add(time.Minute))))

	key := NewObservationKey("SEL:hotel x", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	got, err := m.GetObservation(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(140000), got.LowestPrice)
	assert.Equal(t, 0, got.CheckIn.Hour())

	count, err := m.CountObservations(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryDeleteExpired(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	stale := sampleObservation(1, now.Add(-11*time.Minute))
	fresh := sampleObservation(2, now)
	fresh.PropertyKey = "SEL:other"
	require.NoError(t, m.UpsertObservation(ctx, stale))
	require.NoError(t, m.UpsertObservation(ctx, fresh))

	removed, err := m.DeleteObservationsExpiredBefore(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = m.DeleteObservationsExpiredBefore(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, removed)

	list, err := m.ListObservationsByDestination(ctx, "sel")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "SEL:other", list[0].PropertyKey)
}

func TestMemoryConcurrentUpsertLastWriteWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()

	written := make(map[int64]bool)
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		price := int64(i * 1000)
		written[price] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.UpsertObservation(ctx, sampleObservation(price, now))
		}()
	}
	wg.Wait()

	got, err := m.GetObservation(ctx, sampleObservation(0, now).Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, written[got.LowestPrice], "stored price %d was never written", got.LowestPrice)

	count, err := m.CountObservations(ctx, got.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryAlertsLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := m.InsertAlert(ctx, PriceAlert{
			PropertyKey:  fmt.Sprintf("SEL:%d", i),
			DeltaPercent: decimal.NewFromInt(int64(-10 * (i + 1))),
			Kind:         AlertPriceDrop,
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	all, err := m.ListAlerts(ctx, AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "SEL:2", all[0].PropertyKey)
	assert.Equal(t, AlertOpen, all[0].Status)
	assert.NotEmpty(t, all[0].ID)

	require.NoError(t, m.AcknowledgeAlert(ctx, all[1].ID))
	assert.ErrorIs(t, m.AcknowledgeAlert(ctx, "missing"), ErrAlertNotFound)

	open, err := m.ListAlerts(ctx, AlertFilter{Status: AlertOpen})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	window, err := m.ListAlerts(ctx, AlertFilter{From: base.Add(30 * time.Minute), To: base.Add(2 * time.Hour), Limit: 5})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "SEL:1", window[0].PropertyKey)
	assert.Equal(t, AlertAcknowledged, window[0].Status)
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	_, err := s.GetObservation(context.Background(), ObservationKey{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
