package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Backend for tests and single-instance deployments.
// Observation reads go through sync.Map and never take a lock; each record is
// replaced wholesale on upsert.
type Memory struct {
	observations sync.Map // ObservationKey.String() -> *Observation

	mu     sync.Mutex
	alerts []PriceAlert
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Close is a no-op.
func (m *Memory) Close() {}

// GetObservation returns the stored record for key, expired or not.
func (m *Memory) GetObservation(ctx context.Context, key ObservationKey) (*Observation, error) {
	v, ok := m.observations.Load(key.String())
	if !ok {
		return nil, nil
	}
	cp := *v.(*Observation)
	return &cp, nil
}

// UpsertObservation replaces the record for the observation's key.
func (m *Memory) UpsertObservation(ctx context.Context, obs Observation) error {
	obs.CheckIn = Date(obs.CheckIn)
	obs.CheckOut = Date(obs.CheckOut)
	m.observations.Store(obs.Key().String(), &obs)
	return nil
}

// ListObservationsByDestination returns all stored records for a destination.
func (m *Memory) ListObservationsByDestination(ctx context.Context, destination string) ([]Observation, error) {
	out := make([]Observation, 0)
	m.observations.Range(func(_, v any) bool {
		obs := v.(*Observation)
		if strings.EqualFold(obs.Destination, destination) {
			out = append(out, *obs)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out, nil
}

// DeleteObservationsExpiredBefore removes every record with ExpiresAt < now.
func (m *Memory) DeleteObservationsExpiredBefore(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	m.observations.Range(func(k, v any) bool {
		obs := v.(*Observation)
		if obs.ExpiresAt.Before(now) {
			// only drop the exact record we inspected; a concurrent upsert wins
			if m.observations.CompareAndDelete(k, v) {
				removed++
			}
		}
		return true
	})
	return removed, nil
}

// CountObservations reports how many records exist for key (0 or 1).
func (m *Memory) CountObservations(ctx context.Context, key ObservationKey) (int64, error) {
	if _, ok := m.observations.Load(key.String()); ok {
		return 1, nil
	}
	return 0, nil
}

// InsertAlert appends an alert, assigning ID, status and timestamp when unset.
func (m *Memory) InsertAlert(ctx context.Context, alert PriceAlert) (PriceAlert, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Status == "" {
		alert.Status = AlertOpen
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

// ListAlerts returns alerts newest first.
func (m *Memory) ListAlerts(ctx context.Context, filter AlertFilter) ([]PriceAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PriceAlert, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && a.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !a.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// AcknowledgeAlert flips an alert's status to acknowledged.
func (m *Memory) AcknowledgeAlert(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Status = AlertAcknowledged
			return nil
		}
	}
	return ErrAlertNotFound
}

var _ Backend = (*Memory)(nil)
