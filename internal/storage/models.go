package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Observation is one marketplace lowest-price reading for a property and stay window.
type Observation struct {
	PropertyKey  string
	PropertyName string
	Destination  string
	CheckIn      time.Time
	CheckOut     time.Time
	LowestPrice  int64
	Currency     string
	Provenance   string
	ObservedAt   time.Time
	ExpiresAt    time.Time
}

// ObservationKey identifies the upsert slot of an observation.
type ObservationKey struct {
	PropertyKey string
	CheckIn     time.Time
	CheckOut    time.Time
}

// Key returns the upsert key of the observation.
func (o Observation) Key() ObservationKey {
	return NewObservationKey(o.PropertyKey, o.CheckIn, o.CheckOut)
}

// Fresh reports whether the observation may still be used for matching.
func (o Observation) Fresh(now time.Time) bool {
	return now.Before(o.ExpiresAt)
}

// NewObservationKey builds a key with dates truncated to calendar days.
func NewObservationKey(propertyKey string, checkIn, checkOut time.Time) ObservationKey {
	return ObservationKey{
		PropertyKey: propertyKey,
		CheckIn:     Date(checkIn),
		CheckOut:    Date(checkOut),
	}
}

// String renders the key for logs and map indexes.
func (k ObservationKey) String() string {
	return k.PropertyKey + "|" + k.CheckIn.Format(time.DateOnly) + "|" + k.CheckOut.Format(time.DateOnly)
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AlertStatus is the only mutable attribute of a PriceAlert.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
)

// AlertKind distinguishes drops from other price moves.
type AlertKind string

const (
	AlertPriceDrop   AlertKind = "price_drop"
	AlertPriceChange AlertKind = "price_change"
)

// PriceAlert records a repeated observation whose price moved beyond the threshold.
type PriceAlert struct {
	ID            string
	PropertyKey   string
	PropertyName  string
	Destination   string
	CheckIn       time.Time
	CheckOut      time.Time
	PreviousPrice int64
	NewPrice      int64
	Currency      string
	DeltaPercent  decimal.Decimal
	Kind          AlertKind
	Status        AlertStatus
	CreatedAt     time.Time
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Status AlertStatus
	From   time.Time
	To     time.Time
	Limit  int
}
