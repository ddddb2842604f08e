// Package matcher correlates supplier rates with marketplace observations.
// The two sources share no identifiers, so properties are joined on a
// normalised display name within one destination and stay window.
package matcher

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"hotel-rate-shadow/internal/storage"
	"hotel-rate-shadow/internal/supplier"
)

// NormalizeName folds case, applies NFKC and collapses runs of whitespace.
func NormalizeName(name string) string {
	// a Caser keeps state, so one per call
	folded := cases.Fold().String(norm.NFKC.String(name))
	return strings.Join(strings.Fields(folded), " ")
}

// NormalizeDestination canonicalises a destination code.
func NormalizeDestination(destination string) string {
	return strings.ToUpper(strings.TrimSpace(destination))
}

// PropertyKey derives the cross-source property identifier.
func PropertyKey(name, destination string) string {
	return NormalizeDestination(destination) + ":" + NormalizeName(name)
}

// Match returns the cheapest candidate for the same property, destination and
// exact stay window. There is no nearest-date fallback.
func Match(rate supplier.Rate, candidates []storage.Observation) (storage.Observation, bool) {
	name := NormalizeName(rate.PropertyName)
	if name == "" {
		return storage.Observation{}, false
	}
	destination := NormalizeDestination(rate.Destination)
	checkIn := storage.Date(rate.CheckIn)
	checkOut := storage.Date(rate.CheckOut)

	var (
		best  storage.Observation
		found bool
	)
	for _, c := range candidates {
		if NormalizeDestination(c.Destination) != destination {
			continue
		}
		if !storage.Date(c.CheckIn).Equal(checkIn) || !storage.Date(c.CheckOut).Equal(checkOut) {
			continue
		}
		if rate.Currency != "" && c.Currency != "" && !strings.EqualFold(rate.Currency, c.Currency) {
			continue
		}
		if NormalizeName(c.PropertyName) != name {
			continue
		}
		if !found || better(c, best) {
			best = c
			found = true
		}
	}
	return best, found
}

// better prefers the lower price, then the newer observation.
func better(a, b storage.Observation) bool {
	if a.LowestPrice != b.LowestPrice {
		return a.LowestPrice < b.LowestPrice
	}
	return a.ObservedAt.After(b.ObservedAt)
}
