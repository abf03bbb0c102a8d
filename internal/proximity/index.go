package proximity

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

const earthRadiusKm = 6371.0

// Candidate is an eligible provider and its distance to the job
type Candidate struct {
	ProviderID string
	DistanceKm float64
}

// Index holds the latest availability record of every provider
type Index struct {
	mu        sync.RWMutex
	providers map[string]domain.ProviderAvailability
}

// NewIndex creates an empty Index
func NewIndex() *Index {
	return &Index{
		providers: make(map[string]domain.ProviderAvailability),
	}
}

func validateAvailability(p domain.ProviderAvailability) error {
	if p.ProviderID == "" {
		return domain.NewValidationError("provider_id", "is required")
	}
	if !p.CurrentLocation.Valid() {
		return domain.NewValidationError("current_location", "coordinates out of range")
	}
	return nil
}

// SetAvailability replaces the provider's availability record
func (i *Index) SetAvailability(ctx context.Context, p domain.ProviderAvailability) error {
	if err := validateAvailability(p); err != nil {
		return err
	}

	p.Categories = append([]string(nil), p.Categories...)

	i.mu.Lock()
	defer i.mu.Unlock()
	i.providers[p.ProviderID] = p
	return nil
}

// Provider returns the availability record of providerID
func (i *Index) Provider(providerID string) (domain.ProviderAvailability, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	p, ok := i.providers[providerID]
	return p, ok
}

// ProviderName returns the display name, or the id when the provider is unknown
func (i *Index) ProviderName(providerID string) string {
	if p, ok := i.Provider(providerID); ok && p.Name != "" {
		return p.Name
	}
	return providerID
}

// FindEligible returns available providers serving categoryID within
// radiusKm of loc, nearest first with ties broken by provider id.
func (i *Index) FindEligible(ctx context.Context, loc domain.Location, categoryID string, radiusKm float64) ([]Candidate, error) {
	if !loc.Valid() {
		return nil, domain.NewValidationError("location", "coordinates out of range")
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	return rank(i.providers, loc, categoryID, radiusKm), nil
}

func rank(providers map[string]domain.ProviderAvailability, loc domain.Location, categoryID string, radiusKm float64) []Candidate {
	out := make([]Candidate, 0)
	for id, p := range providers {
		if !p.IsAvailable || !p.Serves(categoryID) {
			continue
		}
		d := Haversine(loc, p.CurrentLocation)
		if d > radiusKm {
			continue
		}
		out = append(out, Candidate{ProviderID: id, DistanceKm: d})
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].DistanceKm != out[b].DistanceKm {
			return out[a].DistanceKm < out[b].DistanceKm
		}
		return out[a].ProviderID < out[b].ProviderID
	})
	return out
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b domain.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
