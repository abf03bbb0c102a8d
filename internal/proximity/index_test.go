package proximity

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

var (
	ctx    = context.Background()
	origin = domain.Location{Lat: 10.7769, Lng: 106.7009}
)

// offset moves roughly km kilometres north of origin.
func offset(km float64) domain.Location {
	return domain.Location{Lat: origin.Lat + km/111.195, Lng: origin.Lng}
}

func provider(id string, loc domain.Location, available bool, categories ...string) domain.ProviderAvailability {
	return domain.ProviderAvailability{
		ProviderID:      id,
		Name:            "Provider " + id,
		IsAvailable:     available,
		CurrentLocation: loc,
		Categories:      categories,
	}
}

func TestHaversine(t *testing.T) {
	assert.InDelta(t, 0, Haversine(origin, origin), 1e-9)
	assert.InDelta(t, 5.0, Haversine(origin, offset(5)), 0.01)

	hcmc := domain.Location{Lat: 10.8231, Lng: 106.6297}
	hanoi := domain.Location{Lat: 21.0278, Lng: 105.8342}
	assert.InDelta(t, 1140, Haversine(hcmc, hanoi), 15)
}

func TestIndex_FindEligible(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.SetAvailability(ctx, provider("p-far", offset(9), true, "plumbing")))
	require.NoError(t, idx.SetAvailability(ctx, provider("p-near", offset(1), true, "plumbing")))
	require.NoError(t, idx.SetAvailability(ctx, provider("p-off", offset(2), false, "plumbing")))
	require.NoError(t, idx.SetAvailability(ctx, provider("p-elec", offset(2), true, "electrical")))
	require.NoError(t, idx.SetAvailability(ctx, provider("p-out", offset(15), true, "plumbing")))
	require.NoError(t, idx.SetAvailability(ctx, provider("p-b", offset(4), true, "plumbing", "electrical")))
	require.NoError(t, idx.SetAvailability(ctx, provider("p-a", offset(4), true, "plumbing")))

	got, err := idx.FindEligible(ctx, origin, "plumbing", 10)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ProviderID
	}
	assert.Equal(t, []string{"p-near", "p-a", "p-b", "p-far"}, ids)
	assert.InDelta(t, 1.0, got[0].DistanceKm, 0.01)
}

func TestIndex_FindEligibleNoMatch(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.SetAvailability(ctx, provider("p1", offset(1), true, "plumbing")))

	got, err := idx.FindEligible(ctx, origin, "roofing", 10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestIndex_FindEligibleInvalidLocation(t *testing.T) {
	tests := []struct {
		name string
		loc  domain.Location
	}{
		{name: "latitude too large", loc: domain.Location{Lat: 91, Lng: 0}},
		{name: "longitude too small", loc: domain.Location{Lat: 0, Lng: -181}},
		{name: "NaN latitude", loc: domain.Location{Lat: math.NaN(), Lng: 0}},
	}

	idx := NewIndex()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := idx.FindEligible(ctx, tt.loc, "plumbing", 10)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "location", verr.Field)
		})
	}
}

func TestIndex_SetAvailabilityReplaces(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.SetAvailability(ctx, provider("p1", offset(1), true, "plumbing")))
	require.NoError(t, idx.SetAvailability(ctx, provider("p1", offset(1), false, "plumbing")))

	got, err := idx.FindEligible(ctx, origin, "plumbing", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Equal(t, "Provider p1", idx.ProviderName("p1"))
	assert.Equal(t, "unknown", idx.ProviderName("unknown"))
}

func TestIndex_SetAvailabilityValidation(t *testing.T) {
	idx := NewIndex()

	err := idx.SetAvailability(ctx, provider("", origin, true))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "provider_id", verr.Field)

	err = idx.SetAvailability(ctx, provider("p1", domain.Location{Lat: 100}, true))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "current_location", verr.Field)
}
