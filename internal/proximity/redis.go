package proximity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

// DefaultDirectoryKey is the Redis hash holding one availability record per provider
const DefaultDirectoryKey = "quickbook:providers"

// RedisDirectory keeps availability records in a Redis hash so that every
// API instance and the dispatch worker see the same providers.
type RedisDirectory struct {
	rdb     *redis.Client
	key     string
	timeout time.Duration
}

// NewRedisDirectory creates a directory stored under key
func NewRedisDirectory(rdb *redis.Client, key string) *RedisDirectory {
	if key == "" {
		key = DefaultDirectoryKey
	}
	return &RedisDirectory{rdb: rdb, key: key, timeout: 2 * time.Second}
}

type availabilityDoc struct {
	ProviderID  string    `json:"provider_id"`
	Name        string    `json:"name"`
	IsAvailable bool      `json:"is_available"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Categories  []string  `json:"categories"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func encodeAvailability(p domain.ProviderAvailability) ([]byte, error) {
	return json.Marshal(availabilityDoc{
		ProviderID:  p.ProviderID,
		Name:        p.Name,
		IsAvailable: p.IsAvailable,
		Lat:         p.CurrentLocation.Lat,
		Lng:         p.CurrentLocation.Lng,
		Categories:  p.Categories,
		UpdatedAt:   p.UpdatedAt,
	})
}

func decodeAvailability(data string) (domain.ProviderAvailability, error) {
	var doc availabilityDoc
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return domain.ProviderAvailability{}, err
	}
	return domain.ProviderAvailability{
		ProviderID:      doc.ProviderID,
		Name:            doc.Name,
		IsAvailable:     doc.IsAvailable,
		CurrentLocation: domain.Location{Lat: doc.Lat, Lng: doc.Lng},
		Categories:      doc.Categories,
		UpdatedAt:       doc.UpdatedAt,
	}, nil
}

// SetAvailability replaces the provider's availability record
func (d *RedisDirectory) SetAvailability(ctx context.Context, p domain.ProviderAvailability) error {
	if err := validateAvailability(p); err != nil {
		return err
	}

	data, err := encodeAvailability(p)
	if err != nil {
		return fmt.Errorf("failed to encode availability: %w", err)
	}
	if err := d.rdb.HSet(ctx, d.key, p.ProviderID, data).Err(); err != nil {
		return fmt.Errorf("failed to store availability of %s: %w", p.ProviderID, err)
	}
	return nil
}

// ProviderName returns the display name, or the id when the provider is
// unknown or Redis cannot be reached
func (d *RedisDirectory) ProviderName(providerID string) string {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	data, err := d.rdb.HGet(ctx, d.key, providerID).Result()
	if err != nil {
		return providerID
	}
	p, err := decodeAvailability(data)
	if err != nil || p.Name == "" {
		return providerID
	}
	return p.Name
}

// FindEligible ranks the stored providers the same way Index does
func (d *RedisDirectory) FindEligible(ctx context.Context, loc domain.Location, categoryID string, radiusKm float64) ([]Candidate, error) {
	if !loc.Valid() {
		return nil, domain.NewValidationError("location", "coordinates out of range")
	}

	raw, err := d.rdb.HGetAll(ctx, d.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load provider directory: %w", err)
	}

	providers := make(map[string]domain.ProviderAvailability, len(raw))
	for id, data := range raw {
		p, err := decodeAvailability(data)
		if err != nil {
			continue
		}
		providers[id] = p
	}
	return rank(providers, loc, categoryID, radiusKm), nil
}
