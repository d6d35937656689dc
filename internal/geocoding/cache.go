package geocoding

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"

	"github.com/dadmatch/dadmatch/internal/telemetry"
)

const (
	cacheKeyPrefix = "geocode:city:"

	// City coordinates are effectively static; a long TTL keeps Nominatim
	// traffic within its usage policy.
	defaultCacheTTL = 30 * 24 * time.Hour
)

// NewRedisClient creates a Redis client with OpenTelemetry tracing from a
// redis:// URL and verifies connectivity.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	client.AddHook(redisotel.NewTracingHook())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// CachedService wraps a Service with a Redis lookup cache keyed by
// normalized city name. Cache failures fall through to the live geocoder.
type CachedService struct {
	inner  *Service
	client *redis.Client
	ttl    time.Duration
}

// NewCachedService wraps svc with a Redis cache. A zero ttl uses the default.
func NewCachedService(svc *Service, client *redis.Client, ttl time.Duration) *CachedService {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedService{
		inner:  svc,
		client: client,
		ttl:    ttl,
	}
}

// GeocodeCity resolves a city, preferring the cache.
func (c *CachedService) GeocodeCity(ctx context.Context, city string) (*Location, error) {
	key := cacheKeyPrefix + normalizeCity(city)

	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var loc Location
		if err := json.Unmarshal(data, &loc); err == nil {
			return &loc, nil
		}
	} else if err != redis.Nil {
		telemetry.LogFromContext(ctx).WithError(err).WithField("city", city).Debug("Geocode cache read failed")
	}

	loc, err := c.inner.GeocodeCity(ctx, city)
	if err != nil || loc == nil {
		return loc, err
	}

	if data, err := json.Marshal(loc); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			telemetry.LogFromContext(ctx).WithError(err).WithField("city", city).Debug("Geocode cache write failed")
		}
	}

	return loc, nil
}

func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
