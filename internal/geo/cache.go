package geo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedGeocoder memoizes country lookups in Redis. Reverse geocoding is
// the slowest call on the create path and coordinates repeat heavily per
// app, so cached answers are served without touching the upstream.
// Cache failures degrade to the upstream, never to an error.
type CachedGeocoder struct {
	next   Geocoder
	client *redis.Client
	ttl    time.Duration
}

func NewCachedGeocoder(next Geocoder, client *redis.Client, ttl time.Duration) *CachedGeocoder {
	return &CachedGeocoder{next: next, client: client, ttl: ttl}
}

// NewRedisClient dials Redis from a URL and verifies the connection.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func (c *CachedGeocoder) key(lat, lon float64) string {
	return fmt.Sprintf("geo:%.5f,%.5f", lat, lon)
}

func (c *CachedGeocoder) Country(ctx context.Context, lat, lon float64) (string, error) {
	key := c.key(lat, lon)
	cached, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		log.Printf("geo: cache read %s: %v", key, err)
	}

	country, err := c.next.Country(ctx, lat, lon)
	if err != nil {
		return "", err
	}

	if err := c.client.Set(ctx, key, country, c.ttl).Err(); err != nil {
		log.Printf("geo: cache write %s: %v", key, err)
	}
	return country, nil
}
