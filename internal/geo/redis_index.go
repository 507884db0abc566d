package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-pooling/internal/models"
)

// RedisIndex tracks open pool-request pickup points with Redis GEO commands.
// It is a spatial prefilter only: the store's status-filtered query remains
// the source of truth, so a stale entry costs one wasted lookup, never a
// wrong match.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key}
}

// NewRedisIndexFromClient wraps an existing client, e.g. in the consumer.
func NewRedisIndexFromClient(c *redis.Client, key string) *RedisIndex {
	return &RedisIndex{client: c, key: key}
}

func (r *RedisIndex) Add(ctx context.Context, requestID string, pickup models.Coord) error {
	return r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: pickup.Lon,
		Latitude:  pickup.Lat,
		Name:      requestID,
	}).Err()
}

func (r *RedisIndex) Remove(ctx context.Context, requestID string) error {
	return r.client.ZRem(ctx, r.key, requestID).Err()
}

// Nearby returns request ids with pickups within radiusMeters of p,
// excluding selfID, nearest first.
func (r *RedisIndex) Nearby(ctx context.Context, p models.Coord, radiusMeters float64, limit int, selfID string) ([]string, error) {
	locs, err := r.client.GeoSearch(ctx, r.key, &redis.GeoSearchQuery{
		Longitude:  p.Lon,
		Latitude:   p.Lat,
		Radius:     radiusMeters,
		RadiusUnit: "m",
		Sort:       "ASC",
		Count:      limit + 1, // self may be in the index
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(locs))
	for _, l := range locs {
		if l == selfID {
			continue
		}
		out = append(out, l)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *RedisIndex) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisIndex) Close() error { return r.client.Close() }
