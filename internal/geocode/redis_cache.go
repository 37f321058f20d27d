package geocode

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/driver-console-sync/internal/models"
)

// RedisCache keeps resolved addresses in a Redis GEO set, with the resolve
// time in a side hash so entries can expire.
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisCache(addr, password, key string, ttl time.Duration) *RedisCache {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisCache{client: c, key: key, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, address string) (models.Coord, bool) {
	if r.ttl > 0 {
		ts, err := r.client.HGet(ctx, metaKey(r.key), address).Result()
		if err != nil {
			return models.Coord{}, false
		}
		at, err := time.Parse(time.RFC3339, ts)
		if err != nil || time.Since(at) > r.ttl {
			return models.Coord{}, false
		}
	}
	pos, err := r.client.GeoPos(ctx, r.key, address).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.Coord{}, false
	}
	return models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}, true
}

func (r *RedisCache) Set(ctx context.Context, address string, c models.Coord) {
	_, _ = r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: c.Lon, Latitude: c.Lat, Name: address}).Result()
	_ = r.client.HSet(ctx, metaKey(r.key), address, time.Now().Format(time.RFC3339)).Err()
}

func (r *RedisCache) Close() error { return r.client.Close() }

func metaKey(key string) string { return key + ":updated" }
