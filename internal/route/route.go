package route

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/example/driver-console-sync/internal/models"
)

// Client measures road distance between two points.
type Client interface {
	DistanceKm(ctx context.Context, from, to models.Coord) (float64, error)
}

// Cache remembers road distances per leg. Points are snapped to a grid of
// about a metre, so repeated geocodes of the same address still hit.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	legs map[leg]cachedDistance
}

type leg struct{ from, to cell }

type cell struct{ lat, lon int64 }

type cachedDistance struct {
	km      float64
	expires time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now, legs: make(map[leg]cachedDistance)}
}

func snap(c models.Coord) cell {
	return cell{lat: int64(math.Round(c.Lat * 1e5)), lon: int64(math.Round(c.Lon * 1e5))}
}

// Lookup returns the distance stored for from->to unless it has expired.
func (c *Cache) Lookup(from, to models.Coord) (float64, bool) {
	k := leg{snap(from), snap(to)}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.legs[k]
	if !ok {
		return 0, false
	}
	if !c.now().Before(d.expires) {
		delete(c.legs, k)
		return 0, false
	}
	return d.km, true
}

func (c *Cache) Store(from, to models.Coord, km float64) {
	c.mu.Lock()
	c.legs[leg{snap(from), snap(to)}] = cachedDistance{km: km, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Estimator resolves distance through an optional routing client and falls
// back to the great-circle distance when the client is missing or fails.
type Estimator struct {
	Client Client
	Cache  *Cache
	Logger *slog.Logger
}

func (e *Estimator) DistanceKm(ctx context.Context, from, to models.Coord) (float64, error) {
	if e.Cache != nil {
		if km, ok := e.Cache.Lookup(from, to); ok {
			return km, nil
		}
	}
	if e.Client == nil {
		return HaversineKm(from, to), nil
	}
	km, err := e.Client.DistanceKm(ctx, from, to)
	if err != nil {
		e.logger().Warn("routing failed; using great-circle distance", "error", err)
		return HaversineKm(from, to), nil
	}
	if e.Cache != nil {
		e.Cache.Store(from, to, km)
	}
	return km, nil
}

func (e *Estimator) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// HaversineKm is the great-circle distance in kilometres.
func HaversineKm(a, b models.Coord) float64 {
	const R = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}
