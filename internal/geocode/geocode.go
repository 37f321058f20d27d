package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/driver-console-sync/internal/models"
)

var ErrNotFound = errors.New("geocode: address not found")

// Geocoder resolves a free-form address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (models.Coord, error)
}

// Cache stores resolved addresses.
type Cache interface {
	Get(ctx context.Context, address string) (models.Coord, bool)
	Set(ctx context.Context, address string, c models.Coord)
}

// HTTPGeocoder talks to a Nominatim-compatible /search endpoint.
type HTTPGeocoder struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPGeocoder(endpoint string) *HTTPGeocoder {
	return &HTTPGeocoder{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: 3 * time.Second}}
}

func (g *HTTPGeocoder) Geocode(ctx context.Context, address string) (models.Coord, error) {
	q := url.Values{"q": {address}, "format": {"json"}, "limit": {"1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.Endpoint+"/search?"+q.Encode(), nil)
	if err != nil {
		return models.Coord{}, err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return models.Coord{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Coord{}, fmt.Errorf("geocode: status %d", resp.StatusCode)
	}
	var out []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Coord{}, err
	}
	if len(out) == 0 {
		return models.Coord{}, ErrNotFound
	}
	lat, err := strconv.ParseFloat(out[0].Lat, 64)
	if err != nil {
		return models.Coord{}, fmt.Errorf("geocode: lat: %w", err)
	}
	lon, err := strconv.ParseFloat(out[0].Lon, 64)
	if err != nil {
		return models.Coord{}, fmt.Errorf("geocode: lon: %w", err)
	}
	return models.Coord{Lat: lat, Lon: lon}, nil
}

// Cached wraps a Geocoder with a Cache. Failed lookups are not cached.
type Cached struct {
	Geocoder Geocoder
	Cache    Cache
}

func (c *Cached) Geocode(ctx context.Context, address string) (models.Coord, error) {
	key := normalize(address)
	if key == "" {
		return models.Coord{}, ErrNotFound
	}
	if v, ok := c.Cache.Get(ctx, key); ok {
		return v, nil
	}
	v, err := c.Geocoder.Geocode(ctx, address)
	if err != nil {
		return models.Coord{}, err
	}
	c.Cache.Set(ctx, key, v)
	return v, nil
}

// MemoryCache is the process-local Cache used when Redis is not configured.
type MemoryCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]memEntry
}

type memEntry struct {
	c  models.Coord
	ts time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, m: make(map[string]memEntry)}
}

func (m *MemoryCache) Get(_ context.Context, address string) (models.Coord, bool) {
	m.mu.RLock()
	e, ok := m.m[address]
	m.mu.RUnlock()
	if !ok || (m.ttl > 0 && time.Since(e.ts) > m.ttl) {
		return models.Coord{}, false
	}
	return e.c, true
}

func (m *MemoryCache) Set(_ context.Context, address string, c models.Coord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[address] = memEntry{c: c, ts: time.Now()}
}

func normalize(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}
