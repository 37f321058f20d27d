package route

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/driver-console-sync/internal/models"
)

// OSRMClient asks an OSRM server for the driving distance of a leg.
type OSRMClient struct {
	Endpoint string
	Profile  string // "driving" when empty
	HTTP     *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{
		Endpoint: strings.TrimRight(endpoint, "/"),
		HTTP:     &http.Client{Timeout: 2 * time.Second},
	}
}

type osrmRoute struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"` // metres
	} `json:"routes"`
}

// OSRM orders coordinates lon,lat.
func osrmPoint(c models.Coord) string {
	return strconv.FormatFloat(c.Lon, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lat, 'f', 6, 64)
}

func (o *OSRMClient) DistanceKm(ctx context.Context, from, to models.Coord) (float64, error) {
	profile := o.Profile
	if profile == "" {
		profile = "driving"
	}
	target := o.Endpoint + "/route/v1/" + profile + "/" + osrmPoint(from) + ";" + osrmPoint(to) + "?overview=false&steps=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("route.OSRM: %w", err)
	}
	resp, err := o.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("route.OSRM: %w", err)
	}
	defer resp.Body.Close()

	var body osrmRoute
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("route.OSRM: status %d: %w", resp.StatusCode, err)
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return 0, fmt.Errorf("route.OSRM: status %d: %s %s", resp.StatusCode, body.Code, body.Message)
	}
	return body.Routes[0].Distance / 1000, nil
}
