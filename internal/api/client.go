package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/campus-shuttle/fleetsim/internal/geo"
	"github.com/campus-shuttle/fleetsim/pkg/core"
)

// Client talks to the remote route catalog service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// RouteResponse is one route as served by GET /api/routes.
// Routes drawn in the admin map editor arrive as a polyline string
// ("[[lat,lng],...]") instead of named waypoints.
type RouteResponse struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Waypoints        []core.Waypoint `json:"waypoints"`
	Polyline         string          `json:"polyline,omitempty"`
	SpeedKmh         float64         `json:"speedKmh"`
	UpdateIntervalMs int64           `json:"updateIntervalMs"`
}

// Route converts the response into a domain route.
func (r RouteResponse) Route() (core.Route, error) {
	waypoints := r.Waypoints
	if len(waypoints) == 0 && r.Polyline != "" {
		var err error
		waypoints, err = geo.ParsePolyline(r.Polyline)
		if err != nil {
			return core.Route{}, fmt.Errorf("route %s: %w", r.ID, err)
		}
	}
	return core.Route{
		ID:                    r.ID,
		Name:                  r.Name,
		Waypoints:             waypoints,
		DefaultSpeedKmh:       r.SpeedKmh,
		DefaultUpdateInterval: time.Duration(r.UpdateIntervalMs) * time.Millisecond,
	}, nil
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the catalog service is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := c.newRequest(ctx, "/healthcheck")
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// FetchRoutes downloads the routes published by the catalog service.
func (c *Client) FetchRoutes(ctx context.Context) ([]core.Route, error) {
	req, err := c.newRequest(ctx, "/api/routes")
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("routes request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("routes returned status %d", resp.StatusCode)
	}

	var body []RouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode routes: %w", err)
	}

	out := make([]core.Route, 0, len(body))
	for _, r := range body {
		route, err := r.Route()
		if err != nil {
			return nil, err
		}
		out = append(out, route)
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
