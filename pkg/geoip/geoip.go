// Package geoip resolves best-effort IP geolocation through an external
// HTTP provider. Lookups are an enrichment: callers swallow failures and a
// circuit breaker keeps a flapping provider from stalling connects.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/DevGruGold/suite-sub006/internal/domain"
)

// Config holds geolocation client configuration
type Config struct {
	BaseURL string        // provider endpoint, e.g. http://ip-api.com
	Timeout time.Duration // HTTP request timeout
}

// Client is an HTTP geolocation client guarded by a circuit breaker
type Client struct {
	client  *http.Client
	baseURL string
	breaker *gobreaker.CircuitBreaker
}

// lookupResponse matches the ip-api.com JSON shape
type lookupResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message,omitempty"`
	City       string  `json:"city"`
	RegionName string  `json:"regionName"`
	Country    string  `json:"country"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

// NewClient creates a geolocation client
func NewClient(config *Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("geolocation service URL is required")
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "geoip",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: config.BaseURL,
		breaker: breaker,
	}, nil
}

// Lookup resolves an approximate location for an IP address
func (c *Client) Lookup(ctx context.Context, ip string) (*domain.Location, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.lookup(ctx, ip)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Location), nil
}

func (c *Client) lookup(ctx context.Context, ip string) (*domain.Location, error) {
	url := fmt.Sprintf("%s/json/%s", c.baseURL, ip)

	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send geolocation request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geolocation service returned status %d: %s", resp.StatusCode, string(body))
	}

	var lookupResp lookupResponse
	if err := json.Unmarshal(body, &lookupResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if lookupResp.Status != "success" {
		return nil, fmt.Errorf("geolocation lookup failed: %s", lookupResp.Message)
	}

	return &domain.Location{
		City:      lookupResp.City,
		Region:    lookupResp.RegionName,
		Country:   lookupResp.Country,
		Latitude:  lookupResp.Lat,
		Longitude: lookupResp.Lon,
	}, nil
}
