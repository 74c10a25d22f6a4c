// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

// Package geocoding turns the addresses of a route's endpoints into
// coordinates.
package geocoding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/streetlapse/hyperlapse/spatial"
	"googlemaps.github.io/maps"
)

// ErrNoResults is returned when an address matches no place.
var ErrNoResults = errors.New("no geocoding results")

// Result is a geocoded address.
type Result struct {
	Location    spatial.Point
	Confidence  string // high, medium, low
	DisplayName string
}

// Geocoder resolves an address to a location.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*Result, error)
}

// Options configures NewGoogleGeocoder.
type Options struct {
	APIKey string

	// BaseURL overrides https://maps.googleapis.com, for tests and proxies.
	BaseURL string

	// Region biases results towards a country, as a ccTLD ("uy", "us").
	Region string

	HTTPClient *http.Client
}

// GoogleGeocoder uses Google Maps Geocoding API.
type GoogleGeocoder struct {
	client *maps.Client
	region string
}

// NewGoogleGeocoder creates a new Google Maps geocoder.
func NewGoogleGeocoder(opts Options) (*GoogleGeocoder, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	clientOpts := []maps.ClientOption{
		maps.WithAPIKey(opts.APIKey),
		maps.WithHTTPClient(httpClient),
	}

	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, maps.WithBaseURL(opts.BaseURL))
	}

	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating geocoding client: %w", err)
	}

	return &GoogleGeocoder{client: client, region: opts.Region}, nil
}

func (g *GoogleGeocoder) Geocode(ctx context.Context, address string) (*Result, error) {
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: address,
		Region:  g.region,
	})
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoResults, address)
	}

	result := results[0]

	// Street View needs a spot on a street, so only ROOFTOP and interpolated
	// addresses are trusted.
	confidence := "low"

	switch result.Geometry.LocationType {
	case "ROOFTOP", "RANGE_INTERPOLATED":
		confidence = "high"
	case "GEOMETRIC_CENTER":
		confidence = "medium"
	}

	return &Result{
		Location:    spatial.Point{Lat: result.Geometry.Location.Lat, Lng: result.Geometry.Location.Lng},
		Confidence:  confidence,
		DisplayName: result.FormattedAddress,
	}, nil
}

// Resolve geocodes address, or returns fallback when address is empty.
func Resolve(ctx context.Context, g Geocoder, address string, fallback spatial.Point) (spatial.Point, error) {
	if address == "" {
		return fallback, nil
	}

	result, err := g.Geocode(ctx, address)
	if err != nil {
		return spatial.Point{}, fmt.Errorf("geocoding %q: %w", address, err)
	}

	return result.Location, nil
}
