// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

// Package routing asks the Google Directions API for a walking route and
// returns it still encoded, together with the metadata worth logging.
package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/streetlapse/hyperlapse/spatial"
	"github.com/streetlapse/hyperlapse/utils/htmlutils"
	"googlemaps.github.io/maps"
)

// ErrRouteUnavailable wraps every failure to obtain an encoded path.
var ErrRouteUnavailable = errors.New("route unavailable")

// Route is a walking route as returned by the routing service.
type Route struct {
	// EncodedPath is the overview polyline of the route.
	EncodedPath    string
	DistanceMeters int
	Distance       string // human readable, in the requested units
	Duration       time.Duration
	Summary        string
	Instructions   []string
}

// GoogleDirections uses Google Maps Directions API.
type GoogleDirections struct {
	client *maps.Client
}

// Options configures NewGoogleDirections.
type Options struct {
	APIKey string

	// BaseURL overrides https://maps.googleapis.com, for tests and proxies.
	BaseURL string

	HTTPClient *http.Client
}

// NewGoogleDirections creates a new Directions client.
func NewGoogleDirections(opts Options) (*GoogleDirections, error) {
	clientOpts := []maps.ClientOption{maps.WithAPIKey(opts.APIKey)}

	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, maps.WithHTTPClient(opts.HTTPClient))
	}

	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, maps.WithBaseURL(opts.BaseURL))
	}

	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating directions client: %w", err)
	}

	return &GoogleDirections{client: client}, nil
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRouteUnavailable, fmt.Sprintf(format, args...))
}

// Route requests a single walking route, in metric units, between two points.
func (g *GoogleDirections) Route(ctx context.Context, origin, destination spatial.Point) (*Route, error) {
	routes, _, err := g.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:       origin.String(),
		Destination:  destination.String(),
		Mode:         maps.TravelModeWalking,
		Units:        maps.UnitsMetric,
		Alternatives: false,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
	}

	if len(routes) == 0 {
		return nil, unavailable("no routes between %s and %s", origin, destination)
	}

	r := routes[0]
	if r.OverviewPolyline.Points == "" {
		return nil, unavailable("response has no overview polyline")
	}

	ret := &Route{
		EncodedPath: r.OverviewPolyline.Points,
		Summary:     r.Summary,
	}

	for _, leg := range r.Legs {
		ret.DistanceMeters += leg.Distance.Meters
		ret.Duration += leg.Duration

		if len(r.Legs) == 1 {
			ret.Distance = leg.Distance.HumanReadable
		}

		for _, step := range leg.Steps {
			text, err := htmlutils.PlainText(step.HTMLInstructions)
			if err != nil || text == "" {
				continue
			}

			ret.Instructions = append(ret.Instructions, text)
		}
	}

	if ret.Distance == "" {
		ret.Distance = fmt.Sprintf("%.1f km", float64(ret.DistanceMeters)/1000)
	}

	return ret, nil
}
