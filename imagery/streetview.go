// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

// Package imagery fetches street-level panoramas oriented along a route.
package imagery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/streetlapse/hyperlapse/spatial"
)

const streetViewPath = "/maps/api/streetview"

// maxImageBytes bounds the body read for one panorama.
const maxImageBytes = 10 << 20

// Request identifies one panorama: where it is taken and where it looks.
type Request struct {
	Location spatial.Point
	Heading  float64
}

// Options holds the fixed parameters shared by every request.
type Options struct {
	APIKey string

	// BaseURL defaults to https://maps.googleapis.com.
	BaseURL string

	Width  int
	Height int
	FOV    float64
	Pitch  float64

	HTTPClient *http.Client
}

// StreetView uses the Google Street View Static API.
type StreetView struct {
	endpoint   string
	params     url.Values
	httpClient *http.Client
}

// NewStreetView creates a new Street View client.
func NewStreetView(opts Options) *StreetView {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://maps.googleapis.com"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	params := url.Values{}
	params.Set("size", fmt.Sprintf("%dx%d", opts.Width, opts.Height))
	params.Set("fov", formatFloat(opts.FOV))
	params.Set("pitch", formatFloat(opts.Pitch))
	params.Set("source", "outdoor")
	// Missing panoramas come back as 404 instead of a grey placeholder.
	params.Set("return_error_code", "true")
	params.Set("key", opts.APIKey)

	return &StreetView{
		endpoint:   strings.TrimRight(baseURL, "/") + streetViewPath,
		params:     params,
		httpClient: httpClient,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (s *StreetView) url(req Request) string {
	params := url.Values{}
	for k, v := range s.params {
		params[k] = v
	}

	params.Set("location", req.Location.String())
	params.Set("heading", strconv.FormatFloat(req.Heading, 'f', 2, 64))

	return s.endpoint + "?" + params.Encode()
}

// Fetch downloads the panorama described by req. Failures are *FetchError.
func (s *StreetView) Fetch(ctx context.Context, req Request) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url(req), nil)
	if err != nil {
		return nil, &FetchError{Type: ErrorTypeInvalidRequest, Message: "building request", Err: err}
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))

		return nil, ClassifyHTTPError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if media := resp.Header.Get("Content-Type"); !strings.HasPrefix(media, "image/") {
		return nil, &FetchError{Type: ErrorTypeUnknown, Message: fmt.Sprintf("unexpected media type %q", media)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, classifyTransportError(fmt.Errorf("reading image: %w", err))
	}

	if len(data) == 0 {
		return nil, &FetchError{Type: ErrorTypeUnknown, Message: "empty image"}
	}

	return data, nil
}
