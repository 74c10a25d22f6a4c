// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/streetlapse/hyperlapse/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv isolates a test from keys present in the developer's shell.
func clearEnv(t *testing.T) {
	t.Helper()

	t.Setenv("GOOGLE_MAPS_API_KEY", "")
	t.Setenv("HYPERLAPSE_API_KEY", "")
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_MAPS_API_KEY", "from-env")

	cfg, err := Load(context.Background(), "", Mode{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, spatial.Point{Lat: 40.758, Lng: -73.9855}, cfg.Origin)
	assert.Equal(t, 640, cfg.Imagery.Width)
	assert.Equal(t, 90.0, cfg.Imagery.FOV)
	assert.Equal(t, 250*time.Millisecond, cfg.Imagery.Delay)
	assert.Equal(t, "images", cfg.Output.ImagesDir)
	assert.Equal(t, "img_", cfg.Output.ImagePrefix)
	assert.Equal(t, "coordinates.json", cfg.Output.CoordinatesFile)
	assert.Equal(t, "hyperlapse.mp4", cfg.Output.VideoFile)
	assert.Equal(t, "ffmpeg", cfg.Video.Binary)
	assert.True(t, cfg.Video.Interpolate)
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_key: from-file
origin:
  lat: 48.8584
  lng: 2.2945
imagery:
  fov: 100
  delay: 1s
output:
  images_dir: frames
`), 0o600))

	t.Setenv("HYPERLAPSE_IMAGERY_FOV", "75")
	t.Setenv("HYPERLAPSE_API_KEY", "from-env")

	cfg, err := Load(context.Background(), path, Mode{Verbose: true}, nil)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, spatial.Point{Lat: 48.8584, Lng: 2.2945}, cfg.Origin)
	assert.Equal(t, 75.0, cfg.Imagery.FOV)
	assert.Equal(t, time.Second, cfg.Imagery.Delay)
	assert.Equal(t, "frames", cfg.Output.ImagesDir)
	assert.True(t, cfg.Mode.Verbose)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), Mode{SkipFetch: true}, nil)
	assert.Error(t, err)
}

func TestLoadResolvesKey(t *testing.T) {
	clearEnv(t)

	calls := 0
	resolve := func(context.Context) (string, error) {
		calls++

		return "from-adc", nil
	}

	cfg, err := Load(context.Background(), "", Mode{}, resolve)
	require.NoError(t, err)
	assert.Equal(t, "from-adc", cfg.APIKey)
	assert.Equal(t, 1, calls)

	// Encoding existing images never talks to Google.
	cfg, err = Load(context.Background(), "", Mode{SkipFetch: true}, resolve)
	require.NoError(t, err)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, 1, calls)
}

func TestLoadResolverFailure(t *testing.T) {
	clearEnv(t)

	resolve := func(context.Context) (string, error) {
		return "", errors.New("no credentials")
	}

	_, err := Load(context.Background(), "", Mode{}, resolve)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key is required")
}

func valid() Config {
	return Config{
		APIKey:      "k",
		Origin:      spatial.Point{Lat: 1, Lng: 1},
		Destination: spatial.Point{Lat: 2, Lng: 2},
		Imagery:     ImageryConfig{Width: 640, Height: 480, FOV: 90, Delay: 200 * time.Millisecond},
		Output:      OutputConfig{ImagesDir: "images", ImagePrefix: "img_", CoordinatesFile: "c.json", VideoFile: "v.mp4"},
		Video:       VideoConfig{InputFPS: 5, OutputFPS: 30, Interpolate: true},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		message string
	}{
		{"valid", func(*Config) {}, ""},
		{"contradictory modes", func(c *Config) { c.Mode = Mode{SkipFetch: true, OnlyCoordinates: true} }, "mutually exclusive"},
		{"missing key", func(c *Config) { c.APIKey = "" }, "api_key is required"},
		{"missing key is fine when skipping fetch", func(c *Config) { c.APIKey = ""; c.Mode.SkipFetch = true }, ""},
		{"origin out of range", func(c *Config) { c.Origin.Lat = 91 }, "origin"},
		{"delay too short", func(c *Config) { c.Imagery.Delay = 100 * time.Millisecond }, "imagery.delay"},
		{"image too large", func(c *Config) { c.Imagery.Width = 1024 }, "imagery size"},
		{"bad fov", func(c *Config) { c.Imagery.FOV = 0 }, "imagery.fov"},
		{"bad pitch", func(c *Config) { c.Imagery.Pitch = 120 }, "imagery.pitch"},
		{"bad h3 resolution", func(c *Config) { c.Imagery.H3Resolution = 16 }, "h3_resolution"},
		{"glob in prefix", func(c *Config) { c.Output.ImagePrefix = "img*" }, "image_prefix"},
		{"slow output", func(c *Config) { c.Video.OutputFPS = 2 }, "video.output_fps"},
		{"slow output without interpolation", func(c *Config) { c.Video.OutputFPS = 2; c.Video.Interpolate = false }, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)

			err := c.Validate()
			if tc.message == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestLoadAddresses(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_MAPS_API_KEY", "k")
	t.Setenv("HYPERLAPSE_ORIGIN_ADDRESS", "Plaza Independencia, Montevideo")
	t.Setenv("HYPERLAPSE_GEOCODING_REGION", "uy")

	cfg, err := Load(context.Background(), "", Mode{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Plaza Independencia, Montevideo", cfg.OriginAddress)
	assert.Empty(t, cfg.DestinationAddress)
	assert.Equal(t, "uy", cfg.Geocoding.Region)
	assert.Equal(t, 10*time.Second, cfg.Geocoding.Timeout)
	assert.True(t, cfg.NeedsGeocoding())

	cfg.Mode.SkipFetch = true
	assert.False(t, cfg.NeedsGeocoding())
}

func TestWithEndpoints(t *testing.T) {
	c := valid()
	origin := spatial.Point{Lat: -34.9067, Lng: -56.1995}
	destination := spatial.Point{Lat: -34.9111, Lng: -56.1645}

	routed := c.WithEndpoints(origin, destination)

	assert.Equal(t, origin, routed.Origin)
	assert.Equal(t, destination, routed.Destination)
	assert.NotEqual(t, origin, c.Origin, "original config is left untouched")
	assert.Equal(t, c.Imagery, routed.Imagery)
}
