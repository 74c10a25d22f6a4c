// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

// Package config resolves the immutable settings of a hyperlapse run.
package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/streetlapse/hyperlapse/spatial"
)

// EnvPrefix is the prefix of the environment variables overriding settings,
// e.g. HYPERLAPSE_IMAGERY_FOV for imagery.fov.
const EnvPrefix = "HYPERLAPSE"

// MinFetchDelay is the smallest pause allowed between two imagery requests.
const MinFetchDelay = 200 * time.Millisecond

// Config holds all the settings of a run. It is resolved once by Load and
// must not be modified afterwards.
type Config struct {
	Origin      spatial.Point `mapstructure:"origin"`
	Destination spatial.Point `mapstructure:"destination"`

	// OriginAddress and DestinationAddress, when set, are geocoded before the
	// run and replace Origin and Destination.
	OriginAddress      string `mapstructure:"origin_address"`
	DestinationAddress string `mapstructure:"destination_address"`

	// APIKey is the Google Maps Platform credential used by both services.
	APIKey string `mapstructure:"api_key"`

	Geocoding GeocodingConfig `mapstructure:"geocoding"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Imagery   ImageryConfig   `mapstructure:"imagery"`
	Output    OutputConfig    `mapstructure:"output"`
	Video     VideoConfig     `mapstructure:"video"`

	// Mode comes from the command line, never from files.
	Mode Mode `mapstructure:"-"`
}

type GeocodingConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Region  string        `mapstructure:"region"` // ccTLD used to bias results, e.g. "us"
	Timeout time.Duration `mapstructure:"timeout"`
}

type RoutingConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ImageryConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Width   int           `mapstructure:"width"`
	Height  int           `mapstructure:"height"`
	FOV     float64       `mapstructure:"fov"`
	Pitch   float64       `mapstructure:"pitch"`
	Delay   time.Duration `mapstructure:"delay"`
	Timeout time.Duration `mapstructure:"timeout"`

	// H3Resolution enables skipping coordinates that fall in the same H3 cell
	// as the last stored image. Zero disables it.
	H3Resolution int `mapstructure:"h3_resolution"`
}

type OutputConfig struct {
	ImagesDir       string `mapstructure:"images_dir"`
	ImagePrefix     string `mapstructure:"image_prefix"`
	CoordinatesFile string `mapstructure:"coordinates_file"`
	GPXFile         string `mapstructure:"gpx_file"`
	VideoFile       string `mapstructure:"video_file"`
}

type VideoConfig struct {
	Binary      string `mapstructure:"binary"`
	InputFPS    int    `mapstructure:"input_fps"`
	OutputFPS   int    `mapstructure:"output_fps"`
	Interpolate bool   `mapstructure:"interpolate"`
	Codec       string `mapstructure:"codec"`
	CRF         int    `mapstructure:"crf"`
}

// Mode selects which stages of the pipeline run.
type Mode struct {
	// SkipFetch reuses the images already on disk and only encodes the video.
	SkipFetch bool

	// OnlyCoordinates stops once the decoded route has been written.
	OnlyCoordinates bool

	// Verbose logs the route's turn by turn instructions.
	Verbose bool

	// Enables light tracing of HTTP requests and responses
	TraceHTTP bool

	// Enables full HTTP body tracing
	TraceHTTPBody bool

	// MetricsFile, when set, receives the run metrics in Prometheus text format.
	MetricsFile string
}

// NeedsNetwork reports whether the run talks to the Google services.
func (m Mode) NeedsNetwork() bool {
	return !m.SkipFetch
}

// KeyResolver finds an API key when none is configured.
type KeyResolver func(ctx context.Context) (string, error)

func setDefaults(v *viper.Viper) {
	// Times Square to the Empire State Building.
	v.SetDefault("origin.lat", 40.758)
	v.SetDefault("origin.lng", -73.9855)
	v.SetDefault("destination.lat", 40.748817)
	v.SetDefault("destination.lng", -73.985428)

	v.SetDefault("origin_address", "")
	v.SetDefault("destination_address", "")

	v.SetDefault("geocoding.base_url", "https://maps.googleapis.com")
	v.SetDefault("geocoding.region", "")
	v.SetDefault("geocoding.timeout", 10*time.Second)

	v.SetDefault("routing.base_url", "")
	v.SetDefault("routing.timeout", 30*time.Second)

	v.SetDefault("imagery.base_url", "https://maps.googleapis.com")
	v.SetDefault("imagery.width", 640)
	v.SetDefault("imagery.height", 640)
	v.SetDefault("imagery.fov", 90.0)
	v.SetDefault("imagery.pitch", 0.0)
	v.SetDefault("imagery.delay", 250*time.Millisecond)
	v.SetDefault("imagery.timeout", 30*time.Second)
	v.SetDefault("imagery.h3_resolution", 0)

	v.SetDefault("output.images_dir", "images")
	v.SetDefault("output.image_prefix", "img_")
	v.SetDefault("output.coordinates_file", "coordinates.json")
	v.SetDefault("output.gpx_file", "route.gpx")
	v.SetDefault("output.video_file", "hyperlapse.mp4")

	v.SetDefault("video.binary", "ffmpeg")
	v.SetDefault("video.input_fps", 5)
	v.SetDefault("video.output_fps", 30)
	v.SetDefault("video.interpolate", true)
	v.SetDefault("video.codec", "libx264")
	v.SetDefault("video.crf", 20)
}

// Load reads configuration from defaults, an optional YAML file and
// environment variables, in increasing order of precedence. An empty path
// looks for hyperlapse.yaml in the working directory.
//
// When the run needs the network and no API key is configured, resolve is
// asked for one; a nil resolve leaves the key empty and Validate fails.
func Load(ctx context.Context, path string, mode Mode, resolve KeyResolver) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("hyperlapse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	// HYPERLAPSE_IMAGERY_FOV → imagery.fov
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("api_key", EnvPrefix+"_API_KEY", "GOOGLE_MAPS_API_KEY"); err != nil {
		return nil, fmt.Errorf("binding api key env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Mode = mode

	if cfg.APIKey == "" && mode.NeedsNetwork() && resolve != nil {
		log.Println("GOOGLE_MAPS_API_KEY is not set. Attempting to retrieve via ADC...")

		key, err := resolve(ctx)
		if err != nil {
			log.Printf("Failed to retrieve API key via ADC: %v", err)
		} else {
			log.Println("✅ Successfully retrieved Google Maps API Key via ADC")

			cfg.APIKey = key
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// NeedsGeocoding reports whether any endpoint is given as an address.
func (c *Config) NeedsGeocoding() bool {
	return c.Mode.NeedsNetwork() && (c.OriginAddress != "" || c.DestinationAddress != "")
}

// WithEndpoints returns a copy of c routed between origin and destination.
func (c *Config) WithEndpoints(origin, destination spatial.Point) *Config {
	cfg := *c
	cfg.Origin = origin
	cfg.Destination = destination

	return &cfg
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Mode.SkipFetch && c.Mode.OnlyCoordinates {
		errs = append(errs, "--skip-fetch and --only-coordinates are mutually exclusive")
	}

	if c.Mode.NeedsNetwork() {
		if c.APIKey == "" {
			errs = append(errs, "api_key is required (set GOOGLE_MAPS_API_KEY or HYPERLAPSE_API_KEY)")
		}

		if !c.Origin.Valid() {
			errs = append(errs, fmt.Sprintf("origin %s is out of range", c.Origin))
		}

		if !c.Destination.Valid() {
			errs = append(errs, fmt.Sprintf("destination %s is out of range", c.Destination))
		}
	}

	if c.Imagery.Width <= 0 || c.Imagery.Width > 640 || c.Imagery.Height <= 0 || c.Imagery.Height > 640 {
		errs = append(errs, fmt.Sprintf("imagery size must be within 1x1 and 640x640, got %dx%d", c.Imagery.Width, c.Imagery.Height))
	}

	if c.Imagery.FOV <= 0 || c.Imagery.FOV > 120 {
		errs = append(errs, fmt.Sprintf("imagery.fov must be in (0, 120], got %g", c.Imagery.FOV))
	}

	if c.Imagery.Pitch < -90 || c.Imagery.Pitch > 90 {
		errs = append(errs, fmt.Sprintf("imagery.pitch must be in [-90, 90], got %g", c.Imagery.Pitch))
	}

	if c.Imagery.Delay < MinFetchDelay {
		errs = append(errs, fmt.Sprintf("imagery.delay must be at least %v, got %v", MinFetchDelay, c.Imagery.Delay))
	}

	if c.Imagery.H3Resolution < 0 || c.Imagery.H3Resolution > 15 {
		errs = append(errs, fmt.Sprintf("imagery.h3_resolution must be 0-15, got %d", c.Imagery.H3Resolution))
	}

	if c.Output.ImagesDir == "" {
		errs = append(errs, "output.images_dir is required")
	}

	if c.Output.CoordinatesFile == "" {
		errs = append(errs, "output.coordinates_file is required")
	}

	if c.Output.VideoFile == "" {
		errs = append(errs, "output.video_file is required")
	}

	if strings.ContainsAny(c.Output.ImagePrefix, `/\*?[`) {
		errs = append(errs, fmt.Sprintf("output.image_prefix %q must not contain path or glob characters", c.Output.ImagePrefix))
	}

	if c.Video.InputFPS <= 0 {
		errs = append(errs, "video.input_fps must be positive")
	}

	if c.Video.Interpolate && c.Video.OutputFPS < c.Video.InputFPS {
		errs = append(errs, fmt.Sprintf("video.output_fps (%d) must be at least video.input_fps (%d)", c.Video.OutputFPS, c.Video.InputFPS))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
