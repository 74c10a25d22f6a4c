// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/streetlapse/hyperlapse/config"
	"github.com/streetlapse/hyperlapse/geocoding"
	"github.com/streetlapse/hyperlapse/hyperlapse"
	"github.com/streetlapse/hyperlapse/imagery"
	"github.com/streetlapse/hyperlapse/routing"
	"github.com/streetlapse/hyperlapse/utils/httputils"
	"github.com/streetlapse/hyperlapse/video"
)

type logWriter struct {
	writer io.Writer
}

func (w *logWriter) Write(bytes []byte) (int, error) {
	return fmt.Fprintf(w.writer, "%s %s", time.Now().Format("2006-01-02 15:04:05"), string(bytes))
}

func init() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{writer: os.Stderr})
}

var (
	configPath string
	mode       config.Mode
)

var rootCmd = &cobra.Command{
	Use:   "hyperlapse",
	Short: "street level hyperlapse videos of walking routes",
	Long: `
hyperlapse asks Google Directions for a walking route between two points,
fetches the Street View image seen along each point of the route, facing the
direction of travel, and stitches the images into a video with ffmpeg.

Origin, destination, image parameters and output paths are read from
hyperlapse.yaml (or --config) and HYPERLAPSE_* environment variables.
`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx)
	},
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, configPath, mode, config.APIKeyFromADC)
	if err != nil {
		return err
	}

	if cfg.NeedsGeocoding() {
		if cfg, err = resolveEndpoints(ctx, cfg); err != nil {
			return err
		}
	}

	pipeline, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	report, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}

	if report.ExitCode() != 0 {
		return fmt.Errorf("video not generated: %w", report.VideoErr)
	}

	log.Printf("Completed - %d coordinates, %d images fetched, %d failed, %d frames encoded.",
		report.Points, report.ImagesFetched, report.ImagesFailed, report.Frames)

	return nil
}

func httpClient(cfg *config.Config, timeout time.Duration) *http.Client {
	var trace io.Writer
	if cfg.Mode.TraceHTTP || cfg.Mode.TraceHTTPBody {
		trace = os.Stderr
	}

	return httputils.NewClient(httputils.ClientOptions{
		UserAgent: fmt.Sprintf("hyperlapse/%s (+https://github.com/streetlapse/hyperlapse)", Version),
		Timeout:   timeout,
		Trace:     trace,
		TraceBody: cfg.Mode.TraceHTTPBody,
	})
}

// resolveEndpoints replaces the configured coordinates with those of the
// configured addresses.
func resolveEndpoints(ctx context.Context, cfg *config.Config) (*config.Config, error) {
	g, err := geocoding.NewGoogleGeocoder(geocoding.Options{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.Geocoding.BaseURL,
		Region:     cfg.Geocoding.Region,
		HTTPClient: httpClient(cfg, cfg.Geocoding.Timeout),
	})
	if err != nil {
		return nil, err
	}

	origin, err := geocoding.Resolve(ctx, g, cfg.OriginAddress, cfg.Origin)
	if err != nil {
		return nil, err
	}

	destination, err := geocoding.Resolve(ctx, g, cfg.DestinationAddress, cfg.Destination)
	if err != nil {
		return nil, err
	}

	log.Printf("📍 Route endpoints resolved to %s and %s", origin, destination)

	return cfg.WithEndpoints(origin, destination), nil
}

func newPipeline(cfg *config.Config) (*hyperlapse.Pipeline, error) {
	store := hyperlapse.NewFileStore(
		cfg.Output.ImagesDir,
		cfg.Output.ImagePrefix,
		cfg.Output.CoordinatesFile,
		cfg.Output.GPXFile,
	)

	encoder := video.NewFFmpeg(video.Options{
		Binary:      cfg.Video.Binary,
		InputFPS:    cfg.Video.InputFPS,
		OutputFPS:   cfg.Video.OutputFPS,
		Interpolate: cfg.Video.Interpolate,
		Codec:       cfg.Video.Codec,
		CRF:         cfg.Video.CRF,
	})

	if !cfg.Mode.NeedsNetwork() {
		return hyperlapse.NewPipeline(cfg, nil, nil, encoder, store), nil
	}

	directions, err := routing.NewGoogleDirections(routing.Options{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.Routing.BaseURL,
		HTTPClient: httpClient(cfg, cfg.Routing.Timeout),
	})
	if err != nil {
		return nil, err
	}

	streetView := imagery.NewStreetView(imagery.Options{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.Imagery.BaseURL,
		Width:      cfg.Imagery.Width,
		Height:     cfg.Imagery.Height,
		FOV:        cfg.Imagery.FOV,
		Pitch:      cfg.Imagery.Pitch,
		HTTPClient: httpClient(cfg, cfg.Imagery.Timeout),
	})

	return hyperlapse.NewPipeline(cfg, directions, streetView, encoder, store), nil
}

var Version = "dev"

func Execute(version string) {
	Version = version

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVarP(
		&mode.SkipFetch,
		"skip-fetch",
		"s",
		false,
		"Reuse the images already on disk and only generate the video",
	)
	rootCmd.Flags().BoolVarP(
		&mode.OnlyCoordinates,
		"only-coordinates",
		"c",
		false,
		"Stop after writing the decoded route coordinates",
	)
	rootCmd.MarkFlagsMutuallyExclusive("skip-fetch", "only-coordinates")
	rootCmd.Flags().BoolVarP(
		&mode.Verbose,
		"verbose",
		"v",
		false,
		"Log the route's turn by turn instructions",
	)
	rootCmd.Flags().StringVar(
		&mode.MetricsFile,
		"metrics-file",
		"",
		"Write run metrics in Prometheus text format to this file",
	)
	rootCmd.Flags().BoolVar(
		&mode.TraceHTTP,
		"trace-http",
		false,
		"Display HTTP requests-responses",
	)
	rootCmd.Flags().BoolVar(
		&mode.TraceHTTPBody,
		"trace-http-body",
		false,
		"Display HTTP requests-responses bodies",
	)
	rootCmd.PersistentFlags().StringVar(
		&configPath,
		"config",
		"",
		"Configuration file, defaults to ./hyperlapse.yaml when present",
	)
}
