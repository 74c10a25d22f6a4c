// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

// Package hyperlapse sequences the stages that turn a walking route into a
// street level video: route, decode, persist, fetch and encode.
package hyperlapse

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/streetlapse/hyperlapse/config"
	"github.com/streetlapse/hyperlapse/imagery"
	"github.com/streetlapse/hyperlapse/polyline"
	"github.com/streetlapse/hyperlapse/routing"
	"github.com/streetlapse/hyperlapse/spatial"
	"github.com/streetlapse/hyperlapse/video"
	"github.com/uber/h3-go/v4"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// printer groups digits in status lines.
var printer = message.NewPrinter(language.English)

var (
	// ErrEmptyRoute is returned when the route decodes to no coordinates.
	ErrEmptyRoute = errors.New("route has no coordinates")

	// ErrNoImages is returned when reusing images and there are none.
	ErrNoImages = errors.New("no existing images")
)

// RouteClient obtains a walking route between two points.
type RouteClient interface {
	Route(ctx context.Context, origin, destination spatial.Point) (*routing.Route, error)
}

// ImageryClient fetches the street level image seen from a point.
type ImageryClient interface {
	Fetch(ctx context.Context, req imagery.Request) ([]byte, error)
}

// VideoEncoder turns ordered frames into a video file.
type VideoEncoder interface {
	Encode(ctx context.Context, frames []string, output string) error
}

// State is a step of the pipeline.
type State int

const (
	StateStart State = iota
	StateRouteFetched
	StateDecoded
	StateCoordinatesPersisted
	StateImagesFetched
	StateVideoGenerated
	StateDone
	StateAborted
)

var stateNames = map[State]string{
	StateStart:                "start",
	StateRouteFetched:         "route_fetched",
	StateDecoded:              "decoded",
	StateCoordinatesPersisted: "coordinates_persisted",
	StateImagesFetched:        "images_fetched",
	StateVideoGenerated:       "video_generated",
	StateDone:                 "done",
	StateAborted:              "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// Report summarizes a run.
type Report struct {
	State         State
	Route         *routing.Route
	Points        int
	ImagesFetched int
	ImagesFailed  int
	ImagesSkipped int
	ImagesCleared int
	Frames        int

	// VideoErr is the video stage failure, if any. It does not abort the run.
	VideoErr error

	// VideoOnly is set when encoding was the only requested action.
	VideoOnly bool
}

// ExitCode is the process status for the run: 1 when aborted, or when the
// video stage failed and it was the only thing asked for.
func (r *Report) ExitCode() int {
	if r.State == StateAborted {
		return 1
	}

	if r.VideoOnly && r.VideoErr != nil {
		return 1
	}

	return 0
}

// Pipeline runs the hyperlapse stages against the injected collaborators.
type Pipeline struct {
	cfg     *config.Config
	router  RouteClient
	imagery ImageryClient
	encoder VideoEncoder
	store   *FileStore

	Metrics *Metrics

	interactive bool
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewPipeline creates a new pipeline. router and imagery may be nil when the
// configured mode never reaches the network.
func NewPipeline(cfg *config.Config, router RouteClient, imagery ImageryClient, encoder VideoEncoder, store *FileStore) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		router:      router,
		imagery:     imagery,
		encoder:     encoder,
		store:       store,
		Metrics:     NewMetrics(),
		interactive: isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()),
		sleep:       sleepContext,
	}
}

// run holds what flows between stages.
type run struct {
	report  *Report
	encoded string
	points  []spatial.Point
}

// Run drives the state machine until Done or Aborted. The error is non-nil
// only when the run aborted.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	r := &run{report: &Report{VideoOnly: p.cfg.Mode.SkipFetch}}
	state := StateStart

	for !state.Terminal() {
		start := time.Now()
		next, err := p.step(ctx, r, state)
		p.Metrics.StageDurations.WithLabelValues(state.String()).Set(time.Since(start).Seconds())

		if err != nil {
			log.Printf("🛑 Aborted after %s: %v", state, err)
			r.report.State = StateAborted
			p.finish(r.report)

			return r.report, err
		}

		state = next
	}

	r.report.State = state
	p.finish(r.report)

	return r.report, nil
}

func (p *Pipeline) step(ctx context.Context, r *run, state State) (State, error) {
	switch state {
	case StateStart:
		if p.cfg.Mode.SkipFetch {
			return p.reuseImages(r)
		}

		return p.fetchRoute(ctx, r)
	case StateRouteFetched:
		return p.decode(r)
	case StateDecoded:
		return p.persistCoordinates(r)
	case StateCoordinatesPersisted:
		if p.cfg.Mode.OnlyCoordinates {
			log.Printf("✅ Coordinates written to %s, skipping images and video", p.cfg.Output.CoordinatesFile)

			return StateDone, nil
		}

		return p.fetchImages(ctx, r)
	case StateImagesFetched:
		return p.generateVideo(ctx, r)
	case StateVideoGenerated:
		return StateDone, nil
	default:
		return StateAborted, fmt.Errorf("unexpected state %s", state)
	}
}

func (p *Pipeline) reuseImages(r *run) (State, error) {
	frames, err := p.store.Frames()
	if err != nil {
		return StateAborted, err
	}

	if len(frames) == 0 {
		return StateAborted, fmt.Errorf("%w in %s", ErrNoImages, p.cfg.Output.ImagesDir)
	}

	log.Printf("Reusing %d existing images from %s", len(frames), p.cfg.Output.ImagesDir)

	return StateImagesFetched, nil
}

func (p *Pipeline) fetchRoute(ctx context.Context, r *run) (State, error) {
	log.Printf("📍 Requesting walking route from %s to %s", p.cfg.Origin, p.cfg.Destination)

	route, err := p.router.Route(ctx, p.cfg.Origin, p.cfg.Destination)
	if err != nil {
		return StateAborted, err
	}

	log.Printf("Route via %q: %s, %s", route.Summary, route.Distance, route.Duration)

	if p.cfg.Mode.Verbose {
		for i, step := range route.Instructions {
			log.Printf("  %d. %s", i+1, step)
		}
	}

	p.Metrics.RouteDistance.Set(float64(route.DistanceMeters))
	r.report.Route = route
	r.encoded = route.EncodedPath

	return StateRouteFetched, nil
}

func (p *Pipeline) decode(r *run) (State, error) {
	points, err := polyline.Decode(r.encoded)
	if err != nil {
		return StateAborted, fmt.Errorf("decoding route: %w", err)
	}

	if len(points) == 0 {
		return StateAborted, ErrEmptyRoute
	}

	r.encoded = ""
	r.points = points
	r.report.Points = len(points)
	p.Metrics.RoutePoints.Set(float64(len(points)))

	log.Print(printer.Sprintf("Decoded %d coordinates, %.0f m along the path", len(points), spatial.PathLength(points)))

	return StateDecoded, nil
}

func (p *Pipeline) persistCoordinates(r *run) (State, error) {
	if err := p.store.SaveCoordinates(r.points); err != nil {
		return StateAborted, err
	}

	name := fmt.Sprintf("%s to %s", p.cfg.Origin, p.cfg.Destination)
	if err := p.store.SaveGPX(name, r.points); err != nil {
		return StateAborted, err
	}

	return StateCoordinatesPersisted, nil
}

func (p *Pipeline) fetchImages(ctx context.Context, r *run) (State, error) {
	cleared, err := p.store.ClearImages()
	if err != nil {
		return StateAborted, fmt.Errorf("clearing stale images: %w", err)
	}

	if cleared > 0 {
		log.Printf("Removed %d images from a previous run", cleared)
	}

	r.report.ImagesCleared = cleared

	n := len(r.points)
	headings := spatial.Headings(r.points)

	var bar *progressbar.ProgressBar
	if p.interactive {
		bar = progressbar.NewOptions(n,
			progressbar.OptionSetDescription("Fetching images"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	var (
		// lastCell holds the cell of the last stored image, when covered.
		lastCell  h3.Cell
		covered   bool
		requested bool
	)

	for i, point := range r.points {
		cell, hasCell := p.cell(point)
		if hasCell && covered && cell == lastCell {
			r.report.ImagesSkipped++
			p.Metrics.ImagesSkipped.Inc()
			p.advance(bar, i, n, "skipped, same cell as previous image")

			continue
		}

		if requested {
			if err := p.sleep(ctx, p.cfg.Imagery.Delay); err != nil {
				return StateAborted, err
			}
		}

		requested = true

		if err := p.fetchImage(ctx, i, point, headings[i]); err != nil {
			if ctx.Err() != nil {
				return StateAborted, ctx.Err()
			}

			r.report.ImagesFailed++
			log.Printf("⚠️ Image %s at %s failed: %v", FormatIndex(i), point, err)
			p.advance(bar, i, n, "failed")

			continue
		}

		if hasCell {
			lastCell, covered = cell, true
		}

		r.report.ImagesFetched++
		p.Metrics.ImagesFetched.Inc()
		p.advance(bar, i, n, fmt.Sprintf("heading %.1f", headings[i]))
	}

	log.Print(printer.Sprintf("Image phase complete - %d fetched, %d failed, %d skipped out of %d coordinates.",
		r.report.ImagesFetched, r.report.ImagesFailed, r.report.ImagesSkipped, n))

	return StateImagesFetched, nil
}

func (p *Pipeline) fetchImage(ctx context.Context, i int, point spatial.Point, heading float64) error {
	data, err := p.imagery.Fetch(ctx, imagery.Request{Location: point, Heading: heading})
	if err != nil {
		p.Metrics.ImagesFailed.WithLabelValues(imagery.TypeOf(err).String()).Inc()

		return err
	}

	if err := p.store.SaveImage(i, data); err != nil {
		p.Metrics.ImagesFailed.WithLabelValues("store").Inc()

		return err
	}

	return nil
}

// cell returns the H3 cell of point when de-duplication is enabled.
func (p *Pipeline) cell(point spatial.Point) (h3.Cell, bool) {
	if p.cfg.Imagery.H3Resolution <= 0 {
		return 0, false
	}

	cell, err := point.Cell(p.cfg.Imagery.H3Resolution)
	if err != nil {
		return 0, false
	}

	return cell, true
}

func (p *Pipeline) advance(bar *progressbar.ProgressBar, i, n int, detail string) {
	if bar == nil {
		log.Printf("[%d/%d] %s", i+1, n, detail)

		return
	}

	if err := bar.Add(1); err != nil {
		log.Printf("updating progress bar: %v", err)
	}
}

func (p *Pipeline) generateVideo(ctx context.Context, r *run) (State, error) {
	frames, err := p.store.Frames()
	if err != nil {
		r.report.VideoErr = err
		log.Printf("⚠️ Video not generated: %v", err)

		return StateVideoGenerated, nil
	}

	paths := make([]string, len(frames))
	for i, f := range frames {
		paths[i] = f.Path
	}

	r.report.Frames = len(paths)
	p.Metrics.VideoFrames.Set(float64(len(paths)))

	log.Printf("Encoding %d frames into %s", len(paths), p.cfg.Output.VideoFile)

	err = p.encoder.Encode(ctx, paths, p.cfg.Output.VideoFile)

	var encodeErr *video.EncodeError

	switch {
	case err == nil:
		log.Printf("✅ Hyperlapse written to %s", p.cfg.Output.VideoFile)
	case errors.Is(err, video.ErrInsufficientFrames):
		log.Printf("⚠️ Not enough images to make a video: %v", err)
	case errors.Is(err, video.ErrEncoderNotFound):
		log.Printf("⚠️ Video encoder is not installed: %v", err)
	case errors.As(err, &encodeErr):
		log.Printf("⚠️ Video encoder failed: %v", encodeErr)
	default:
		log.Printf("⚠️ Video not generated: %v", err)
	}

	r.report.VideoErr = err

	return StateVideoGenerated, nil
}

func (p *Pipeline) finish(report *Report) {
	outcome := "ok"
	if report.VideoErr != nil {
		outcome = "failed"
	} else if report.Frames == 0 {
		outcome = "none"
	}

	p.Metrics.Outcome.WithLabelValues(report.State.String(), outcome).Set(1)

	if p.cfg.Mode.MetricsFile == "" {
		return
	}

	if err := p.Metrics.WriteTextfile(p.cfg.Mode.MetricsFile); err != nil {
		log.Printf("⚠️ %v", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
