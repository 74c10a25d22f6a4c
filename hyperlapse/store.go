// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

package hyperlapse

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/streetlapse/hyperlapse/spatial"
	"github.com/tkrajina/gpxgo/gpx"
)

const (
	imageExt = ".jpg"

	// indexWidth keeps lexicographic order equal to numeric order for up to
	// 10,000 frames.
	indexWidth = 4
)

// FormatIndex returns the zero padded identifier of a route point.
func FormatIndex(i int) string {
	return fmt.Sprintf("%0*d", indexWidth, i)
}

// CoordinateRecord is one entry of the coordinates file.
type CoordinateRecord struct {
	ID          string     `json:"id"`
	Coordinates [2]float64 `json:"coordinates"` // lat, lng
}

// Frame is an image on disk and the route index it was taken at.
type Frame struct {
	Index int
	Path  string
}

// FileStore manages the artifacts of a run on the local file system.
type FileStore struct {
	imagesDir       string
	prefix          string
	coordinatesFile string
	gpxFile         string
}

// NewFileStore creates a new file store. An empty gpxFile disables the GPX export.
func NewFileStore(imagesDir, prefix, coordinatesFile, gpxFile string) *FileStore {
	return &FileStore{
		imagesDir:       imagesDir,
		prefix:          prefix,
		coordinatesFile: coordinatesFile,
		gpxFile:         gpxFile,
	}
}

// Ensures that the images directory exists.
func (s *FileStore) imagesDirMustExist() error {
	if err := os.MkdirAll(s.imagesDir, 0o750); err != nil {
		return fmt.Errorf("setting up images directory: %w", err)
	}

	return nil
}

// ImagePath returns where the image of the point at index i is stored.
func (s *FileStore) ImagePath(i int) string {
	return filepath.Join(s.imagesDir, s.prefix+FormatIndex(i)+imageExt)
}

// SaveCoordinates writes the decoded route as a JSON array of records.
func (s *FileStore) SaveCoordinates(points []spatial.Point) error {
	records := make([]CoordinateRecord, len(points))
	for i, p := range points {
		records[i] = CoordinateRecord{
			ID:          FormatIndex(i),
			Coordinates: [2]float64{p.Lat, p.Lng},
		}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling coordinates: %w", err)
	}

	if err := writeFile(s.coordinatesFile, data); err != nil {
		return fmt.Errorf("writing coordinates file: %w", err)
	}

	return nil
}

// LoadCoordinates reads back a file written by SaveCoordinates.
func (s *FileStore) LoadCoordinates() ([]spatial.Point, error) {
	data, err := os.ReadFile(filepath.Clean(s.coordinatesFile))
	if err != nil {
		return nil, fmt.Errorf("reading coordinates file: %w", err)
	}

	var records []CoordinateRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	points := make([]spatial.Point, len(records))
	for i, r := range records {
		points[i] = spatial.Point{Lat: r.Coordinates[0], Lng: r.Coordinates[1]}
	}

	return points, nil
}

// SaveGPX writes the decoded route as a GPX track, one point per record.
func (s *FileStore) SaveGPX(name string, points []spatial.Point) error {
	if s.gpxFile == "" {
		return nil
	}

	segment := gpx.GPXTrackSegment{Points: make([]gpx.GPXPoint, len(points))}
	for i, p := range points {
		segment.Points[i] = gpx.GPXPoint{
			Point: gpx.Point{Latitude: p.Lat, Longitude: p.Lng},
			Name:  FormatIndex(i),
		}
	}

	doc := &gpx.GPX{
		Creator: "hyperlapse",
		Tracks: []gpx.GPXTrack{{
			Name:     name,
			Type:     "walking",
			Segments: []gpx.GPXTrackSegment{segment},
		}},
	}

	data, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return fmt.Errorf("marshaling GPX: %w", err)
	}

	if err := writeFile(s.gpxFile, data); err != nil {
		return fmt.Errorf("writing GPX file: %w", err)
	}

	return nil
}

// SaveImage stores the image of the point at index i.
func (s *FileStore) SaveImage(i int, data []byte) error {
	if err := s.imagesDirMustExist(); err != nil {
		return err
	}

	if err := os.WriteFile(s.ImagePath(i), data, 0o600); err != nil {
		return fmt.Errorf("writing image %s: %w", FormatIndex(i), err)
	}

	return nil
}

// Frames lists the stored images ordered by index. Files that do not follow
// the naming scheme are ignored.
func (s *FileStore) Frames() ([]Frame, error) {
	entries, err := os.ReadDir(s.imagesDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}

	var frames []Frame

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, s.prefix) || !strings.HasSuffix(name, imageExt) {
			continue
		}

		// Only names written by ImagePath count, so every index maps to one file.
		digits := strings.TrimSuffix(strings.TrimPrefix(name, s.prefix), imageExt)

		index, err := strconv.Atoi(digits)
		if err != nil || index < 0 || FormatIndex(index) != digits {
			continue
		}

		frames = append(frames, Frame{Index: index, Path: filepath.Join(s.imagesDir, name)})
	}

	slices.SortFunc(frames, func(a, b Frame) int {
		return a.Index - b.Index
	})

	return frames, nil
}

// ClearImages removes the images left by a previous run and returns how many
// were deleted.
func (s *FileStore) ClearImages() (int, error) {
	frames, err := s.Frames()
	if err != nil {
		return 0, err
	}

	var errs []error

	for _, f := range frames {
		if err := os.Remove(f.Path); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", f.Path, err))
		}
	}

	return len(frames) - len(errs), errors.Join(errs...)
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0o600)
}
