// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

// Package video turns an ordered list of still frames into a video file.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// MinFrames is the smallest number of frames that makes a video.
const MinFrames = 2

var (
	// ErrInsufficientFrames is returned when fewer than MinFrames are given.
	ErrInsufficientFrames = errors.New("insufficient frames")

	// ErrEncoderNotFound is returned when the encoder binary is not installed.
	ErrEncoderNotFound = errors.New("encoder not found")
)

// EncodeError reports a failed encoder run.
type EncodeError struct {
	Err    error
	Stderr string // last lines written by the encoder
}

func (e *EncodeError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("encoder failed: %v", e.Err)
	}

	return fmt.Sprintf("encoder failed: %v: %s", e.Err, e.Stderr)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// Options configures FFmpeg.
type Options struct {
	// Binary is the ffmpeg executable, looked up in PATH when not absolute.
	Binary string

	// InputFPS is the rate at which the still frames are played.
	InputFPS int

	// OutputFPS is the rate of the interpolated video.
	OutputFPS int

	// Interpolate enables motion compensated frame interpolation.
	Interpolate bool

	Codec string
	CRF   int

	// Progress, when set, receives ffmpeg's stderr as it runs.
	Progress io.Writer
}

// FFmpeg encodes frames by piping them into ffmpeg.
type FFmpeg struct {
	options Options
}

// NewFFmpeg creates a new encoder.
func NewFFmpeg(options Options) *FFmpeg {
	if options.Binary == "" {
		options.Binary = "ffmpeg"
	}

	if options.Codec == "" {
		options.Codec = "libx264"
	}

	return &FFmpeg{options: options}
}

// Filter returns the video filter graph applied to the frames.
func (f *FFmpeg) Filter() string {
	filters := []string{
		// x264 with yuv420p needs even dimensions.
		"scale=trunc(iw/2)*2:trunc(ih/2)*2",
	}

	if f.options.Interpolate {
		filters = append(filters, fmt.Sprintf(
			"minterpolate=fps=%d:mi_mode=mci:mc_mode=aobmc:me_mode=bidir:vsbmc=1",
			f.options.OutputFPS,
		))
	}

	return strings.Join(filters, ",")
}

// Args returns the ffmpeg command line, without the binary, used to write output.
func (f *FFmpeg) Args(output string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "image2pipe",
		"-framerate", strconv.Itoa(f.options.InputFPS),
		"-i", "-",
		"-vf", f.Filter(),
		"-c:v", f.options.Codec,
	}

	if f.options.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(f.options.CRF))
	}

	args = append(args, "-pix_fmt", "yuv420p", output)

	return args
}

// Encode writes frames, in the given order, to output.
func (f *FFmpeg) Encode(ctx context.Context, frames []string, output string) error {
	if len(frames) < MinFrames {
		return fmt.Errorf("%w: need at least %d, got %d", ErrInsufficientFrames, MinFrames, len(frames))
	}

	binary, err := exec.LookPath(f.options.Binary)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncoderNotFound, f.options.Binary, err)
	}

	cmd := exec.CommandContext(ctx, binary, f.Args(output)...)

	stderr := &tailBuffer{max: 2048}
	if f.options.Progress != nil {
		cmd.Stderr = io.MultiWriter(stderr, f.options.Progress)
	} else {
		cmd.Stderr = stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("getting ffmpeg stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return &EncodeError{Err: fmt.Errorf("starting ffmpeg: %w", err)}
	}

	writeErr := writeFrames(stdin, frames)
	waitErr := cmd.Wait()

	if waitErr != nil {
		return &EncodeError{Err: waitErr, Stderr: stderr.String()}
	}

	if writeErr != nil {
		return &EncodeError{Err: writeErr, Stderr: stderr.String()}
	}

	return nil
}

func writeFrames(w io.WriteCloser, frames []string) error {
	for i, frame := range frames {
		data, err := os.ReadFile(frame)
		if err != nil {
			return errors.Join(fmt.Errorf("reading frame %d: %w", i, err), w.Close())
		}

		if _, err := w.Write(data); err != nil {
			return errors.Join(fmt.Errorf("writing frame %s to ffmpeg: %w", frame, err), w.Close())
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("closing ffmpeg stdin: %w", err)
	}

	log.Printf("Sent %d frames to ffmpeg", len(frames))

	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n, err := t.buf.Write(p)
	if extra := t.buf.Len() - t.max; extra > 0 {
		t.buf.Next(extra)
	}

	return n, err
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(t.buf.String())
}
