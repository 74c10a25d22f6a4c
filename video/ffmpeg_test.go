// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeFrames(t *testing.T, n int) []string {
	t.Helper()

	dir := t.TempDir()
	frames := make([]string, n)

	for i := range frames {
		frames[i] = filepath.Join(dir, fmt.Sprintf("img_%04d.jpg", i))
		require.NoError(t, os.WriteFile(frames[i], []byte(fmt.Sprintf("frame-%d;", i)), 0o600))
	}

	return frames
}

// fakeEncoder writes a script that copies stdin into its last argument.
func fakeEncoder(t *testing.T, script string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}

	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o700))

	return path
}

func TestArgs(t *testing.T) {
	f := NewFFmpeg(Options{InputFPS: 5, OutputFPS: 30, Interpolate: true, CRF: 20})

	assert.Equal(t, []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "image2pipe",
		"-framerate", "5",
		"-i", "-",
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2,minterpolate=fps=30:mi_mode=mci:mc_mode=aobmc:me_mode=bidir:vsbmc=1",
		"-c:v", "libx264",
		"-crf", "20",
		"-pix_fmt", "yuv420p",
		"out.mp4",
	}, f.Args("out.mp4"))
}

func TestFilterWithoutInterpolation(t *testing.T) {
	f := NewFFmpeg(Options{InputFPS: 5, OutputFPS: 30})
	assert.Equal(t, "scale=trunc(iw/2)*2:trunc(ih/2)*2", f.Filter())
	assert.NotContains(t, f.Args("out.mp4"), "-crf")
}

func TestEncodeInsufficientFrames(t *testing.T) {
	f := NewFFmpeg(Options{Binary: "binary-that-is-never-run", InputFPS: 5})

	for n := 0; n < MinFrames; n++ {
		err := f.Encode(context.Background(), makeFrames(t, n), filepath.Join(t.TempDir(), "out.mp4"))
		assert.ErrorIs(t, err, ErrInsufficientFrames)
	}
}

func TestEncodeEncoderNotFound(t *testing.T) {
	f := NewFFmpeg(Options{Binary: "hyperlapse-no-such-encoder", InputFPS: 5})

	err := f.Encode(context.Background(), makeFrames(t, 3), filepath.Join(t.TempDir(), "out.mp4"))
	assert.ErrorIs(t, err, ErrEncoderNotFound)
}

func TestEncodeStreamsFramesInOrder(t *testing.T) {
	binary := fakeEncoder(t, `for last; do :; done
cat > "$last"
`)

	output := filepath.Join(t.TempDir(), "out.mp4")
	frames := makeFrames(t, 4)

	f := NewFFmpeg(Options{Binary: binary, InputFPS: 5, OutputFPS: 30, Interpolate: true})
	require.NoError(t, f.Encode(context.Background(), frames, output))

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "frame-0;frame-1;frame-2;frame-3;", string(data))
}

func TestEncodeFailure(t *testing.T) {
	binary := fakeEncoder(t, `cat > /dev/null
echo "Unknown encoder 'libx264'" >&2
exit 1
`)

	f := NewFFmpeg(Options{Binary: binary, InputFPS: 5})

	err := f.Encode(context.Background(), makeFrames(t, 2), filepath.Join(t.TempDir(), "out.mp4"))

	var encodeErr *EncodeError
	require.True(t, errors.As(err, &encodeErr), "expected *EncodeError, got %v", err)
	assert.Contains(t, encodeErr.Stderr, "Unknown encoder")

	var exitErr *exec.ExitError
	assert.ErrorAs(t, err, &exitErr)
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 5}

	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defgh"))

	assert.Equal(t, "defgh", b.String())
}
