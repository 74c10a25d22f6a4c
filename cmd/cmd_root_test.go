// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/streetlapse/hyperlapse/config"
	"github.com/streetlapse/hyperlapse/hyperlapse"
	"github.com/streetlapse/hyperlapse/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const directionsOK = `{
  "status": "OK",
  "routes": [{
    "summary": "7th Ave",
    "overview_polyline": {"points": "_p~iF~ps|U_ulLnnqC_mqNvxq` + "`" + `@"},
    "legs": [{"distance": {"value": 1234}, "duration": {"value": 960}, "steps": []}]
  }]
}`

// resetRootCmd restores the flags and the state they write to, since rootCmd
// is shared by every test in the package.
func resetRootCmd(t *testing.T) {
	t.Helper()

	t.Cleanup(func() {
		for _, name := range []string{"skip-fetch", "only-coordinates", "verbose", "metrics-file", "trace-http", "trace-http-body"} {
			f := rootCmd.Flags().Lookup(name)
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}

		f := rootCmd.PersistentFlags().Lookup("config")
		_ = f.Value.Set(f.DefValue)
		f.Changed = false

		mode = config.Mode{}
		configPath = ""

		rootCmd.SetArgs(nil)
	})
}

// writeConfig writes a config file keeping every output under dir.
func writeConfig(t *testing.T, dir, routingURL string) string {
	t.Helper()

	path := filepath.Join(dir, "hyperlapse.yaml")
	content := fmt.Sprintf(`routing:
  base_url: %q
output:
  images_dir: %q
  coordinates_file: %q
  gpx_file: %q
  video_file: %q
video:
  binary: %q
`,
		routingURL,
		filepath.Join(dir, "images"),
		filepath.Join(dir, "coordinates.json"),
		filepath.Join(dir, "route.gpx"),
		filepath.Join(dir, "hyperlapse.mp4"),
		filepath.Join(dir, "no-such-ffmpeg"),
	)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestRootCmdFlags(t *testing.T) {
	tests := []struct {
		flag      string
		shorthand string
	}{
		{"skip-fetch", "s"},
		{"only-coordinates", "c"},
		{"verbose", "v"},
	}

	for _, tc := range tests {
		t.Run(tc.flag, func(t *testing.T) {
			f := rootCmd.Flags().Lookup(tc.flag)
			require.NotNil(t, f)
			assert.Equal(t, tc.shorthand, f.Shorthand)
		})
	}
}

func TestRootCmdSkipFetch(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		images   int
		expected error
		message  string
	}{
		{"no images", []string{"-s"}, 0, hyperlapse.ErrNoImages, "no existing images"},
		{"single image", []string{"-s"}, 1, video.ErrInsufficientFrames, "video not generated"},
		{"encoder missing", []string{"--skip-fetch"}, 2, video.ErrEncoderNotFound, "video not generated"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resetRootCmd(t)

			dir := t.TempDir()
			t.Chdir(dir)
			t.Setenv("GOOGLE_MAPS_API_KEY", "")
			t.Setenv("HYPERLAPSE_API_KEY", "")

			path := writeConfig(t, dir, "")

			images := filepath.Join(dir, "images")
			require.NoError(t, os.MkdirAll(images, 0o750))

			for i := range tc.images {
				name := filepath.Join(images, "img_"+hyperlapse.FormatIndex(i)+".jpg")
				require.NoError(t, os.WriteFile(name, []byte("jpeg"), 0o600))
			}

			rootCmd.SetArgs(append(tc.args, "--config", path))

			err := rootCmd.Execute()
			require.ErrorIs(t, err, tc.expected)
			assert.Contains(t, err.Error(), tc.message)
			assert.True(t, mode.SkipFetch)
			assert.NoFileExists(t, filepath.Join(dir, "hyperlapse.mp4"))
		})
	}
}

func TestRootCmdExclusiveModes(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"shorthands", []string{"-s", "-c"}},
		{"combined shorthands", []string{"-sc"}},
		{"long names", []string{"--skip-fetch", "--only-coordinates"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resetRootCmd(t)

			dir := t.TempDir()
			t.Chdir(dir)

			rootCmd.SetArgs(append(tc.args, "--config", writeConfig(t, dir, "")))

			err := rootCmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "none of the others can be")
			assert.NoFileExists(t, filepath.Join(dir, "coordinates.json"))
		})
	}
}

func TestRootCmdOnlyCoordinates(t *testing.T) {
	resetRootCmd(t)

	var requests int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/maps/api/directions/json" {
			http.NotFound(w, r)

			return
		}

		requests++

		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "walking", r.URL.Query().Get("mode"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(directionsOK))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("GOOGLE_MAPS_API_KEY", "")
	t.Setenv("HYPERLAPSE_API_KEY", "test-key")

	rootCmd.SetArgs([]string{"-c", "--config", writeConfig(t, dir, srv.URL)})

	require.NoError(t, rootCmd.Execute())
	assert.True(t, mode.OnlyCoordinates)
	assert.Equal(t, 1, requests)

	assert.FileExists(t, filepath.Join(dir, "coordinates.json"))
	assert.FileExists(t, filepath.Join(dir, "route.gpx"))
	assert.NoDirExists(t, filepath.Join(dir, "images"))
	assert.NoFileExists(t, filepath.Join(dir, "hyperlapse.mp4"))
}
