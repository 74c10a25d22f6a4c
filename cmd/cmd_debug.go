// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/streetlapse/hyperlapse/polyline"
	"github.com/streetlapse/hyperlapse/spatial"
)

// isTerminal reports whether f is a character device; when Stat fails we say
// that it isn't.
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}

	return (info.Mode() & os.ModeCharDevice) != 0
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Dev tools",
}

var debugPolylineCmd = &cobra.Command{
	Use:   "polyline",
	Short: "Decode encoded polylines and show the heading at each point",
	Long: `Reads one encoded polyline per line and prints, for each decoded point, its
index, coordinates and the heading an image taken there would face.

$ echo '_p~iF~ps|U_ulLnnqC_mqNvxq` + "`" + `@' | hyperlapse debug polyline
0000	38.500000,-120.200000	345.52
0001	40.700000,-120.950000	303.78
0002	43.252000,-126.453000	303.78
	`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		input := os.Stdin
		if isTerminal(input) {
			fmt.Fprintln(os.Stderr, "Enter encoded polylines, one per line…")
		}

		return decodePolylines(input, cmd.OutOrStdout())
	},
}

func decodePolylines(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		encoded := strings.TrimSpace(scanner.Text())
		if encoded == "" {
			continue
		}

		points, err := polyline.Decode(encoded)
		if err != nil {
			fmt.Fprintf(w, "%s\t%q\n", encoded, err)

			continue
		}

		headings := spatial.Headings(points)
		for i, p := range points {
			fmt.Fprintf(w, "%04d\t%s\t%.2f\n", i, p, headings[i])
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	return nil
}

var debugBearingCmd = &cobra.Command{
	Use:   "bearing <lat1> <lng1> <lat2> <lng2>",
	Short: "Print the initial bearing from one point to another",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		var values [4]float64

		for i, arg := range args {
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return fmt.Errorf("invalid coordinate %q: %w", arg, err)
			}

			values[i] = v
		}

		from := spatial.Point{Lat: values[0], Lng: values[1]}
		to := spatial.Point{Lat: values[2], Lng: values[3]}

		if !from.Valid() || !to.Valid() {
			return fmt.Errorf("coordinates out of range: %s %s", from, to)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%.4f\t%.1f m\n", spatial.Bearing(from, to), from.HaversineDistance(to))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugPolylineCmd)
	debugCmd.AddCommand(debugBearingCmd)
}
