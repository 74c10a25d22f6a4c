// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

// Package polyline implements the encoded polyline algorithm format used by
// routing services to ship a path as a compact ASCII string.
//
// A path is a sequence of signed deltas, alternating latitude and longitude,
// relative to the previous point (the first one is relative to 0,0). Each
// delta is multiplied by 1e5, zig-zag encoded and split into 5-bit groups,
// least significant first. Every group but the last has the 0x20 continuation
// bit set, and each group is written as the byte value+63.
package polyline

import (
	"fmt"
	"math"
	"strings"

	"github.com/streetlapse/hyperlapse/spatial"
)

const (
	precision = 1e5

	minChar      = 63
	maxChar      = 63 + 0x3f
	continuation = 0x20
	groupMask    = 0x1f

	// A coordinate delta never needs more than 32 bits after scaling, so
	// seven 5-bit groups is the most any well formed value uses.
	maxGroups = 7
)

// DecodeError reports a malformed encoded path.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("polyline: %s at offset %d", e.Reason, e.Offset)
}

// Decode converts an encoded path into its ordered list of points. The whole
// string must be consumed; a truncated value or a latitude without its
// longitude fails with a *DecodeError and no points are returned.
func Decode(encoded string) ([]spatial.Point, error) {
	// Each point takes at least two bytes.
	points := make([]spatial.Point, 0, len(encoded)/2)

	var lat, lng int64

	for offset := 0; offset < len(encoded); {
		dLat, next, err := decodeValue(encoded, offset)
		if err != nil {
			return nil, err
		}

		if next == len(encoded) {
			return nil, &DecodeError{Offset: next, Reason: "premature end of input, missing longitude"}
		}

		dLng, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}

		lat += dLat
		lng += dLng
		offset = next

		points = append(points, spatial.Point{
			Lat: float64(lat) / precision,
			Lng: float64(lng) / precision,
		})
	}

	return points, nil
}

// decodeValue reads one zig-zag encoded integer starting at offset and returns
// it with the offset of the following byte.
func decodeValue(encoded string, offset int) (int64, int, error) {
	var (
		result uint64
		shift  uint
	)

	start := offset

	for groups := 0; ; groups++ {
		if offset >= len(encoded) {
			return 0, offset, &DecodeError{Offset: start, Reason: "unterminated value"}
		}

		if groups == maxGroups {
			return 0, offset, &DecodeError{Offset: start, Reason: "value too long"}
		}

		c := encoded[offset]
		if c < minChar || c > maxChar {
			return 0, offset, &DecodeError{Offset: offset, Reason: fmt.Sprintf("invalid character %q", c)}
		}

		b := uint64(c - minChar)
		offset++

		result |= (b & groupMask) << shift
		shift += 5

		if b&continuation == 0 {
			break
		}
	}

	value := int64(result >> 1)
	if result&1 != 0 {
		value = ^value
	}

	return value, offset, nil
}

// Encode is the inverse of Decode. Coordinates are rounded to five decimals.
func Encode(points []spatial.Point) string {
	var (
		sb       strings.Builder
		lat, lng int64
	)

	for _, p := range points {
		nextLat := int64(math.Round(p.Lat * precision))
		nextLng := int64(math.Round(p.Lng * precision))

		encodeValue(&sb, nextLat-lat)
		encodeValue(&sb, nextLng-lng)

		lat, lng = nextLat, nextLng
	}

	return sb.String()
}

func encodeValue(sb *strings.Builder, v int64) {
	u := uint64(v) << 1
	if v < 0 {
		u = ^u
	}

	for u >= continuation {
		sb.WriteByte(byte((u&groupMask)|continuation) + minChar)
		u >>= 5
	}

	sb.WriteByte(byte(u) + minChar)
}
