// Copyright 2025 The Hyperlapse Authors
//
// SPDX-License-Identifier: Apache-2.0
package spatial

import "math"

// Bearing returns the initial compass bearing, in degrees clockwise from north
// and within [0, 360), to travel from one point to another along a great circle.
// Identical points yield 0.
func Bearing(from, to Point) float64 {
	lat1 := toRadians(from.Lat)
	lat2 := toRadians(to.Lat)
	dLng := toRadians(to.Lng - from.Lng)

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)

	deg := math.Mod(toDegrees(math.Atan2(y, x))+360, 360)

	// atan2(-0, x) produces -0, and Mod can round 359.999… up to 360.
	if deg == 0 || deg >= 360 {
		return 0
	}

	return deg
}

// Headings computes the camera heading for every point of a route. Each point
// looks toward the next one; the last point keeps the heading of the final
// segment, and a single point looks north.
func Headings(points []Point) []float64 {
	n := len(points)
	headings := make([]float64, n)

	switch n {
	case 0, 1:
		return headings
	}

	for i := 0; i < n-1; i++ {
		headings[i] = Bearing(points[i], points[i+1])
	}

	headings[n-1] = Bearing(points[n-2], points[n-1])

	return headings
}
