// Package geo provides the coordinate encoding and spherical-geometry
// primitives used by the station aggregation pipeline.
//
// Stored coordinates are integers in centimicrodegrees (degrees times 1e7).
// All geometry runs in degrees; conversion happens at this boundary.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Centimicro is the scale factor between degrees and the stored
// integer encoding.
const Centimicro = 10000000

// ToDegrees converts a stored centimicrodegree value to degrees.
func ToDegrees(v int64) float64 {
	return float64(v) / Centimicro
}

// FromDegrees converts degrees to the stored centimicrodegree encoding.
func FromDegrees(d float64) int64 {
	return int64(math.Round(d * Centimicro))
}

// FloorDiv divides a by b rounding toward negative infinity. Station
// position folding uses floor division so that southern/western
// hemisphere batches aggregate the same way regardless of sign.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Point builds an orb.Point from a lat/lon pair in degrees.
// orb stores points as (lon, lat).
func Point(lat, lon float64) orb.Point {
	return orb.Point{lon, lat}
}

// DistanceKM returns the great-circle distance in kilometers between
// two lat/lon pairs given in degrees.
func DistanceKM(lat1, lon1, lat2, lon2 float64) float64 {
	return orbgeo.DistanceHaversine(Point(lat1, lon1), Point(lat2, lon2)) / 1000.0
}

// Centroid returns the arithmetic mean of a point set. The points span
// at most a station footprint, far from the antimeridian, so a plain
// mean is sufficient.
func Centroid(points []orb.Point) orb.Point {
	var sumLat, sumLon float64
	for _, p := range points {
		sumLon += p[0]
		sumLat += p[1]
	}
	n := float64(len(points))
	return orb.Point{sumLon / n, sumLat / n}
}

// EnclosingRadiusKM returns the maximum great-circle distance in
// kilometers from center to any of the given points.
func EnclosingRadiusKM(center orb.Point, points []orb.Point) float64 {
	var max float64
	for _, p := range points {
		if d := orbgeo.DistanceHaversine(center, p) / 1000.0; d > max {
			max = d
		}
	}
	return max
}
