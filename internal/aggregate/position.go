// Package aggregate folds measurement batches into a station's running
// position estimate and detects stations that appear to move.
package aggregate

import (
	"github.com/paulmach/orb"

	"github.com/crowdcell/stationd/internal/geo"
)

// Per-kind caps on the bounding-box diagonal. A station whose box grows
// beyond this after folding a batch is considered to be moving.
const (
	CellMaxDistKM = 150
	WifiMaxDistKM = 5
)

// Point is a single measurement position in centimicrodegrees.
type Point struct {
	Lat int64
	Lon int64
}

// Station is the mutable aggregation view of a station row. Lat/Lon and
// the bounding box are nil until the first batch is folded in; a nil
// estimate is distinct from an estimate at (0, 0).
type Station struct {
	Lat    *int64
	Lon    *int64
	MinLat *int64
	MinLon *int64
	MaxLat *int64
	MaxLon *int64

	// RangeMeters is the enclosing radius of the bounding box around
	// the current estimate, in integer meters.
	RangeMeters int64

	NewMeasures   int64
	TotalMeasures int64
}

// HasPosition reports whether the station has a prior estimate.
func (s *Station) HasPosition() bool {
	return s.Lat != nil && s.Lon != nil
}

// Fold merges batch into the station estimate. In incremental mode
// (backfill false) the batch was already counted into TotalMeasures at
// ingestion and NewMeasures is decremented here; in backfill mode the
// batch was never counted and TotalMeasures is incremented instead.
//
// Returns true if the extended bounding box exceeds maxDistKM for a
// station with a prior estimate. In that case the station is left
// unmodified; the caller blacklists and deletes it.
func Fold(s *Station, batch []Point, maxDistKM float64, backfill bool) (moved bool) {
	n := int64(len(batch))
	if n == 0 {
		return false
	}

	var sumLat, sumLon int64
	for _, p := range batch {
		sumLat += p.Lat
		sumLon += p.Lon
	}
	batchLat := geo.FloorDiv(sumLat, n)
	batchLon := geo.FloorDiv(sumLon, n)

	lats := make([]int64, 0, n+1)
	lons := make([]int64, 0, n+1)
	for _, p := range batch {
		lats = append(lats, p.Lat)
		lons = append(lons, p.Lon)
	}

	existing := s.HasPosition()
	if existing {
		lats = append(lats, *s.Lat)
		lons = append(lons, *s.Lon)
	} else {
		s.Lat = ptr(batchLat)
		s.Lon = ptr(batchLon)
	}

	minLat := lowest(lats, s.MinLat)
	minLon := lowest(lons, s.MinLon)
	maxLat := highest(lats, s.MaxLat)
	maxLon := highest(lons, s.MaxLon)

	// The diagonal of the bounding box containing the prior estimate,
	// the prior box and the new batch is the movement signal.
	boxKM := geo.DistanceKM(
		geo.ToDegrees(minLat), geo.ToDegrees(minLon),
		geo.ToDegrees(maxLat), geo.ToDegrees(maxLon))

	if existing {
		if boxKM > maxDistKM {
			return true
		}

		var newTotal, oldLen int64
		if backfill {
			newTotal = s.TotalMeasures + n
			oldLen = s.TotalMeasures
			s.TotalMeasures = newTotal
		} else {
			newTotal = s.TotalMeasures
			oldLen = newTotal - n
		}

		s.Lat = ptr(geo.FloorDiv(*s.Lat*oldLen+batchLat*n, newTotal))
		s.Lon = ptr(geo.FloorDiv(*s.Lon*oldLen+batchLon*n, newTotal))
	}

	if !backfill {
		// Total already accounts for this batch; only the pending
		// counter comes down.
		s.NewMeasures -= n
	}

	s.MinLat = ptr(minLat)
	s.MinLon = ptr(minLon)
	s.MaxLat = ptr(maxLat)
	s.MaxLon = ptr(maxLon)

	center := geo.Point(geo.ToDegrees(*s.Lat), geo.ToDegrees(*s.Lon))
	corners := boxCorners(minLat, minLon, maxLat, maxLon)
	s.RangeMeters = int64(geo.EnclosingRadiusKM(center, corners) * 1000.0)

	return false
}

func boxCorners(minLat, minLon, maxLat, maxLon int64) []orb.Point {
	return []orb.Point{
		geo.Point(geo.ToDegrees(minLat), geo.ToDegrees(minLon)),
		geo.Point(geo.ToDegrees(minLat), geo.ToDegrees(maxLon)),
		geo.Point(geo.ToDegrees(maxLat), geo.ToDegrees(minLon)),
		geo.Point(geo.ToDegrees(maxLat), geo.ToDegrees(maxLon)),
	}
}

func lowest(vals []int64, prior *int64) int64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	if prior != nil && *prior < m {
		m = *prior
	}
	return m
}

func highest(vals []int64, prior *int64) int64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	if prior != nil && *prior > m {
		m = *prior
	}
	return m
}

func ptr(v int64) *int64 { return &v }
