package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func p(v int64) *int64 { return &v }

func TestFoldEmptyBatch(t *testing.T) {
	s := &Station{Lat: p(100000000), Lon: p(100000000), NewMeasures: 3, TotalMeasures: 5}
	moved := Fold(s, nil, CellMaxDistKM, false)
	assert.False(t, moved)
	assert.Equal(t, int64(100000000), *s.Lat)
	assert.Equal(t, int64(3), s.NewMeasures)
	assert.Equal(t, int64(5), s.TotalMeasures)
}

func TestFoldSeedsFreshStation(t *testing.T) {
	s := &Station{NewMeasures: 2}
	batch := []Point{
		{Lat: 100000000, Lon: 200000000},
		{Lat: 100000020, Lon: 200000020},
	}
	moved := Fold(s, batch, WifiMaxDistKM, false)
	require.False(t, moved)
	require.True(t, s.HasPosition())
	assert.Equal(t, int64(100000010), *s.Lat)
	assert.Equal(t, int64(200000010), *s.Lon)
	assert.Equal(t, int64(0), s.NewMeasures)
	assert.Equal(t, int64(100000000), *s.MinLat)
	assert.Equal(t, int64(100000020), *s.MaxLat)
	assert.Equal(t, int64(200000000), *s.MinLon)
	assert.Equal(t, int64(200000020), *s.MaxLon)
}

func TestFoldSeedsNegativeHemisphere(t *testing.T) {
	s := &Station{NewMeasures: 2}
	batch := []Point{
		{Lat: -100000001, Lon: -100000001},
		{Lat: -100000002, Lon: -100000002},
	}
	require.False(t, Fold(s, batch, WifiMaxDistKM, false))
	// Floor division, so the mean rounds toward negative infinity.
	assert.Equal(t, int64(-100000002), *s.Lat)
	assert.Equal(t, int64(-100000002), *s.Lon)
}

func TestFoldIncrementalWeightedMean(t *testing.T) {
	// One prior measurement folded in, one pending and already counted
	// into the lifetime total.
	s := &Station{
		Lat: p(100000000), Lon: p(100000000),
		NewMeasures: 1, TotalMeasures: 2,
	}
	batch := []Point{{Lat: 100000020, Lon: 100000020}}
	moved := Fold(s, batch, CellMaxDistKM, false)
	require.False(t, moved)
	assert.Equal(t, int64(100000010), *s.Lat)
	assert.Equal(t, int64(100000010), *s.Lon)
	assert.Equal(t, int64(0), s.NewMeasures)
	assert.Equal(t, int64(2), s.TotalMeasures)
}

func TestFoldBackfillGrowsTotal(t *testing.T) {
	// Backfilled rows were never counted at ingestion, so the lifetime
	// total grows and the prior estimate carries double weight.
	s := &Station{
		Lat: p(100000000), Lon: p(100000000),
		NewMeasures: 0, TotalMeasures: 2,
	}
	batch := []Point{{Lat: 100000021, Lon: 100000021}}
	moved := Fold(s, batch, CellMaxDistKM, true)
	require.False(t, moved)
	assert.Equal(t, int64(3), s.TotalMeasures)
	assert.Equal(t, int64(0), s.NewMeasures)
	// floor((2*100000000 + 100000021) / 3)
	assert.Equal(t, int64(100000007), *s.Lat)
	assert.Equal(t, int64(100000007), *s.Lon)
}

func TestFoldDetectsMovingStation(t *testing.T) {
	s := &Station{
		Lat: p(100000000), Lon: p(100000000),
		NewMeasures: 1, TotalMeasures: 2,
	}
	// Two degrees of latitude is over 200 km from the prior estimate.
	batch := []Point{{Lat: 120000000, Lon: 100000000}}
	moved := Fold(s, batch, CellMaxDistKM, false)
	require.True(t, moved)
	// A moving station is left untouched for the caller to blacklist.
	assert.Equal(t, int64(100000000), *s.Lat)
	assert.Equal(t, int64(1), s.NewMeasures)
	assert.Nil(t, s.MinLat)
}

func TestFoldWifiThresholdTighter(t *testing.T) {
	far := []Point{{Lat: 100700000, Lon: 100000000}} // ~7.8 km north

	wifi := &Station{Lat: p(100000000), Lon: p(100000000), NewMeasures: 1, TotalMeasures: 2}
	assert.True(t, Fold(wifi, far, WifiMaxDistKM, false))

	cell := &Station{Lat: p(100000000), Lon: p(100000000), NewMeasures: 1, TotalMeasures: 2}
	assert.False(t, Fold(cell, far, CellMaxDistKM, false))
}

func TestFoldExtendsPriorBoundingBox(t *testing.T) {
	s := &Station{
		Lat: p(100000000), Lon: p(100000000),
		MinLat: p(99999990), MinLon: p(99999990),
		MaxLat: p(100000010), MaxLon: p(100000010),
		NewMeasures: 1, TotalMeasures: 3,
	}
	batch := []Point{{Lat: 100000040, Lon: 99999980}}
	require.False(t, Fold(s, batch, CellMaxDistKM, false))
	assert.Equal(t, int64(99999990), *s.MinLat)
	assert.Equal(t, int64(100000040), *s.MaxLat)
	assert.Equal(t, int64(99999980), *s.MinLon)
	assert.Equal(t, int64(100000010), *s.MaxLon)
	assert.GreaterOrEqual(t, s.RangeMeters, int64(0))
}
