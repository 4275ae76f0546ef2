package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/crowdcell/stationd/internal/db"
	"github.com/crowdcell/stationd/internal/geo"
)

// ScanLACs recomputes up to batch virtual LAC stations whose sibling
// cells changed since the last derivation. Returns the number of LACs
// recomputed.
func (e *Env) ScanLACs(ctx context.Context, batch int) (updated int, err error) {
	err = e.run(ctx, "scan_lacs", func(ctx context.Context) error {
		updated = 0
		var lacs []*db.Cell
		err := e.withTx(ctx, func(tx *sql.Tx) error {
			var err error
			lacs, err = e.DB.LACsForUpdate(ctx, tx, batch)
			return err
		})
		if err != nil {
			return err
		}
		for _, lac := range lacs {
			if err := e.updateLAC(ctx, lac.Key.Radio, lac.Key.MCC, lac.Key.MNC, lac.Key.LAC); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	return updated, err
}

// updateLAC derives the virtual station for one LAC: the centroid of
// its positioned member cells, with a radius enclosing the union of
// their bounding boxes.
func (e *Env) updateLAC(ctx context.Context, radio, mcc, mnc, lac int) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		cells, err := e.DB.CellsInLAC(ctx, tx, radio, mcc, mnc, lac)
		if err != nil {
			return err
		}

		var pts []orb.Point
		minLat, minLon := int64(math.MaxInt64), int64(math.MaxInt64)
		maxLat, maxLon := int64(math.MinInt64), int64(math.MinInt64)
		for _, c := range cells {
			if c.Lat == nil || c.Lon == nil {
				continue
			}
			pts = append(pts, geo.Point(geo.ToDegrees(*c.Lat), geo.ToDegrees(*c.Lon)))
			minLat = min(minLat, derefOr(c.MinLat, *c.Lat))
			minLon = min(minLon, derefOr(c.MinLon, *c.Lon))
			maxLat = max(maxLat, derefOr(c.MaxLat, *c.Lat))
			maxLon = max(maxLon, derefOr(c.MaxLon, *c.Lon))
		}
		if len(pts) == 0 {
			// The virtual row outlived its members; RemoveCells should
			// have deleted it.
			return fmt.Errorf("lac %d/%d/%d/%d has no positioned member cells", radio, mcc, mnc, lac)
		}

		ctr := geo.Centroid(pts)
		corners := []orb.Point{
			geo.Point(geo.ToDegrees(minLat), geo.ToDegrees(minLon)),
			geo.Point(geo.ToDegrees(minLat), geo.ToDegrees(maxLon)),
			geo.Point(geo.ToDegrees(maxLat), geo.ToDegrees(minLon)),
			geo.Point(geo.ToDegrees(maxLat), geo.ToDegrees(maxLon)),
		}
		rng := int64(math.Round(geo.EnclosingRadiusKM(ctr, corners) * 1000.0))

		return e.DB.UpsertLAC(ctx, tx, radio, mcc, mnc, lac,
			geo.FromDegrees(ctr.Lat()), geo.FromDegrees(ctr.Lon()), rng,
			e.Clock.Now().Unix())
	})
}

func derefOr(p *int64, fallback int64) int64 {
	if p != nil {
		return *p
	}
	return fallback
}
