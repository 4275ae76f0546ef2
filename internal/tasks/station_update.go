package tasks

import (
	"context"
	"database/sql"

	"github.com/crowdcell/stationd/internal/aggregate"
	"github.com/crowdcell/stationd/internal/db"
	"github.com/crowdcell/stationd/internal/monitoring"
)

func cellView(c *db.Cell) *aggregate.Station {
	return &aggregate.Station{
		Lat: c.Lat, Lon: c.Lon,
		MinLat: c.MinLat, MinLon: c.MinLon,
		MaxLat: c.MaxLat, MaxLon: c.MaxLon,
		RangeMeters:   c.Range,
		NewMeasures:   c.NewMeasures,
		TotalMeasures: c.TotalMeasures,
	}
}

func applyCellView(c *db.Cell, s *aggregate.Station) {
	c.Lat, c.Lon = s.Lat, s.Lon
	c.MinLat, c.MinLon = s.MinLat, s.MinLon
	c.MaxLat, c.MaxLon = s.MaxLat, s.MaxLon
	c.Range = s.RangeMeters
	c.NewMeasures = s.NewMeasures
	c.TotalMeasures = s.TotalMeasures
}

func wifiView(w *db.Wifi) *aggregate.Station {
	return &aggregate.Station{
		Lat: w.Lat, Lon: w.Lon,
		MinLat: w.MinLat, MinLon: w.MinLon,
		MaxLat: w.MaxLat, MaxLon: w.MaxLon,
		RangeMeters:   w.Range,
		NewMeasures:   w.NewMeasures,
		TotalMeasures: w.TotalMeasures,
	}
}

func applyWifiView(w *db.Wifi, s *aggregate.Station) {
	w.Lat, w.Lon = s.Lat, s.Lon
	w.MinLat, w.MinLon = s.MinLat, s.MinLon
	w.MaxLat, w.MaxLon = s.MaxLat, s.MaxLon
	w.Range = s.RangeMeters
	w.NewMeasures = s.NewMeasures
	w.TotalMeasures = s.TotalMeasures
}

func toPoints(measures []db.Measure) []aggregate.Point {
	pts := make([]aggregate.Point, len(measures))
	for i, m := range measures {
		pts[i] = aggregate.Point{Lat: m.Lat, Lon: m.Lon}
	}
	return pts
}

// malformedCell reports keys that can never become a real station: an
// unknown LAC or cid, or a cid colliding with the reserved virtual id.
func malformedCell(key db.CellKey) bool {
	return key.LAC == -1 || key.CID == -1 || key.CID == db.CellIDLAC
}

// CellLocationUpdate folds pending measurements into up to batch cell
// stations with a backlog in [minNew, maxNew), marks each enclosing LAC
// dirty, and blacklists and removes stations that moved. Returns the
// number of stations examined and the number found moving.
func (e *Env) CellLocationUpdate(ctx context.Context, minNew, maxNew int64, batch int) (processed, moving int, err error) {
	err = e.run(ctx, "cell_location_update", func(ctx context.Context) error {
		processed, moving = 0, 0
		return e.withTx(ctx, func(tx *sql.Tx) error {
			cells, err := e.DB.CellsForLocationUpdate(ctx, tx, minNew, maxNew, batch)
			if err != nil {
				return err
			}

			var movingKeys []db.CellKey
			for _, c := range cells {
				if malformedCell(c.Key) {
					continue
				}
				measures, err := e.DB.RecentCellMeasures(ctx, tx, c.Key, c.NewMeasures)
				if err != nil {
					return err
				}
				if len(measures) == 0 {
					continue
				}

				st := cellView(c)
				if aggregate.Fold(st, toPoints(measures), aggregate.CellMaxDistKM, false) {
					movingKeys = append(movingKeys, c.Key)
					continue
				}
				applyCellView(c, st)
				if err := e.DB.UpdateCellPosition(ctx, tx, c); err != nil {
					return err
				}
				if err := e.DB.TouchEnclosingLAC(ctx, tx, c, e.Clock.Now().Unix()); err != nil {
					return err
				}
			}
			processed = len(cells)

			moving, err = e.markMovingCells(ctx, tx, movingKeys)
			return err
		})
	})
	return processed, moving, err
}

// markMovingCells blacklists the keys and removes the newly blacklisted
// station rows. Keys already blacklisted keep their original entry.
func (e *Env) markMovingCells(ctx context.Context, tx *sql.Tx, keys []db.CellKey) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	now := e.Clock.Now().Unix()
	var fresh []db.CellKey
	for _, key := range keys {
		added, err := e.DB.InsertCellBlacklist(ctx, tx, key, now)
		if err != nil {
			return 0, err
		}
		if added {
			fresh = append(fresh, key)
		}
	}
	if len(fresh) > 0 {
		if _, err := e.DB.RemoveCells(ctx, tx, fresh); err != nil {
			return 0, err
		}
		e.Metrics.Blacklisted.WithLabelValues(string(db.MeasureKindCell)).Add(float64(len(fresh)))
		monitoring.Logf("blacklisted %d moving cells", len(fresh))
	}
	return len(fresh), nil
}

// WifiLocationUpdate is the access-point counterpart of
// CellLocationUpdate, with the tighter movement threshold and no LAC
// bookkeeping.
func (e *Env) WifiLocationUpdate(ctx context.Context, minNew, maxNew int64, batch int) (processed, moving int, err error) {
	err = e.run(ctx, "wifi_location_update", func(ctx context.Context) error {
		processed, moving = 0, 0
		return e.withTx(ctx, func(tx *sql.Tx) error {
			wifis, err := e.DB.WifisForLocationUpdate(ctx, tx, minNew, maxNew, batch)
			if err != nil {
				return err
			}

			var movingKeys []string
			for _, w := range wifis {
				measures, err := e.DB.RecentWifiMeasures(ctx, tx, w.Key, w.NewMeasures)
				if err != nil {
					return err
				}
				if len(measures) == 0 {
					continue
				}

				st := wifiView(w)
				if aggregate.Fold(st, toPoints(measures), aggregate.WifiMaxDistKM, false) {
					movingKeys = append(movingKeys, w.Key)
					continue
				}
				applyWifiView(w, st)
				if err := e.DB.UpdateWifiPosition(ctx, tx, w); err != nil {
					return err
				}
			}
			processed = len(wifis)

			moving, err = e.markMovingWifis(ctx, tx, movingKeys)
			return err
		})
	})
	return processed, moving, err
}

func (e *Env) markMovingWifis(ctx context.Context, tx *sql.Tx, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	now := e.Clock.Now().Unix()
	var fresh []string
	for _, key := range keys {
		added, err := e.DB.InsertWifiBlacklist(ctx, tx, key, now)
		if err != nil {
			return 0, err
		}
		if added {
			fresh = append(fresh, key)
		}
	}
	if len(fresh) > 0 {
		if _, err := e.DB.RemoveWifis(ctx, tx, fresh); err != nil {
			return 0, err
		}
		e.Metrics.Blacklisted.WithLabelValues(string(db.MeasureKindWifi)).Add(float64(len(fresh)))
		monitoring.Logf("blacklisted %d moving wifis", len(fresh))
	}
	return len(fresh), nil
}

// BackfillCellLocationUpdate folds explicitly named historic
// measurements into their stations. Unlike the incremental updater the
// rows were never counted at ingestion, so lifetime totals grow here.
func (e *Env) BackfillCellLocationUpdate(ctx context.Context, batches map[db.CellKey][]int64) (processed, moving int, err error) {
	err = e.run(ctx, "backfill_cell_location_update", func(ctx context.Context) error {
		processed, moving = 0, 0
		return e.withTx(ctx, func(tx *sql.Tx) error {
			var movingKeys []db.CellKey
			for key, ids := range batches {
				if malformedCell(key) {
					continue
				}
				cells, err := e.DB.CellsByKey(ctx, tx, key)
				if err != nil {
					return err
				}
				measures, err := e.DB.CellMeasuresByIDs(ctx, tx, ids)
				if err != nil {
					return err
				}
				if len(measures) == 0 {
					continue
				}

				for _, c := range cells {
					st := cellView(c)
					if aggregate.Fold(st, toPoints(measures), aggregate.CellMaxDistKM, true) {
						movingKeys = append(movingKeys, c.Key)
						continue
					}
					applyCellView(c, st)
					if err := e.DB.UpdateCellPosition(ctx, tx, c); err != nil {
						return err
					}
					if err := e.DB.TouchEnclosingLAC(ctx, tx, c, e.Clock.Now().Unix()); err != nil {
						return err
					}
					processed++
				}
			}

			moving, err = e.markMovingCells(ctx, tx, movingKeys)
			return err
		})
	})
	return processed, moving, err
}

// RemoveCellStations deletes station rows by key, maintaining each
// enclosing LAC. Exposed for operational cleanups alongside the
// automatic blacklist path.
func (e *Env) RemoveCellStations(ctx context.Context, keys []db.CellKey) (removed int64, err error) {
	err = e.run(ctx, "remove_cell", func(ctx context.Context) error {
		removed = 0
		return e.withTx(ctx, func(tx *sql.Tx) error {
			removed, err = e.DB.RemoveCells(ctx, tx, keys)
			return err
		})
	})
	return removed, err
}

// RemoveWifiStations deletes access-point rows by key.
func (e *Env) RemoveWifiStations(ctx context.Context, keys []string) (removed int64, err error) {
	err = e.run(ctx, "remove_wifi", func(ctx context.Context) error {
		removed = 0
		return e.withTx(ctx, func(tx *sql.Tx) error {
			removed, err = e.DB.RemoveWifis(ctx, tx, keys)
			return err
		})
	})
	return removed, err
}
