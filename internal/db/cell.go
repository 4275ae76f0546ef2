package db

import (
	"context"
	"fmt"
	"strings"
)

// CellIDLAC is the reserved cid marking the virtual per-LAC station,
// whose position is derived from its sibling cells.
const CellIDLAC = -2

// CellKey uniquely identifies a cell station.
type CellKey struct {
	Radio int
	MCC   int
	MNC   int
	LAC   int
	CID   int
}

func (k CellKey) String() string {
	return fmt.Sprintf("%d/%d/%d/%d/%d", k.Radio, k.MCC, k.MNC, k.LAC, k.CID)
}

// Cell is one station row. Lat/Lon and the bounding box are NULL until
// the first measurement batch has been folded in.
type Cell struct {
	ID      int64
	Created int64
	Key     CellKey

	Lat    *int64
	Lon    *int64
	MinLat *int64
	MinLon *int64
	MaxLat *int64
	MaxLon *int64

	Range         int64
	NewMeasures   int64
	TotalMeasures int64
}

const cellColumns = `id, created, radio, mcc, mnc, lac, cid,
	lat, lon, min_lat, min_lon, max_lat, max_lon,
	"range", new_measures, total_measures`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCell(r rowScanner) (*Cell, error) {
	var c Cell
	err := r.Scan(
		&c.ID, &c.Created,
		&c.Key.Radio, &c.Key.MCC, &c.Key.MNC, &c.Key.LAC, &c.Key.CID,
		&c.Lat, &c.Lon, &c.MinLat, &c.MinLon, &c.MaxLat, &c.MaxLon,
		&c.Range, &c.NewMeasures, &c.TotalMeasures,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func queryCells(ctx context.Context, q Queryer, query string, args ...any) ([]*Cell, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cells []*Cell
	for rows.Next() {
		c, err := scanCell(rows)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// CellsForLocationUpdate selects up to batch non-virtual cells whose
// pending measurement count is within [minNew, maxNew). The upper bound
// keeps pathological stations with huge backlogs from starving a run.
func (db *DB) CellsForLocationUpdate(ctx context.Context, q Queryer, minNew, maxNew int64, batch int) ([]*Cell, error) {
	return queryCells(ctx, q, `
		SELECT `+cellColumns+` FROM cell
		WHERE new_measures >= ? AND new_measures < ? AND cid != ?
		LIMIT ?`,
		minNew, maxNew, CellIDLAC, batch)
}

// CellsByKey returns the cells matching the full station key.
func (db *DB) CellsByKey(ctx context.Context, q Queryer, key CellKey) ([]*Cell, error) {
	return queryCells(ctx, q, `
		SELECT `+cellColumns+` FROM cell
		WHERE radio = ? AND mcc = ? AND mnc = ? AND lac = ? AND cid = ?`,
		key.Radio, key.MCC, key.MNC, key.LAC, key.CID)
}

// InsertCell creates a station row; used by ingestion and tests.
func (db *DB) InsertCell(ctx context.Context, q Queryer, c *Cell) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO cell (created, radio, mcc, mnc, lac, cid,
			lat, lon, min_lat, min_lon, max_lat, max_lon,
			"range", new_measures, total_measures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Created, c.Key.Radio, c.Key.MCC, c.Key.MNC, c.Key.LAC, c.Key.CID,
		c.Lat, c.Lon, c.MinLat, c.MinLon, c.MaxLat, c.MaxLon,
		c.Range, c.NewMeasures, c.TotalMeasures)
	if err != nil {
		return fmt.Errorf("failed to insert cell: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// UpdateCellPosition stores the aggregation result for one cell.
func (db *DB) UpdateCellPosition(ctx context.Context, q Queryer, c *Cell) error {
	_, err := q.ExecContext(ctx, `
		UPDATE cell SET lat = ?, lon = ?,
			min_lat = ?, min_lon = ?, max_lat = ?, max_lon = ?,
			"range" = ?, new_measures = ?, total_measures = ?
		WHERE id = ?`,
		c.Lat, c.Lon, c.MinLat, c.MinLon, c.MaxLat, c.MaxLon,
		c.Range, c.NewMeasures, c.TotalMeasures, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update cell %s: %w", c.Key, err)
	}
	return nil
}

// TouchEnclosingLAC upserts the virtual LAC row for a cell, seeding it
// from the cell's position on first insert and bumping its pending
// counter otherwise. A dirty counter schedules the LAC for recompute.
func (db *DB) TouchEnclosingLAC(ctx context.Context, q Queryer, c *Cell, now int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO cell (created, radio, mcc, mnc, lac, cid,
			lat, lon, "range", new_measures, total_measures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0)
		ON CONFLICT (radio, mcc, mnc, lac, cid) DO UPDATE SET
			new_measures = new_measures + 1`,
		now, c.Key.Radio, c.Key.MCC, c.Key.MNC, c.Key.LAC, CellIDLAC,
		c.Lat, c.Lon, c.Range)
	if err != nil {
		return fmt.Errorf("failed to touch LAC for cell %s: %w", c.Key, err)
	}
	return nil
}

// LACsForUpdate selects up to batch virtual LAC rows with pending
// sibling updates.
func (db *DB) LACsForUpdate(ctx context.Context, q Queryer, batch int) ([]*Cell, error) {
	return queryCells(ctx, q, `
		SELECT `+cellColumns+` FROM cell
		WHERE cid = ? AND new_measures > 0
		LIMIT ?`,
		CellIDLAC, batch)
}

// CellsInLAC returns all non-virtual member cells of a LAC.
func (db *DB) CellsInLAC(ctx context.Context, q Queryer, radio, mcc, mnc, lac int) ([]*Cell, error) {
	return queryCells(ctx, q, `
		SELECT `+cellColumns+` FROM cell
		WHERE radio = ? AND mcc = ? AND mnc = ? AND lac = ? AND cid != ?`,
		radio, mcc, mnc, lac, CellIDLAC)
}

// UpsertLAC writes the derived virtual station for a LAC and clears its
// pending counter.
func (db *DB) UpsertLAC(ctx context.Context, q Queryer, radio, mcc, mnc, lac int, lat, lon, rng, now int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO cell (created, radio, mcc, mnc, lac, cid,
			lat, lon, "range", new_measures, total_measures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT (radio, mcc, mnc, lac, cid) DO UPDATE SET
			lat = excluded.lat,
			lon = excluded.lon,
			"range" = excluded."range",
			new_measures = 0`,
		now, radio, mcc, mnc, lac, CellIDLAC, lat, lon, rng)
	if err != nil {
		return fmt.Errorf("failed to upsert LAC %d/%d/%d/%d: %w", radio, mcc, mnc, lac, err)
	}
	return nil
}

// InsertCellBlacklist records a moving cell. The insert is idempotent;
// it reports whether the key was newly added.
func (db *DB) InsertCellBlacklist(ctx context.Context, q Queryer, key CellKey, now int64) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO cell_blacklist (created, radio, mcc, mnc, lac, cid)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (radio, mcc, mnc, lac, cid) DO NOTHING`,
		now, key.Radio, key.MCC, key.MNC, key.LAC, key.CID)
	if err != nil {
		return false, fmt.Errorf("failed to blacklist cell %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CellBlacklistContains reports whether a key is blacklisted.
func (db *DB) CellBlacklistContains(ctx context.Context, q Queryer, key CellKey) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cell_blacklist
		WHERE radio = ? AND mcc = ? AND mnc = ? AND lac = ? AND cid = ?`,
		key.Radio, key.MCC, key.MNC, key.LAC, key.CID).Scan(&n)
	return n > 0, err
}

// RemoveCells deletes station rows by key and maintains each enclosing
// LAC: the virtual row is dropped with its last member cell, otherwise
// marked dirty so the deriver recomputes the footprint.
func (db *DB) RemoveCells(ctx context.Context, q Queryer, keys []CellKey) (int64, error) {
	var removed int64
	for _, key := range keys {
		res, err := q.ExecContext(ctx, `
			DELETE FROM cell
			WHERE radio = ? AND mcc = ? AND mnc = ? AND lac = ? AND cid = ?`,
			key.Radio, key.MCC, key.MNC, key.LAC, key.CID)
		if err != nil {
			return removed, fmt.Errorf("failed to remove cell %s: %w", key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removed, err
		}
		removed += n

		var remaining int64
		err = q.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM cell
			WHERE radio = ? AND mcc = ? AND mnc = ? AND lac = ? AND cid != ?`,
			key.Radio, key.MCC, key.MNC, key.LAC, CellIDLAC).Scan(&remaining)
		if err != nil {
			return removed, err
		}

		if remaining < 1 {
			_, err = q.ExecContext(ctx, `
				DELETE FROM cell
				WHERE radio = ? AND mcc = ? AND mnc = ? AND lac = ? AND cid = ?`,
				key.Radio, key.MCC, key.MNC, key.LAC, CellIDLAC)
		} else {
			_, err = q.ExecContext(ctx, `
				UPDATE cell SET new_measures = 1
				WHERE radio = ? AND mcc = ? AND mnc = ? AND lac = ? AND cid = ?`,
				key.Radio, key.MCC, key.MNC, key.LAC, CellIDLAC)
		}
		if err != nil {
			return removed, fmt.Errorf("failed to maintain LAC for %s: %w", key, err)
		}
	}
	return removed, nil
}

// RecentCellMeasures loads the newest limit measurement positions for a
// cell, newest first.
func (db *DB) RecentCellMeasures(ctx context.Context, q Queryer, key CellKey, limit int64) ([]Measure, error) {
	return queryMeasures(ctx, q, `
		SELECT id, lat, lon FROM cell_measure
		WHERE radio = ? AND mcc = ? AND mnc = ? AND lac = ? AND cid = ?
		ORDER BY created DESC LIMIT ?`,
		key.Radio, key.MCC, key.MNC, key.LAC, key.CID, limit)
}

// CellMeasuresByIDs loads measurement positions by explicit id list;
// used by the backfill updater.
func (db *DB) CellMeasuresByIDs(ctx context.Context, q Queryer, ids []int64) ([]Measure, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return queryMeasures(ctx, q,
		`SELECT id, lat, lon FROM cell_measure WHERE id IN (`+placeholders+`)`,
		args...)
}
