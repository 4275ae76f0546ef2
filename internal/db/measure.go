package db

import (
	"context"
	"database/sql"
	"fmt"
)

// MeasureKind selects one of the two raw measurement tables.
type MeasureKind string

const (
	MeasureKindCell MeasureKind = "cell"
	MeasureKindWifi MeasureKind = "wifi"
)

// Table returns the measurement table name for the kind.
func (k MeasureKind) Table() string {
	switch k {
	case MeasureKindCell:
		return "cell_measure"
	case MeasureKindWifi:
		return "wifi_measure"
	}
	panic(fmt.Sprintf("unknown measure kind %q", string(k)))
}

// ZipPrefix returns the archive file prefix for the kind.
func (k MeasureKind) ZipPrefix() string {
	switch k {
	case MeasureKindCell:
		return "CellMeasure"
	case MeasureKindWifi:
		return "WifiMeasure"
	}
	panic(fmt.Sprintf("unknown measure kind %q", string(k)))
}

// CSVName returns the archive CSV entry name for the kind.
func (k MeasureKind) CSVName() string {
	switch k {
	case MeasureKindCell:
		return "cell_measure.csv"
	case MeasureKindWifi:
		return "wifi_measure.csv"
	}
	panic(fmt.Sprintf("unknown measure kind %q", string(k)))
}

// Measure is a measurement position as consumed by the aggregator.
type Measure struct {
	ID  int64
	Lat int64
	Lon int64
}

func queryMeasures(ctx context.Context, q Queryer, query string, args ...any) ([]Measure, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var measures []Measure
	for rows.Next() {
		var m Measure
		if err := rows.Scan(&m.ID, &m.Lat, &m.Lon); err != nil {
			return nil, err
		}
		measures = append(measures, m)
	}
	return measures, rows.Err()
}

// InsertCellMeasure appends one raw cell measurement row.
func (db *DB) InsertCellMeasure(ctx context.Context, q Queryer, key CellKey, lat, lon, created, tm int64) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO cell_measure (created, time, lat, lon, radio, mcc, mnc, lac, cid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		created, tm, lat, lon, key.Radio, key.MCC, key.MNC, key.LAC, key.CID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert cell measure: %w", err)
	}
	return res.LastInsertId()
}

// InsertWifiMeasure appends one raw wifi measurement row.
func (db *DB) InsertWifiMeasure(ctx context.Context, q Queryer, key string, lat, lon, created, tm int64) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO wifi_measure (created, time, lat, lon, key)
		VALUES (?, ?, ?, ?, ?)`,
		created, tm, lat, lon, key)
	if err != nil {
		return 0, fmt.Errorf("failed to insert wifi measure: %w", err)
	}
	return res.LastInsertId()
}

// MeasureIDBounds returns the smallest and largest measurement id for a
// kind. ok is false if the table is empty.
func (db *DB) MeasureIDBounds(ctx context.Context, q Queryer, kind MeasureKind) (min, max int64, ok bool, err error) {
	var minN, maxN sql.NullInt64
	err = q.QueryRowContext(ctx,
		`SELECT MIN(id), MAX(id) FROM `+kind.Table()).Scan(&minN, &maxN)
	if err != nil {
		return 0, 0, false, err
	}
	if !minN.Valid || !maxN.Valid {
		return 0, 0, false, nil
	}
	return minN.Int64, maxN.Int64, true, nil
}

// DeleteMeasureRange deletes measurement rows with id in [startID, endID].
func (db *DB) DeleteMeasureRange(ctx context.Context, q Queryer, kind MeasureKind, startID, endID int64) (int64, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM `+kind.Table()+` WHERE id >= ? AND id <= ?`,
		startID, endID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s rows [%d, %d]: %w",
			kind.Table(), startID, endID, err)
	}
	return res.RowsAffected()
}

// CountMeasureRange counts measurement rows with id in [startID, endID].
func (db *DB) CountMeasureRange(ctx context.Context, q Queryer, kind MeasureKind, startID, endID int64) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+kind.Table()+` WHERE id >= ? AND id <= ?`,
		startID, endID).Scan(&n)
	return n, err
}

// MeasureRows streams all columns of the measurement rows in
// [startID, endID] ascending by id, for CSV export. The caller owns the
// returned rows.
func (db *DB) MeasureRows(ctx context.Context, q Queryer, kind MeasureKind, startID, endID int64) (*sql.Rows, error) {
	return q.QueryContext(ctx,
		`SELECT * FROM `+kind.Table()+` WHERE id >= ? AND id <= ? ORDER BY id ASC`,
		startID, endID)
}
