package db

import (
	"context"
	"fmt"
)

// TrimStation is a retention candidate: a station over its measurement
// quota, together with the measurement-table predicate tying raw rows
// to it. Cells use the composite key, wifis the single BSSID column;
// everything downstream of candidate selection is shared.
type TrimStation struct {
	StationID     int64
	NewMeasures   int64
	TotalMeasures int64

	stationTable string
	where        string
	args         []any
}

// OverQuotaCells selects up to batch cells whose lifetime measurement
// count exceeds maxMeasures.
func (db *DB) OverQuotaCells(ctx context.Context, q Queryer, maxMeasures int64, batch int) ([]TrimStation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, new_measures, total_measures, radio, mcc, mnc, lac, cid
		FROM cell WHERE total_measures > ? LIMIT ?`,
		maxMeasures, batch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrimStation
	for rows.Next() {
		var ts TrimStation
		var key CellKey
		if err := rows.Scan(&ts.StationID, &ts.NewMeasures, &ts.TotalMeasures,
			&key.Radio, &key.MCC, &key.MNC, &key.LAC, &key.CID); err != nil {
			return nil, err
		}
		ts.stationTable = "cell"
		ts.where = "radio = ? AND mcc = ? AND mnc = ? AND lac = ? AND cid = ?"
		ts.args = []any{key.Radio, key.MCC, key.MNC, key.LAC, key.CID}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// OverQuotaWifis selects up to batch access points whose lifetime
// measurement count exceeds maxMeasures.
func (db *DB) OverQuotaWifis(ctx context.Context, q Queryer, maxMeasures int64, batch int) ([]TrimStation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, new_measures, total_measures, key
		FROM wifi WHERE total_measures > ? LIMIT ?`,
		maxMeasures, batch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrimStation
	for rows.Next() {
		var ts TrimStation
		var key string
		if err := rows.Scan(&ts.StationID, &ts.NewMeasures, &ts.TotalMeasures, &key); err != nil {
			return nil, err
		}
		ts.stationTable = "wifi"
		ts.where = "key = ?"
		ts.args = []any{key}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// CountOldMeasures counts the station's measurements created before the
// age cutoff.
func (db *DB) CountOldMeasures(ctx context.Context, q Queryer, kind MeasureKind, st TrimStation, ageCutoff int64) (int64, error) {
	var n int64
	args := append(append([]any{}, st.args...), ageCutoff)
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+kind.Table()+` WHERE `+st.where+` AND created < ?`,
		args...).Scan(&n)
	return n, err
}

// TrimCutoff finds the smallest (time, id) row to keep: the row at
// offset within the station's old-window measurements ordered by
// (time, id) ascending.
func (db *DB) TrimCutoff(ctx context.Context, q Queryer, kind MeasureKind, st TrimStation, ageCutoff, offset int64) (keepTime, keepID int64, err error) {
	args := append(append([]any{}, st.args...), ageCutoff, offset)
	err = q.QueryRowContext(ctx, `
		SELECT time, id FROM `+kind.Table()+`
		WHERE `+st.where+` AND created < ?
		ORDER BY time ASC, id ASC
		LIMIT 1 OFFSET ?`,
		args...).Scan(&keepTime, &keepID)
	return keepTime, keepID, err
}

// DeleteMeasuresBefore deletes the station's old-window measurements
// strictly below the keep row.
func (db *DB) DeleteMeasuresBefore(ctx context.Context, q Queryer, kind MeasureKind, st TrimStation, ageCutoff, keepTime, keepID int64) (int64, error) {
	args := append(append([]any{}, st.args...), ageCutoff, keepTime, keepID)
	res, err := q.ExecContext(ctx, `
		DELETE FROM `+kind.Table()+`
		WHERE `+st.where+` AND created < ? AND time <= ? AND id < ?`,
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to trim %s: %w", kind.Table(), err)
	}
	return res.RowsAffected()
}

// ApplyTrimCounters subtracts the deleted rows from the station's
// lifetime counter and clamps the pending counter to it; measurements
// behind the pending counter may just have been discarded.
func (db *DB) ApplyTrimCounters(ctx context.Context, q Queryer, st TrimStation, deleted int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE `+st.stationTable+` SET
			total_measures = total_measures - ?,
			new_measures = MIN(new_measures, total_measures - ?)
		WHERE id = ?`,
		deleted, deleted, st.StationID)
	if err != nil {
		return fmt.Errorf("failed to adjust %s counters: %w", st.stationTable, err)
	}
	return nil
}
