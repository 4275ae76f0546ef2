package db

import (
	"context"
	"fmt"
)

// Wifi is one access-point station row, keyed by BSSID.
type Wifi struct {
	ID      int64
	Created int64
	Key     string

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

const wifiColumns = `id, created, key,
	lat, lon, min_lat, min_lon, max_lat, max_lon,
	"range", new_measures, total_measures`

func scanWifi(r rowScanner) (*Wifi, error) {
	var w Wifi
	err := r.Scan(
		&w.ID, &w.Created, &w.Key,
		&w.Lat, &w.Lon, &w.MinLat, &w.MinLon, &w.MaxLat, &w.MaxLon,
		&w.Range, &w.NewMeasures, &w.TotalMeasures,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func queryWifis(ctx context.Context, q Queryer, query string, args ...any) ([]*Wifi, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wifis []*Wifi
	for rows.Next() {
		w, err := scanWifi(rows)
		if err != nil {
			return nil, err
		}
		wifis = append(wifis, w)
	}
	return wifis, rows.Err()
}

// WifisForLocationUpdate selects up to batch access points whose
// pending measurement count is within [minNew, maxNew).
func (db *DB) WifisForLocationUpdate(ctx context.Context, q Queryer, minNew, maxNew int64, batch int) ([]*Wifi, error) {
	return queryWifis(ctx, q, `
		SELECT `+wifiColumns+` FROM wifi
		WHERE new_measures >= ? AND new_measures < ?
		LIMIT ?`,
		minNew, maxNew, batch)
}

// WifiByKey loads one access point by BSSID.
func (db *DB) WifiByKey(ctx context.Context, q Queryer, key string) (*Wifi, error) {
	return scanWifi(q.QueryRowContext(ctx,
		`SELECT `+wifiColumns+` FROM wifi WHERE key = ?`, key))
}

// InsertWifi creates a station row; used by ingestion and tests.
func (db *DB) InsertWifi(ctx context.Context, q Queryer, w *Wifi) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO wifi (created, key,
			lat, lon, min_lat, min_lon, max_lat, max_lon,
			"range", new_measures, total_measures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.Created, w.Key,
		w.Lat, w.Lon, w.MinLat, w.MinLon, w.MaxLat, w.MaxLon,
		w.Range, w.NewMeasures, w.TotalMeasures)
	if err != nil {
		return fmt.Errorf("failed to insert wifi %s: %w", w.Key, err)
	}
	w.ID, err = res.LastInsertId()
	return err
}

// UpdateWifiPosition stores the aggregation result for one access point.
func (db *DB) UpdateWifiPosition(ctx context.Context, q Queryer, w *Wifi) error {
	_, err := q.ExecContext(ctx, `
		UPDATE wifi SET lat = ?, lon = ?,
			min_lat = ?, min_lon = ?, max_lat = ?, max_lon = ?,
			"range" = ?, new_measures = ?, total_measures = ?
		WHERE id = ?`,
		w.Lat, w.Lon, w.MinLat, w.MinLon, w.MaxLat, w.MaxLon,
		w.Range, w.NewMeasures, w.TotalMeasures, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update wifi %s: %w", w.Key, err)
	}
	return nil
}

// InsertWifiBlacklist records a moving access point. The insert is
// idempotent; it reports whether the key was newly added.
func (db *DB) InsertWifiBlacklist(ctx context.Context, q Queryer, key string, now int64) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO wifi_blacklist (created, key) VALUES (?, ?)
		ON CONFLICT (key) DO NOTHING`,
		now, key)
	if err != nil {
		return false, fmt.Errorf("failed to blacklist wifi %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// WifiBlacklistContains reports whether a key is blacklisted.
func (db *DB) WifiBlacklistContains(ctx context.Context, q Queryer, key string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wifi_blacklist WHERE key = ?`, key).Scan(&n)
	return n > 0, err
}

// RemoveWifis deletes access-point rows by key set.
func (db *DB) RemoveWifis(ctx context.Context, q Queryer, keys []string) (int64, error) {
	var removed int64
	for _, key := range keys {
		res, err := q.ExecContext(ctx, `DELETE FROM wifi WHERE key = ?`, key)
		if err != nil {
			return removed, fmt.Errorf("failed to remove wifi %s: %w", key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// RecentWifiMeasures loads the newest limit measurement positions for
// an access point, newest first.
func (db *DB) RecentWifiMeasures(ctx context.Context, q Queryer, key string, limit int64) ([]Measure, error) {
	return queryMeasures(ctx, q, `
		SELECT id, lat, lon FROM wifi_measure
		WHERE key = ?
		ORDER BY created DESC LIMIT ?`,
		key, limit)
}
