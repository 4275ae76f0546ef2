package tasks

import (
	"context"
	"database/sql"
	"time"

	"github.com/crowdcell/stationd/internal/db"
	"github.com/crowdcell/stationd/internal/monitoring"
)

// TrimConfig bounds the retention trimmer: stations keep their newest
// MaxMeasures rows, and nothing younger than MinAgeDays is eligible.
type TrimConfig struct {
	MaxMeasures int64
	MinAgeDays  int
	Batch       int
}

type overQuotaFn func(ctx context.Context, q db.Queryer, maxMeasures int64, batch int) ([]db.TrimStation, error)

// CellTrimExcessiveData drops the oldest over-quota cell measurements.
// Returns the number of rows deleted.
func (e *Env) CellTrimExcessiveData(ctx context.Context, cfg TrimConfig) (dropped int64, err error) {
	err = e.run(ctx, "cell_trim_excessive_data", func(ctx context.Context) error {
		var err error
		dropped, err = e.trimExcessive(ctx, db.MeasureKindCell, cfg, e.DB.OverQuotaCells)
		return err
	})
	return dropped, err
}

// WifiTrimExcessiveData drops the oldest over-quota wifi measurements.
func (e *Env) WifiTrimExcessiveData(ctx context.Context, cfg TrimConfig) (dropped int64, err error) {
	err = e.run(ctx, "wifi_trim_excessive_data", func(ctx context.Context) error {
		var err error
		dropped, err = e.trimExcessive(ctx, db.MeasureKindWifi, cfg, e.DB.OverQuotaWifis)
		return err
	})
	return dropped, err
}

// trimExcessive keeps each over-quota station at MaxMeasures rows
// within the aged window. The cutoff is the (time, id) of the first row
// to keep; everything strictly below it goes, so ties on time are
// resolved deterministically by id.
func (e *Env) trimExcessive(ctx context.Context, kind db.MeasureKind, cfg TrimConfig, overQuota overQuotaFn) (int64, error) {
	ageCutoff := e.Clock.Now().Add(-time.Duration(cfg.MinAgeDays) * 24 * time.Hour).Unix()

	var dropped int64
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		stations, err := overQuota(ctx, tx, cfg.MaxMeasures, cfg.Batch)
		if err != nil {
			return err
		}

		for _, st := range stations {
			old, err := e.DB.CountOldMeasures(ctx, tx, kind, st, ageCutoff)
			if err != nil {
				return err
			}
			if old <= cfg.MaxMeasures {
				continue
			}

			keepTime, keepID, err := e.DB.TrimCutoff(ctx, tx, kind, st, ageCutoff, old-cfg.MaxMeasures)
			if err != nil {
				return err
			}
			n, err := e.DB.DeleteMeasuresBefore(ctx, tx, kind, st, ageCutoff, keepTime, keepID)
			if err != nil {
				return err
			}
			if n == 0 {
				continue
			}
			if err := e.DB.ApplyTrimCounters(ctx, tx, st, n); err != nil {
				return err
			}
			dropped += n
		}
		return nil
	})
	if err != nil {
		return dropped, err
	}

	if dropped > 0 {
		e.Metrics.Dropped.WithLabelValues(string(kind)).Add(float64(dropped))
		monitoring.Logf("trimmed %d %s measures", dropped, kind)
	}
	return dropped, nil
}
