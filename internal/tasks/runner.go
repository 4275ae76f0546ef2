// Package tasks implements the periodic background jobs that turn the
// append-only measurement stream into the station catalog and archive
// raw measurements to cold storage: station position updates, movement
// blacklisting, LAC derivation, retention trimming and the archival
// planner/writer/reaper.
package tasks

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/crowdcell/stationd/internal/archive"
	"github.com/crowdcell/stationd/internal/db"
	"github.com/crowdcell/stationd/internal/metrics"
	"github.com/crowdcell/stationd/internal/monitoring"
	"github.com/crowdcell/stationd/internal/timeutil"
)

// Env carries the process-wide collaborators the tasks run against.
// Tasks hold no state of their own; all cross-task coupling goes
// through database rows.
type Env struct {
	DB      *db.DB
	Store   archive.ObjectStore
	Metrics *metrics.Metrics
	Clock   timeutil.Clock

	// ArchiveBatchSize is the fixed number of measurement rows per
	// archival block.
	ArchiveBatchSize int64
}

const (
	maxAttempts  = 3
	retryBackoff = 250 * time.Millisecond
)

// run wraps a task body with run-ID logging, a duration metric, error
// classification and retry. Constraint violations mean a concurrent
// writer won the race: they are swallowed and the task reports its
// neutral zero result. Other errors are retried with exponential
// backoff before being surfaced.
func (e *Env) run(ctx context.Context, name string, fn func(context.Context) error) error {
	runID := uuid.NewString()[:8]
	start := e.Clock.Now()
	defer func() {
		e.Metrics.TaskDuration.WithLabelValues(name).Observe(e.Clock.Since(start).Seconds())
	}()

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			e.Clock.Sleep(retryBackoff << uint(attempt-1))
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if db.IsConflict(err) {
			monitoring.Logf("task %s run %s: conflict, yielding to concurrent writer: %v", name, runID, err)
			e.Metrics.TaskErrors.WithLabelValues(name).Inc()
			return nil
		}
		monitoring.Logf("task %s run %s: attempt %d/%d failed: %v", name, runID, attempt+1, maxAttempts, err)
	}
	e.Metrics.TaskErrors.WithLabelValues(name).Inc()
	return err
}

// withTx runs fn inside one transaction, committing on success. The
// deferred rollback is a no-op once the commit has happened.
func (e *Env) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			monitoring.Logf("warning: failed to rollback transaction: %v", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
