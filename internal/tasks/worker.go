package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/crowdcell/stationd/internal/db"
	"github.com/crowdcell/stationd/internal/monitoring"
)

// WorkerConfig sets the cadences and batch bounds of the periodic task
// loops.
type WorkerConfig struct {
	// UpdateInterval is the cadence of the station update loop (position
	// folding and LAC derivation).
	UpdateInterval time.Duration

	// TrimInterval is the cadence of the retention trimmer.
	TrimInterval time.Duration

	// ArchiveInterval is the cadence of the archival loop (plan, write,
	// reap).
	ArchiveInterval time.Duration

	// MinNew and MaxNew bound the pending-measurement backlog a station
	// must have to be picked up by an update run.
	MinNew int64
	MaxNew int64

	// UpdateBatch caps the stations examined per update run, LACBatch
	// the LACs recomputed per run.
	UpdateBatch int
	LACBatch    int

	Trim TrimConfig
}

// DefaultWorkerConfig mirrors the production cadences.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		UpdateInterval:  time.Minute,
		TrimInterval:    time.Hour,
		ArchiveInterval: 6 * time.Hour,
		MinNew:          1,
		MaxNew:          1000,
		UpdateBatch:     1000,
		LACBatch:        100,
		Trim: TrimConfig{
			MaxMeasures: 10000,
			MinAgeDays:  7,
			Batch:       100,
		},
	}
}

// Worker drives the task loops. Each loop runs in its own goroutine on
// its own ticker; within the archival loop the planner, writer and
// reaper for a kind run strictly in sequence, so a block is never
// written and reaped concurrently.
type Worker struct {
	env *Env
	cfg WorkerConfig

	mu      sync.Mutex
	stop    chan struct{}
	done    sync.WaitGroup
	running bool
}

// NewWorker creates a stopped worker.
func NewWorker(env *Env, cfg WorkerConfig) *Worker {
	return &Worker{env: env, cfg: cfg}
}

// Start launches the task loops. Calling Start on a running worker is a
// no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stop = make(chan struct{})

	w.loop(ctx, w.cfg.UpdateInterval, w.RunUpdateOnce)
	w.loop(ctx, w.cfg.TrimInterval, w.RunTrimOnce)
	w.loop(ctx, w.cfg.ArchiveInterval, w.RunArchiveOnce)
	monitoring.Logf("task worker started")
}

// Stop halts the loops and waits for in-flight runs to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	w.mu.Unlock()

	w.done.Wait()
	monitoring.Logf("task worker stopped")
}

func (w *Worker) loop(ctx context.Context, interval time.Duration, run func(context.Context)) {
	stop := w.stop
	w.done.Add(1)
	go func() {
		defer w.done.Done()
		ticker := w.env.Clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C():
				run(ctx)
			}
		}
	}()
}

// RunUpdateOnce performs one station update pass: cell and wifi
// position folding, then LAC derivation for any LACs dirtied by it.
// Task errors were already retried and counted; the loop moves on.
func (w *Worker) RunUpdateOnce(ctx context.Context) {
	if _, _, err := w.env.CellLocationUpdate(ctx, w.cfg.MinNew, w.cfg.MaxNew, w.cfg.UpdateBatch); err != nil {
		monitoring.Logf("cell location update failed: %v", err)
	}
	if _, _, err := w.env.WifiLocationUpdate(ctx, w.cfg.MinNew, w.cfg.MaxNew, w.cfg.UpdateBatch); err != nil {
		monitoring.Logf("wifi location update failed: %v", err)
	}
	if _, err := w.env.ScanLACs(ctx, w.cfg.LACBatch); err != nil {
		monitoring.Logf("lac scan failed: %v", err)
	}
}

// RunTrimOnce performs one retention pass over both kinds.
func (w *Worker) RunTrimOnce(ctx context.Context) {
	if _, err := w.env.CellTrimExcessiveData(ctx, w.cfg.Trim); err != nil {
		monitoring.Logf("cell trim failed: %v", err)
	}
	if _, err := w.env.WifiTrimExcessiveData(ctx, w.cfg.Trim); err != nil {
		monitoring.Logf("wifi trim failed: %v", err)
	}
}

// RunArchiveOnce performs one archival pass per kind: plan new blocks,
// write pending archives, reap verified ones.
func (w *Worker) RunArchiveOnce(ctx context.Context) {
	for _, kind := range []db.MeasureKind{db.MeasureKindCell, db.MeasureKindWifi} {
		if _, err := w.env.ScheduleMeasureArchival(ctx, kind); err != nil {
			monitoring.Logf("%s archival planning failed: %v", kind, err)
			continue
		}
		if _, err := w.env.WriteMeasureBackups(ctx, kind, false); err != nil {
			monitoring.Logf("%s archive write failed: %v", kind, err)
			continue
		}
		if _, err := w.env.DeleteMeasureRecords(ctx, kind); err != nil {
			monitoring.Logf("%s archive reap failed: %v", kind, err)
		}
	}
}
