package tasks

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crowdcell/stationd/internal/archive"
	"github.com/crowdcell/stationd/internal/db"
	"github.com/crowdcell/stationd/internal/monitoring"
)

// revisionFileName is the archive entry recording the schema version
// the CSV was exported under. The name is a wire contract with existing
// consumers of the archives.
const revisionFileName = "alembic_revision.txt"

// BlockRange is one planned archival block.
type BlockRange struct {
	StartID int64
	EndID   int64
}

// ScheduleMeasureArchival carves new fixed-size blocks out of the
// unplanned tail of the measurement table. Planning is append-only:
// each block starts right after the previous block's end, and a block
// is only emitted once the table holds its full row-id span. Returns
// the ranges planned in this run.
func (e *Env) ScheduleMeasureArchival(ctx context.Context, kind db.MeasureKind) (planned []BlockRange, err error) {
	err = e.run(ctx, "schedule_"+string(kind)+"measure_archival", func(ctx context.Context) error {
		planned = nil
		return e.withTx(ctx, func(tx *sql.Tx) error {
			batch := e.ArchiveBatchSize
			if batch <= 0 {
				return fmt.Errorf("archive batch size must be positive, got %d", batch)
			}

			minID, maxID, haveRows, err := e.DB.MeasureIDBounds(ctx, tx, kind)
			if err != nil {
				return err
			}

			nextStart := minID
			if lastEnd, ok, err := e.DB.LastBlockEnd(ctx, tx, kind); err != nil {
				return err
			} else if ok {
				nextStart = lastEnd + 1
			} else if !haveRows {
				return nil
			}

			for nextStart+batch-1 <= maxID {
				end := nextStart + batch - 1
				if err := e.DB.InsertBlock(ctx, tx, kind, nextStart, end); err != nil {
					return err
				}
				planned = append(planned, BlockRange{StartID: nextStart, EndID: end})
				nextStart = end + 1
			}
			return nil
		})
	})
	return planned, err
}

// WriteMeasureBackups archives every pending block of the kind: a zip
// holding the schema revision and the block's rows as CSV, uploaded
// under <YYYYMM>/<prefix>_<start>_<end>.zip and recorded with its SHA1.
// An upload failure skips the block; it stays pending and is retried on
// the next run. With keepZips the local archives survive and their
// paths are returned, for operational inspection.
func (e *Env) WriteMeasureBackups(ctx context.Context, kind db.MeasureKind, keepZips bool) (zips []string, err error) {
	err = e.run(ctx, "write_"+string(kind)+"measure_s3_backups", func(ctx context.Context) error {
		zips = nil

		blocks, err := e.listPendingBlocks(ctx, kind)
		if err != nil {
			return err
		}
		if len(blocks) == 0 {
			return nil
		}

		version, err := e.DB.SchemaVersion(ctx, e.DB)
		if err != nil {
			return err
		}
		prefix := e.Clock.Now().UTC().Format("200601")

		for _, b := range blocks {
			zipPath, uploaded, err := e.writeOneBackup(ctx, kind, b, prefix, version, keepZips)
			if err != nil {
				return err
			}
			if zipPath != "" {
				zips = append(zips, zipPath)
			}
			if uploaded {
				e.Metrics.Archived.WithLabelValues(string(kind)).Add(float64(b.EndID - b.StartID + 1))
			}
		}
		return nil
	})
	return zips, err
}

func (e *Env) listPendingBlocks(ctx context.Context, kind db.MeasureKind) ([]*db.MeasureBlock, error) {
	var blocks []*db.MeasureBlock
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		blocks, err = e.DB.BlocksToArchive(ctx, tx, kind)
		return err
	})
	return blocks, err
}

// writeOneBackup builds, uploads and records a single block archive.
// The key and hash are committed before the upload is attempted, so a
// crashed or failed upload leaves a pending block that retries cleanly.
func (e *Env) writeOneBackup(ctx context.Context, kind db.MeasureKind, b *db.MeasureBlock, prefix, version string, keepZip bool) (zipPath string, uploaded bool, err error) {
	key := fmt.Sprintf("%s/%s_%d_%d.zip", prefix, kind.ZipPrefix(), b.StartID, b.EndID)
	if b.S3Key != nil {
		// Retry of a previously failed upload; the key is already fixed.
		key = *b.S3Key
	}

	scratch, err := archive.NewScratch(filepath.Base(key))
	if err != nil {
		return "", false, err
	}
	keepOnExit := false
	defer func() {
		if rerr := scratch.Release(keepOnExit); rerr != nil {
			monitoring.Logf("warning: failed to clean archive scratch: %v", rerr)
		}
	}()

	if err := os.WriteFile(
		filepath.Join(scratch.ContentDir(), revisionFileName),
		[]byte(version+"\n"), 0o644); err != nil {
		return "", false, err
	}
	if err := e.exportCSV(ctx, kind, b, filepath.Join(scratch.ContentDir(), kind.CSVName())); err != nil {
		return "", false, err
	}

	path, err := scratch.Finalize()
	if err != nil {
		return "", false, err
	}
	sha, err := archive.SHA1File(path)
	if err != nil {
		return "", false, err
	}

	err = e.withTx(ctx, func(tx *sql.Tx) error {
		return e.DB.SetBlockArchive(ctx, tx, b.ID, key, sha)
	})
	if err != nil {
		return "", false, err
	}

	if err := e.Store.Upload(ctx, key, path); err != nil {
		monitoring.Logf("upload of block %d (%s) failed, will retry: %v", b.ID, key, err)
	} else {
		uploaded = true
	}

	if keepZip {
		keepOnExit = true
		return path, uploaded, nil
	}
	return "", uploaded, nil
}

// exportCSV writes the block's rows to path, header first, ascending by
// id. Columns mirror the live table so the archive is self-describing.
func (e *Env) exportCSV(ctx context.Context, kind db.MeasureKind, b *db.MeasureBlock, path string) error {
	rows, err := e.DB.MeasureRows(ctx, e.DB, kind, b.StartID, b.EndID)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(cols); err != nil {
		return err
	}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	record := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		for i, v := range vals {
			record[i] = formatCSVValue(v)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func formatCSVValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// DeleteMeasureRecords reaps uploaded blocks: the stored object's SHA1
// is re-read and compared to the recorded hash, and only on a match are
// the source rows deleted and the block stamped. A mismatch or fetch
// error leaves the block for the next run. Returns the number of rows
// deleted.
func (e *Env) DeleteMeasureRecords(ctx context.Context, kind db.MeasureKind) (deleted int64, err error) {
	err = e.run(ctx, "delete_"+string(kind)+"measure_records", func(ctx context.Context) error {
		deleted = 0

		var blocks []*db.MeasureBlock
		err := e.withTx(ctx, func(tx *sql.Tx) error {
			var err error
			blocks, err = e.DB.BlocksToReap(ctx, tx, kind)
			return err
		})
		if err != nil {
			return err
		}

		for _, b := range blocks {
			ok, err := e.Store.Matches(ctx, *b.S3Key, *b.ArchiveSha)
			if err != nil {
				monitoring.Logf("verification of block %d (%s) failed, skipping: %v", b.ID, *b.S3Key, err)
				continue
			}
			if !ok {
				monitoring.Logf("block %d (%s) does not match recorded hash, skipping", b.ID, *b.S3Key)
				continue
			}

			err = e.withTx(ctx, func(tx *sql.Tx) error {
				n, err := e.DB.DeleteMeasureRange(ctx, tx, kind, b.StartID, b.EndID)
				if err != nil {
					return err
				}
				deleted += n
				return e.DB.MarkBlockReaped(ctx, tx, b.ID, e.Clock.Now().Unix())
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return deleted, err
}
