package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MeasureBlock is a contiguous range of measurement ids selected for
// archival as one unit. Created with S3Key nil, uploaded (S3Key and
// ArchiveSha set), then reaped (ArchiveDate set) after hash
// verification; never mutated after that.
type MeasureBlock struct {
	ID          int64
	MeasureType MeasureKind
	StartID     int64
	EndID       int64
	S3Key       *string
	ArchiveSha  *string
	ArchiveDate *int64
}

const blockColumns = `id, measure_type, start_id, end_id, s3_key, archive_sha, archive_date`

func queryBlocks(ctx context.Context, q Queryer, query string, args ...any) ([]*MeasureBlock, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []*MeasureBlock
	for rows.Next() {
		var b MeasureBlock
		if err := rows.Scan(&b.ID, &b.MeasureType, &b.StartID, &b.EndID,
			&b.S3Key, &b.ArchiveSha, &b.ArchiveDate); err != nil {
			return nil, err
		}
		blocks = append(blocks, &b)
	}
	return blocks, rows.Err()
}

// InsertBlock creates a block row with no archive state.
func (db *DB) InsertBlock(ctx context.Context, q Queryer, kind MeasureKind, startID, endID int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO measure_block (measure_type, start_id, end_id)
		VALUES (?, ?, ?)`,
		string(kind), startID, endID)
	if err != nil {
		return fmt.Errorf("failed to insert %s block [%d, %d]: %w", kind, startID, endID, err)
	}
	return nil
}

// LastBlockEnd returns the largest end_id of any block of the kind.
// ok is false if no blocks exist yet.
func (db *DB) LastBlockEnd(ctx context.Context, q Queryer, kind MeasureKind) (endID int64, ok bool, err error) {
	err = q.QueryRowContext(ctx, `
		SELECT end_id FROM measure_block
		WHERE measure_type = ?
		ORDER BY end_id DESC LIMIT 1`,
		string(kind)).Scan(&endID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return endID, true, nil
}

// Blocks returns all blocks of a kind in ascending end_id order.
func (db *DB) Blocks(ctx context.Context, q Queryer, kind MeasureKind) ([]*MeasureBlock, error) {
	return queryBlocks(ctx, q, `
		SELECT `+blockColumns+` FROM measure_block
		WHERE measure_type = ? ORDER BY end_id ASC`,
		string(kind))
}

// BlocksToArchive returns the blocks not yet reaped, in ascending
// end_id order. Blocks with an assigned key but a failed upload are
// included so the writer retries them.
func (db *DB) BlocksToArchive(ctx context.Context, q Queryer, kind MeasureKind) ([]*MeasureBlock, error) {
	return queryBlocks(ctx, q, `
		SELECT `+blockColumns+` FROM measure_block
		WHERE measure_type = ? AND archive_date IS NULL
		ORDER BY end_id ASC`,
		string(kind))
}

// BlocksToReap returns uploaded blocks awaiting hash verification and
// source deletion.
func (db *DB) BlocksToReap(ctx context.Context, q Queryer, kind MeasureKind) ([]*MeasureBlock, error) {
	return queryBlocks(ctx, q, `
		SELECT `+blockColumns+` FROM measure_block
		WHERE measure_type = ? AND s3_key IS NOT NULL AND archive_date IS NULL
		ORDER BY end_id ASC`,
		string(kind))
}

// SetBlockArchive records the object key and content hash after a
// successful upload.
func (db *DB) SetBlockArchive(ctx context.Context, q Queryer, blockID int64, s3Key, sha string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE measure_block SET s3_key = ?, archive_sha = ? WHERE id = ?`,
		s3Key, sha, blockID)
	if err != nil {
		return fmt.Errorf("failed to record archive for block %d: %w", blockID, err)
	}
	return nil
}

// MarkBlockReaped stamps the block after its source rows were deleted.
func (db *DB) MarkBlockReaped(ctx context.Context, q Queryer, blockID, now int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE measure_block SET archive_date = ? WHERE id = ?`,
		now, blockID)
	if err != nil {
		return fmt.Errorf("failed to mark block %d reaped: %w", blockID, err)
	}
	return nil
}
