package db

import (
	"context"
	"testing"

	"github.com/crowdcell/stationd/internal/testutil"
)

func TestLastBlockEnd(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, ok, err := db.LastBlockEnd(ctx, db, MeasureKindCell)
	testutil.AssertNoError(t, err)
	if ok {
		t.Fatal("empty table should report no blocks")
	}

	testutil.AssertNoError(t, db.InsertBlock(ctx, db, MeasureKindCell, 1, 100))
	testutil.AssertNoError(t, db.InsertBlock(ctx, db, MeasureKindCell, 101, 200))
	testutil.AssertNoError(t, db.InsertBlock(ctx, db, MeasureKindWifi, 1, 500))

	end, ok, err := db.LastBlockEnd(ctx, db, MeasureKindCell)
	testutil.AssertNoError(t, err)
	if !ok {
		t.Fatal("blocks exist, ok should be true")
	}
	testutil.AssertCount(t, "last cell end_id", end, 200)

	end, _, err = db.LastBlockEnd(ctx, db, MeasureKindWifi)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "last wifi end_id", end, 500)
}

func TestBlockLifecycleQueries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	testutil.AssertNoError(t, db.InsertBlock(ctx, db, MeasureKindCell, 1, 100))
	blocks, err := db.Blocks(ctx, db, MeasureKindCell)
	testutil.AssertNoError(t, err)
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	b := blocks[0]
	if b.S3Key != nil || b.ArchiveSha != nil || b.ArchiveDate != nil {
		t.Fatal("fresh block should have no archive state")
	}

	// Planned but not uploaded: pending for the writer, invisible to
	// the reaper.
	pending, err := db.BlocksToArchive(ctx, db, MeasureKindCell)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "pending blocks", int64(len(pending)), 1)
	reapable, err := db.BlocksToReap(ctx, db, MeasureKindCell)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "reapable blocks", int64(len(reapable)), 0)

	// Uploaded: still pending (retry on failed upload) and now reapable.
	testutil.AssertNoError(t, db.SetBlockArchive(ctx, db, b.ID, "202608/CellMeasure_1_100.zip", "abc123"))
	pending, err = db.BlocksToArchive(ctx, db, MeasureKindCell)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "pending blocks after upload", int64(len(pending)), 1)
	reapable, err = db.BlocksToReap(ctx, db, MeasureKindCell)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "reapable blocks after upload", int64(len(reapable)), 1)
	if got := *reapable[0].S3Key; got != "202608/CellMeasure_1_100.zip" {
		t.Errorf("s3_key = %q", got)
	}

	// Reaped: out of both queues.
	testutil.AssertNoError(t, db.MarkBlockReaped(ctx, db, b.ID, 1700000000))
	pending, err = db.BlocksToArchive(ctx, db, MeasureKindCell)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "pending blocks after reap", int64(len(pending)), 0)
	reapable, err = db.BlocksToReap(ctx, db, MeasureKindCell)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "reapable blocks after reap", int64(len(reapable)), 0)
}

func TestMeasureIDBoundsAndRange(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, _, ok, err := db.MeasureIDBounds(ctx, db, MeasureKindWifi)
	testutil.AssertNoError(t, err)
	if ok {
		t.Fatal("empty table should report no bounds")
	}

	for i := int64(0); i < 5; i++ {
		_, err := db.InsertWifiMeasure(ctx, db, "aa:01", 100, 200, 1000+i, 1000+i)
		testutil.AssertNoError(t, err)
	}

	minID, maxID, ok, err := db.MeasureIDBounds(ctx, db, MeasureKindWifi)
	testutil.AssertNoError(t, err)
	if !ok {
		t.Fatal("bounds should exist")
	}
	testutil.AssertCount(t, "max - min", maxID-minID, 4)

	n, err := db.CountMeasureRange(ctx, db, MeasureKindWifi, minID, minID+2)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "count in range", n, 3)

	deleted, err := db.DeleteMeasureRange(ctx, db, MeasureKindWifi, minID, minID+2)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "deleted", deleted, 3)

	n, err = db.CountMeasureRange(ctx, db, MeasureKindWifi, minID, maxID)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "remaining", n, 2)
}
