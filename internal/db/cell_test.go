package db

import (
	"context"
	"testing"

	"github.com/crowdcell/stationd/internal/testutil"
)

func testCellKey(cid int) CellKey {
	return CellKey{Radio: 0, MCC: 262, MNC: 1, LAC: 1234, CID: cid}
}

func lacKeyOf(key CellKey) CellKey {
	key.CID = CellIDLAC
	return key
}

func TestCellsForLocationUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	insert := func(cid int, newMeasures int64) {
		t.Helper()
		err := db.InsertCell(ctx, db, &Cell{Key: testCellKey(cid), NewMeasures: newMeasures})
		testutil.AssertNoError(t, err)
	}
	insert(1, 0)  // below the window
	insert(2, 5)  // in the window
	insert(3, 50) // above the window
	testutil.AssertNoError(t, db.InsertCell(ctx, db,
		&Cell{Key: lacKeyOf(testCellKey(0)), NewMeasures: 5}))

	cells, err := db.CellsForLocationUpdate(ctx, db, 1, 10, 100)
	testutil.AssertNoError(t, err)
	if len(cells) != 1 {
		t.Fatalf("got %d cells, want 1", len(cells))
	}
	if cells[0].Key.CID != 2 {
		t.Errorf("selected cid %d, want 2", cells[0].Key.CID)
	}
}

func TestTouchEnclosingLAC(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	c := &Cell{
		Key: testCellKey(7),
		Lat: int64Ptr(515074000), Lon: int64Ptr(-1278000),
		Range: 2000,
	}
	testutil.AssertNoError(t, db.InsertCell(ctx, db, c))

	// First touch seeds the virtual row from the cell.
	testutil.AssertNoError(t, db.TouchEnclosingLAC(ctx, db, c, 100))
	lacs, err := db.CellsByKey(ctx, db, lacKeyOf(c.Key))
	testutil.AssertNoError(t, err)
	if len(lacs) != 1 {
		t.Fatalf("got %d LAC rows, want 1", len(lacs))
	}
	testutil.AssertCount(t, "seeded new_measures", lacs[0].NewMeasures, 1)
	testutil.AssertCount(t, "seeded total_measures", lacs[0].TotalMeasures, 0)
	if lacs[0].Lat == nil || *lacs[0].Lat != 515074000 {
		t.Errorf("seeded lat = %v, want 515074000", lacs[0].Lat)
	}

	// Further touches only bump the dirty counter.
	testutil.AssertNoError(t, db.TouchEnclosingLAC(ctx, db, c, 200))
	lacs, err = db.CellsByKey(ctx, db, lacKeyOf(c.Key))
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "bumped new_measures", lacs[0].NewMeasures, 2)
}

func TestUpsertLACClearsDirtyCounter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	key := testCellKey(1)

	c := &Cell{Key: key, Lat: int64Ptr(100), Lon: int64Ptr(100)}
	testutil.AssertNoError(t, db.InsertCell(ctx, db, c))
	testutil.AssertNoError(t, db.TouchEnclosingLAC(ctx, db, c, 100))

	testutil.AssertNoError(t, db.UpsertLAC(ctx, db,
		key.Radio, key.MCC, key.MNC, key.LAC, 150, 150, 5000, 200))

	lacs, err := db.CellsByKey(ctx, db, lacKeyOf(key))
	testutil.AssertNoError(t, err)
	if len(lacs) != 1 {
		t.Fatalf("got %d LAC rows, want 1", len(lacs))
	}
	testutil.AssertCount(t, "new_measures after upsert", lacs[0].NewMeasures, 0)
	if *lacs[0].Lat != 150 || lacs[0].Range != 5000 {
		t.Errorf("LAC row = lat %d range %d, want 150/5000", *lacs[0].Lat, lacs[0].Range)
	}
}

func TestInsertCellBlacklistIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	key := testCellKey(9)

	added, err := db.InsertCellBlacklist(ctx, db, key, 100)
	testutil.AssertNoError(t, err)
	if !added {
		t.Error("first insert should report newly added")
	}
	added, err = db.InsertCellBlacklist(ctx, db, key, 200)
	testutil.AssertNoError(t, err)
	if added {
		t.Error("second insert should be a no-op")
	}

	on, err := db.CellBlacklistContains(ctx, db, key)
	testutil.AssertNoError(t, err)
	if !on {
		t.Error("key should be blacklisted")
	}
}

func TestRemoveCellsMaintainsLAC(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := &Cell{Key: testCellKey(1), Lat: int64Ptr(100), Lon: int64Ptr(100)}
	b := &Cell{Key: testCellKey(2), Lat: int64Ptr(200), Lon: int64Ptr(200)}
	testutil.AssertNoError(t, db.InsertCell(ctx, db, a))
	testutil.AssertNoError(t, db.InsertCell(ctx, db, b))
	testutil.AssertNoError(t, db.TouchEnclosingLAC(ctx, db, a, 100))

	// Removing one of two members marks the LAC dirty.
	removed, err := db.RemoveCells(ctx, db, []CellKey{a.Key})
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "removed", removed, 1)

	lacs, err := db.CellsByKey(ctx, db, lacKeyOf(a.Key))
	testutil.AssertNoError(t, err)
	if len(lacs) != 1 {
		t.Fatalf("LAC row should survive, got %d rows", len(lacs))
	}
	testutil.AssertCount(t, "dirty counter", lacs[0].NewMeasures, 1)

	// Removing the last member removes the virtual row with it.
	_, err = db.RemoveCells(ctx, db, []CellKey{b.Key})
	testutil.AssertNoError(t, err)
	lacs, err = db.CellsByKey(ctx, db, lacKeyOf(a.Key))
	testutil.AssertNoError(t, err)
	if len(lacs) != 0 {
		t.Fatalf("LAC row should be gone, got %d rows", len(lacs))
	}
}

func TestRecentCellMeasuresNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	key := testCellKey(3)

	for i := int64(0); i < 5; i++ {
		_, err := db.InsertCellMeasure(ctx, db, key, 100+i, 200+i, 1000+i, 1000+i)
		testutil.AssertNoError(t, err)
	}

	measures, err := db.RecentCellMeasures(ctx, db, key, 3)
	testutil.AssertNoError(t, err)
	if len(measures) != 3 {
		t.Fatalf("got %d measures, want 3", len(measures))
	}
	if measures[0].Lat != 104 {
		t.Errorf("newest measure lat = %d, want 104", measures[0].Lat)
	}
}

func TestCellMeasuresByIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	key := testCellKey(4)

	var ids []int64
	for i := int64(0); i < 3; i++ {
		id, err := db.InsertCellMeasure(ctx, db, key, 100+i, 200+i, 1000+i, 1000+i)
		testutil.AssertNoError(t, err)
		ids = append(ids, id)
	}

	measures, err := db.CellMeasuresByIDs(ctx, db, ids[:2])
	testutil.AssertNoError(t, err)
	if len(measures) != 2 {
		t.Fatalf("got %d measures, want 2", len(measures))
	}

	measures, err = db.CellMeasuresByIDs(ctx, db, nil)
	testutil.AssertNoError(t, err)
	if measures != nil {
		t.Errorf("empty id list should return nil, got %v", measures)
	}
}
