package db

import (
	"context"
	"testing"

	"github.com/crowdcell/stationd/internal/testutil"
)

func TestOverQuotaSelection(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	testutil.AssertNoError(t, db.InsertWifi(ctx, db, &Wifi{Key: "aa:01", TotalMeasures: 5}))
	testutil.AssertNoError(t, db.InsertWifi(ctx, db, &Wifi{Key: "aa:02", TotalMeasures: 50}))
	testutil.AssertNoError(t, db.InsertCell(ctx, db,
		&Cell{Key: CellKey{MCC: 262, MNC: 1, LAC: 1, CID: 1}, TotalMeasures: 50}))

	wifis, err := db.OverQuotaWifis(ctx, db, 10, 100)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "over-quota wifis", int64(len(wifis)), 1)
	testutil.AssertCount(t, "wifi total", wifis[0].TotalMeasures, 50)

	cells, err := db.OverQuotaCells(ctx, db, 10, 100)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "over-quota cells", int64(len(cells)), 1)
}

func TestTrimCutoffAndDelete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	w := &Wifi{Key: "aa:03", TotalMeasures: 6}
	testutil.AssertNoError(t, db.InsertWifi(ctx, db, w))

	// Six old rows with ascending observation times, all created well
	// before the age cutoff.
	for i := int64(0); i < 6; i++ {
		_, err := db.InsertWifiMeasure(ctx, db, "aa:03", 100, 200, 1000, 2000+i)
		testutil.AssertNoError(t, err)
	}

	stations, err := db.OverQuotaWifis(ctx, db, 3, 100)
	testutil.AssertNoError(t, err)
	if len(stations) != 1 {
		t.Fatalf("got %d stations, want 1", len(stations))
	}
	st := stations[0]

	old, err := db.CountOldMeasures(ctx, db, MeasureKindWifi, st, 5000)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "old measures", old, 6)

	// Keep the newest 3: the cutoff row is the one at offset 3.
	keepTime, keepID, err := db.TrimCutoff(ctx, db, MeasureKindWifi, st, 5000, old-3)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "keep time", keepTime, 2003)

	deleted, err := db.DeleteMeasuresBefore(ctx, db, MeasureKindWifi, st, 5000, keepTime, keepID)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "deleted", deleted, 3)

	remaining, err := db.RecentWifiMeasures(ctx, db, "aa:03", 10)
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "remaining", int64(len(remaining)), 3)
}

func TestApplyTrimCountersClampsNewMeasures(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	w := &Wifi{Key: "aa:04", NewMeasures: 8, TotalMeasures: 10}
	testutil.AssertNoError(t, db.InsertWifi(ctx, db, w))

	stations, err := db.OverQuotaWifis(ctx, db, 5, 100)
	testutil.AssertNoError(t, err)
	if len(stations) != 1 {
		t.Fatalf("got %d stations, want 1", len(stations))
	}

	// Deleting 5 rows leaves a total of 5, which must also cap the
	// pending counter: some pending rows may just have been trimmed.
	testutil.AssertNoError(t, db.ApplyTrimCounters(ctx, db, stations[0], 5))

	got, err := db.WifiByKey(ctx, db, "aa:04")
	testutil.AssertNoError(t, err)
	testutil.AssertCount(t, "total after trim", got.TotalMeasures, 5)
	testutil.AssertCount(t, "new after trim", got.NewMeasures, 5)
}
