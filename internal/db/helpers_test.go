package db

import (
	"os"
	"path/filepath"
	"testing"
)

func int64Ptr(v int64) *int64 {
	return &v
}

// setupTestDB creates a migrated throwaway database for one test.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	fname := filepath.Join(t.TempDir(), "test.db")
	_ = os.Remove(fname)

	db, err := NewDB(fname)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
