package archive

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
)

// ObjectStore is the cold-storage client used by the archival writer
// and reaper. Matches re-reads the stored object and compares its SHA1
// against the hash recorded at upload time; the reaper deletes source
// rows only after that confirmation.
type ObjectStore interface {
	Upload(ctx context.Context, key, path string) error
	Matches(ctx context.Context, key, wantSHA string) (bool, error)
}

// SHA1File returns the hex SHA1 of a file's contents.
func SHA1File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DisabledStore rejects every upload and matches nothing. With no
// bucket configured, planned blocks stay pending instead of having
// their source rows reaped against a store that kept nothing.
type DisabledStore struct{}

func (DisabledStore) Upload(ctx context.Context, key, path string) error {
	return fmt.Errorf("archive store disabled, cannot upload %s", key)
}

func (DisabledStore) Matches(ctx context.Context, key, wantSHA string) (bool, error) {
	return false, nil
}

// MemStore is an in-memory ObjectStore for tests.
type MemStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// FailUploads makes Upload return an error; used to exercise the
	// writer's retry path.
	FailUploads bool
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

func (m *MemStore) Upload(ctx context.Context, key, path string) error {
	if m.FailUploads {
		return fmt.Errorf("upload of %s refused", key)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *MemStore) Matches(ctx context.Context, key, wantSHA string) (bool, error) {
	m.mu.Lock()
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:]) == wantSHA, nil
}

// Object returns the stored bytes for a key, for test inspection.
func (m *MemStore) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}
