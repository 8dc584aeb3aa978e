package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	fileutil "reelsmith/internal/file"
)

// FileStore keeps the ledger as a JSON array on disk. Writers are serialized
// in-process by a mutex and across processes by a lock file next to the
// ledger, and every write replaces the file atomically.
type FileStore struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
	now  func() time.Time
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, lock: flock.New(path + ".lock"), now: time.Now}
}

func (s *FileStore) Check(ctx context.Context, key string) (*Record, error) {
	key = Normalize(key)
	if key == "" {
		return nil, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acquire(ctx, s.lock.TryRLockContext); err != nil {
		return nil, err
	}
	defer func() { _ = s.lock.Unlock() }()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Key == key {
			return &records[i], nil
		}
	}
	return nil, nil
}

func (s *FileStore) Add(ctx context.Context, entry Entry) (Record, error) {
	rec, err := newRecord(entry, s.now())
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acquire(ctx, s.lock.TryLockContext); err != nil {
		return Record{}, err
	}
	defer func() { _ = s.lock.Unlock() }()

	records, err := s.load()
	if err != nil {
		return Record{}, err
	}
	records = append(records, rec)
	if err := fileutil.WriteJSONAtomic(s.path, records); err != nil {
		return Record{}, fmt.Errorf("write ledger: %w", err)
	}
	return rec, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) acquire(ctx context.Context, try func(context.Context, time.Duration) (bool, error)) error {
	if err := fileutil.EnsureDir(filepath.Dir(s.path)); err != nil {
		return err
	}
	ok, err := try(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock ledger: %w", ctx.Err())
	}
	return nil
}

func (s *FileStore) load() ([]Record, error) {
	var records []Record
	if _, err := fileutil.ReadJSON(s.path, &records); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return records, nil
}
