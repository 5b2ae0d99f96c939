package figrnet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/facebookgo/atomicfile"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// QueueStore persists offline queue snapshots. Save receives the complete
// queue in processing order and replaces whatever was stored before.
type QueueStore interface {
	Load() ([]OfflineRequest, error)
	Save([]OfflineRequest) error
}

// MemoryQueueStore keeps the snapshot in memory. It is the default and
// loses the queue on restart.
type MemoryQueueStore struct {
	mu    sync.Mutex
	items []OfflineRequest
	saves int
}

// NewMemoryQueueStore returns an empty store.
func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{}
}

func (s *MemoryQueueStore) Load() ([]OfflineRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OfflineRequest(nil), s.items...), nil
}

func (s *MemoryQueueStore) Save(items []OfflineRequest) error {
	s.mu.Lock()
	s.items = append([]OfflineRequest(nil), items...)
	s.saves++
	s.mu.Unlock()
	return nil
}

// Saves is the number of snapshots written.
func (s *MemoryQueueStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// FileQueueStore writes the snapshot as one JSON document, replaced
// atomically on every save.
type FileQueueStore struct {
	path string
}

// NewFileQueueStore stores the queue at path. The parent directory is
// created on first save.
func NewFileQueueStore(path string) *FileQueueStore {
	return &FileQueueStore{path: path}
}

func (s *FileQueueStore) Load() ([]OfflineRequest, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue snapshot: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var items []OfflineRequest
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode queue snapshot %s: %w", s.path, err)
	}
	return items, nil
}

func (s *FileQueueStore) Save(items []OfflineRequest) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	if items == nil {
		items = []OfflineRequest{}
	}
	buf, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue snapshot: %w", err)
	}

	f, err := atomicfile.New(s.path, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
		_ = f.Abort()
		return fmt.Errorf("write queue snapshot: %w", err)
	}
	return f.Close()
}

var queueKeyPrefix = []byte("q:")

// LevelDBQueueStore keeps one record per queued request under a "q:" key
// prefix. A save rewrites the prefix in a single batch.
type LevelDBQueueStore struct {
	db    *leveldb.DB
	owned bool
}

// OpenLevelDBQueueStore opens or creates a LevelDB database at path.
func OpenLevelDBQueueStore(path string) (*LevelDBQueueStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open queue database %s: %w", path, err)
	}
	return &LevelDBQueueStore{db: db, owned: true}, nil
}

// NewLevelDBQueueStore uses an already open database. Close leaves it open.
func NewLevelDBQueueStore(db *leveldb.DB) *LevelDBQueueStore {
	return &LevelDBQueueStore{db: db}
}

func (s *LevelDBQueueStore) Load() ([]OfflineRequest, error) {
	it := s.db.NewIterator(util.BytesPrefix(queueKeyPrefix), nil)
	defer it.Release()

	var items []OfflineRequest
	for it.Next() {
		var r OfflineRequest
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			continue
		}
		items = append(items, r)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sortQueue(items)
	return items, nil
}

func (s *LevelDBQueueStore) Save(items []OfflineRequest) error {
	batch := new(leveldb.Batch)
	keep := make(map[string]struct{}, len(items))
	for _, r := range items {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode queued request %s: %w", r.ID, err)
		}
		key := append(append([]byte(nil), queueKeyPrefix...), r.ID...)
		keep[string(key)] = struct{}{}
		batch.Put(key, b)
	}

	it := s.db.NewIterator(util.BytesPrefix(queueKeyPrefix), nil)
	for it.Next() {
		if _, ok := keep[string(it.Key())]; !ok {
			batch.Delete(append([]byte(nil), it.Key()...))
		}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

// Close closes the database if the store opened it.
func (s *LevelDBQueueStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
