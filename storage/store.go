package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store is the prefixed key-value contract the protocol core depends on:
// get/set/delete/exists/list-by-prefix/batch-write/flush: a plain key-value
// contract plus the prefix-scan and batch operations the CDP protocol's
// typed accessors need, with the
// three-concrete-backend shape described in DESIGN.md: an in-memory
// member for tests, a single-file member, and an embedded LSM member.
type Store interface {
	Get(key []byte) ([]byte, bool, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Exists(key []byte) (bool, error)
	ListPrefix(prefix []byte) (map[string][]byte, error)
	NewBatch() Batch
	Flush() error
	Close() error
}

// Batch accumulates writes to be applied atomically by WriteBatch.
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
}

// --- MemStore ---------------------------------------------------------------

// MemStore is the in-memory member: a locked map with
// delete/exists/prefix-scan/batch. Used by tests, and by FileStore as its
// in-memory keyspace.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemStore) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *MemStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemStore) Exists(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *MemStore) ListPrefix(prefix []byte) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

type memBatch struct {
	store   *MemStore
	sets    map[string][]byte
	deletes map[string]struct{}
}

func (m *MemStore) NewBatch() Batch {
	return &memBatch{store: m, sets: make(map[string][]byte), deletes: make(map[string]struct{})}
}

func (b *memBatch) Set(key, value []byte) {
	b.sets[string(key)] = append([]byte(nil), value...)
	delete(b.deletes, string(key))
}

func (b *memBatch) Delete(key []byte) {
	b.deletes[string(key)] = struct{}{}
	delete(b.sets, string(key))
}

// WriteBatch applies every Set/Delete recorded on batch atomically with
// respect to other Store callers.
func (m *MemStore) WriteBatch(batch Batch) error {
	b, ok := batch.(*memBatch)
	if !ok || b.store != m {
		return fmt.Errorf("storage: batch was not created by this MemStore")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range b.sets {
		m.data[k] = v
	}
	for k := range b.deletes {
		delete(m.data, k)
	}
	return nil
}

func (m *MemStore) Flush() error { return nil }
func (m *MemStore) Close() error { return nil }

// --- FileStore ---------------------------------------------------------------

// FileStore is the single-file member: the entire keyspace is held in
// memory and Flush serializes it to one JSON file. Suited to small
// deployments that want durability without running an embedded database.
type FileStore struct {
	mem  *MemStore
	path string
}

// NewFileStore opens (or creates) a FileStore backed by path.
func NewFileStore(path string) (*FileStore, error) {
	mem := NewMemStore()
	if data, err := os.ReadFile(path); err == nil {
		var snapshot map[string]string
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return nil, fmt.Errorf("storage: decode file store snapshot: %w", err)
		}
		for k, v := range snapshot {
			mem.data[k] = []byte(v)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("storage: read file store snapshot: %w", err)
	}
	return &FileStore{mem: mem, path: path}, nil
}

func (f *FileStore) Get(key []byte) ([]byte, bool, error)          { return f.mem.Get(key) }
func (f *FileStore) Set(key, value []byte) error                  { return f.mem.Set(key, value) }
func (f *FileStore) Delete(key []byte) error                      { return f.mem.Delete(key) }
func (f *FileStore) Exists(key []byte) (bool, error)               { return f.mem.Exists(key) }
func (f *FileStore) ListPrefix(prefix []byte) (map[string][]byte, error) {
	return f.mem.ListPrefix(prefix)
}
func (f *FileStore) NewBatch() Batch { return f.mem.NewBatch() }

// Flush serializes the full keyspace to disk. This is the only durability
// point, matching the storage batch flush at the end of a block.
func (f *FileStore) Flush() error {
	f.mem.mu.RLock()
	snapshot := make(map[string]string, len(f.mem.data))
	keys := make([]string, 0, len(f.mem.data))
	for k := range f.mem.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		snapshot[k] = string(f.mem.data[k])
	}
	f.mem.mu.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Close() error { return f.Flush() }

// --- LevelStore --------------------------------------------------------------

// LevelStore wraps github.com/syndtr/goleveldb/leveldb, with
// delete/prefix-scan/batch via goleveldb's native
// Delete/util.BytesPrefix/leveldb.Batch support.
type LevelStore struct {
	db *leveldb.DB
}

// NewLevelStore opens (or creates) a LevelDB-backed store at path.
func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

func (l *LevelStore) Get(key []byte) ([]byte, bool, error) {
	v, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (l *LevelStore) Set(key, value []byte) error { return l.db.Put(key, value, nil) }
func (l *LevelStore) Delete(key []byte) error      { return l.db.Delete(key, nil) }

func (l *LevelStore) Exists(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

func (l *LevelStore) ListPrefix(prefix []byte) (map[string][]byte, error) {
	out := make(map[string][]byte)
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		k := append([]byte(nil), iter.Key()...)
		v := append([]byte(nil), iter.Value()...)
		out[string(k)] = v
	}
	return out, iter.Error()
}

type levelBatch struct {
	batch *leveldb.Batch
}

func (l *LevelStore) NewBatch() Batch { return &levelBatch{batch: new(leveldb.Batch)} }

func (b *levelBatch) Set(key, value []byte) { b.batch.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.batch.Delete(key) }

// WriteBatch applies batch atomically via goleveldb's native batch write.
func (l *LevelStore) WriteBatch(batch Batch) error {
	b, ok := batch.(*levelBatch)
	if !ok {
		return fmt.Errorf("storage: batch was not created by this LevelStore")
	}
	return l.db.Write(b.batch, nil)
}

// Flush is a no-op: each Put/Write is already applied to goleveldb as it is
// made, using default write options (no fsync per write). It exists to
// satisfy the Store contract's commit-point hook.
func (l *LevelStore) Flush() error { return nil }

func (l *LevelStore) Close() error { return l.db.Close() }
