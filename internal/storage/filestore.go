package storage

import (
	"encoding/json"
	"os"
	"sync"
)

// FileStore round-trips the whole document tree to a single JSON file on
// disk. It exists for embedders with no platform-provided store; hosts
// with a real local-storage/indexed-db/webext driver should use that
// instead (those drivers are out of scope for this module, see §1).
//
// Modeled on the teacher's DiskFS: operations shell out to the os package
// directly, with an in-process mutex serializing access the same way
// MemoryFS does for its in-memory map.
type FileStore struct {
	mu   sync.Mutex
	path string
	mem  *MemoryStore
}

// NewFileStore loads path if it exists, or starts empty.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, mem: NewMemoryStore()}
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, err
	}
	var root map[string]any
	if err := json.Unmarshal(buf, &root); err != nil {
		return nil, err
	}
	fs.mem.root = root
	return fs, nil
}

func (fs *FileStore) Get(path Index) (any, bool) {
	return fs.mem.Get(path)
}

func (fs *FileStore) Update(path Index, fn TransformFunc) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.mem.Update(path, fn); err != nil {
		return err
	}
	return fs.flush()
}

func (fs *FileStore) Delete(path Index) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.mem.Delete(path); err != nil {
		return err
	}
	return fs.flush()
}

func (fs *FileStore) flush() error {
	fs.mem.mu.RLock()
	buf, err := json.Marshal(fs.mem.root)
	fs.mem.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(fs.path, buf, 0o644)
}
