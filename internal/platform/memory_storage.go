package platform

import "github.com/glean-go/telemetry/internal/storage"

// MemoryStorageFactory builds fresh in-memory storage.Store instances,
// one per database root (§6). It is the fallback used when an embedder
// does not supply a durable storage driver.
type MemoryStorageFactory struct{}

// NewMemoryStorageFactory returns a factory producing MemoryStore roots.
func NewMemoryStorageFactory() MemoryStorageFactory { return MemoryStorageFactory{} }

// Open returns a new, empty storage.Store. name is informational only
// (MemoryStore holds no cross-instance state to key by).
func (MemoryStorageFactory) Open(name string) (storage.Store, error) {
	return storage.NewMemoryStore(), nil
}
