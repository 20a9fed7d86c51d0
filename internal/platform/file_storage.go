package platform

import (
	"os"
	"path/filepath"

	"github.com/glean-go/telemetry/internal/storage"
)

// FileStorageFactory opens durable, file-backed storage.Store roots
// under a directory, one JSON file per root name — the factory an
// embedder supplies when MemoryStorageFactory's process-lifetime-only
// persistence isn't sufficient (§6). Each root is independent, matching
// the "userLifetimeMetrics"/"events"/"pendingPings" naming the rest of
// the SDK opens by name.
type FileStorageFactory struct {
	dir string
}

// NewFileStorageFactory returns a factory rooted at dir. The directory is
// created, if missing, by each Open call.
func NewFileStorageFactory(dir string) FileStorageFactory {
	return FileStorageFactory{dir: dir}
}

func (f FileStorageFactory) Open(name string) (storage.Store, error) {
	if err := os.MkdirAll(f.dir, 0o777); err != nil {
		return nil, err
	}
	return storage.NewFileStore(filepath.Join(f.dir, name+".json"))
}
