// Package storage provides the hierarchical key-path document store every
// database layer (metrics, events, pings) is built on.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Index is an ordered path into the document tree, e.g.
// []string{"userLifetimeMetrics", "baseline", "counter", "app.clicks"}.
type Index []string

// TransformFunc computes a new subvalue from the current one. current is
// nil if the path did not previously exist.
type TransformFunc func(current any) (any, error)

// Store is the contract every platform storage driver must satisfy: a
// rooted JSON-shaped document with get/update/delete keyed by Index.
//
// Implementations must never silently traverse through a non-object
// intermediate value; Update on a path whose prefix collides with a
// non-object value returns an error and must not mutate the tree.
type Store interface {
	// Get returns the subvalue at path, or (nil, false) if the path does
	// not exist or the root is empty.
	Get(path Index) (any, bool)
	// Update computes the new subvalue via fn and persists it, creating
	// intermediate objects as needed.
	Update(path Index, fn TransformFunc) error
	// Delete removes the subvalue at path. Delete(nil) erases the root.
	Delete(path Index) error
}

// ErrNonObjectPrefix is returned by Update when a prefix of path already
// holds a non-object value.
var ErrNonObjectPrefix = errors.New("storage: path prefix is not an object")

// GetTyped fetches path and JSON round-trips it into out. If the stored
// value does not match out's shape, the leaf is deleted (tolerating
// out-of-band corruption) and GetTyped returns (false, nil).
func GetTyped(s Store, logger log.Logger, path Index, out any) (bool, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	v, ok := s.Get(path)
	if !ok {
		return false, nil
	}
	// Round trip through JSON so callers can decode into any concrete
	// struct regardless of how the driver represents the in-memory value.
	buf, err := json.Marshal(v)
	if err != nil {
		return deleteCorrupt(s, logger, path, err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return deleteCorrupt(s, logger, path, err)
	}
	return true, nil
}

func deleteCorrupt(s Store, logger log.Logger, path Index, cause error) (bool, error) {
	if err := s.Delete(path); err != nil {
		level.Error(logger).Log("msg", "failed to delete corrupt storage leaf", "path", fmt.Sprint([]string(path)), "err", err)
	} else {
		level.Warn(logger).Log("msg", "deleted storage leaf that failed to decode", "path", fmt.Sprint([]string(path)), "cause", cause)
	}
	return false, nil
}
