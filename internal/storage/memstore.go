package storage

import (
	"fmt"
	"sync"
)

// MemoryStore is the in-memory reference Store driver, modeled on the
// teacher's MemoryFS: a mutex-protected tree with defensive copies on
// every read and write so callers can never mutate stored state through
// an aliased value.
type MemoryStore struct {
	mu   sync.RWMutex
	root map[string]any
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{root: make(map[string]any)}
}

func (m *MemoryStore) Get(path Index) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.root) == 0 {
		return nil, false
	}
	v, ok := lookup(m.root, path)
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

func (m *MemoryStore) Update(path Index, fn TransformFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(path) == 0 {
		current, _ := lookup(m.root, nil)
		next, err := fn(deepCopy(current))
		if err != nil {
			return err
		}
		obj, ok := asObject(next)
		if !ok {
			return fmt.Errorf("storage: root must be an object: %w", ErrNonObjectPrefix)
		}
		m.root = deepCopy(obj).(map[string]any)
		return nil
	}

	parent, err := ensureObjectPath(m.root, path[:len(path)-1])
	if err != nil {
		return err
	}
	leafKey := path[len(path)-1]
	current := parent[leafKey]
	next, err := fn(deepCopy(current))
	if err != nil {
		return err
	}
	parent[leafKey] = deepCopy(next)
	return nil
}

func (m *MemoryStore) Delete(path Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(path) == 0 {
		m.root = make(map[string]any)
		return nil
	}
	parent, ok := lookup(m.root, path[:len(path)-1])
	if !ok {
		return nil
	}
	obj, ok := parent.(map[string]any)
	if !ok {
		return nil
	}
	delete(obj, path[len(path)-1])
	return nil
}

// lookup walks path from root, returning (nil, false) the instant it hits
// a missing key or a non-object intermediate value.
func lookup(root map[string]any, path Index) (any, bool) {
	var cur any = root
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ensureObjectPath walks/creates intermediate objects along path and
// returns the deepest one. It fails with ErrNonObjectPrefix if an
// existing intermediate value is not an object.
func ensureObjectPath(root map[string]any, path Index) (map[string]any, error) {
	cur := root
	for _, key := range path {
		next, exists := cur[key]
		if !exists {
			created := make(map[string]any)
			cur[key] = created
			cur = created
			continue
		}
		obj, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("storage: %q is not an object: %w", key, ErrNonObjectPrefix)
		}
		cur = obj
	}
	return cur, nil
}

func asObject(v any) (map[string]any, bool) {
	if v == nil {
		return make(map[string]any), true
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// deepCopy returns a copy of v safe to hand to callers or store without
// aliasing — mirrors MemoryFS copying byte slices before returning them.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = deepCopy(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = deepCopy(vv)
		}
		return out
	default:
		return v
	}
}
