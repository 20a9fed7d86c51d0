package metric

import (
	"context"
	"sync"
)

// inlineDispatcher runs every task synchronously on the calling goroutine,
// matching the dispatcher's sync mode closely enough for deterministic
// kind-level tests without pulling in internal/dispatch.
type inlineDispatcher struct{}

func (inlineDispatcher) Task(fn func(context.Context) error) {
	_ = fn(context.Background())
}

// memStore is a minimal in-memory metric.Store for testing kinds in
// isolation, keyed by identifier (+label, if set).
type memStore struct {
	mu   sync.Mutex
	data map[string]any
}

func newMemStore() *memStore {
	return &memStore{data: map[string]any{}}
}

func (s *memStore) key(meta Metadata) string {
	if meta.IsLabeled {
		return meta.Identifier() + "\x00" + meta.Label
	}
	return meta.Identifier()
}

func (s *memStore) Record(meta Metadata, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[s.key(meta)] = value
	return nil
}

func (s *memStore) Transform(meta Metadata, fn TransformFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(meta)
	next, err := fn(s.data[k])
	if err != nil {
		return err
	}
	s.data[k] = next
	return nil
}

func (s *memStore) get(meta Metadata) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[s.key(meta)]
	return v, ok
}

// recordedError is one captured RecordError call.
type recordedError struct {
	meta    Metadata
	errType ErrorType
}

type fakeErrors struct {
	mu   sync.Mutex
	errs []recordedError
}

func (f *fakeErrors) RecordError(meta Metadata, errType ErrorType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, recordedError{meta: meta, errType: errType})
}

func (f *fakeErrors) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

func (f *fakeErrors) last() ErrorType {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) == 0 {
		return ""
	}
	return f.errs[len(f.errs)-1].errType
}

func newRecorder(store Store, errs ErrorRecorder) Recorder {
	return Recorder{Dispatcher: inlineDispatcher{}, Store: store, Errors: errs}
}

func testMeta(kind Kind) Metadata {
	return Metadata{Category: "test", Name: "metric", Kind: kind, Lifetime: LifetimePing, SendInPings: []string{"metrics"}}
}
