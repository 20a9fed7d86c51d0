package metric

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeEventStore struct {
	mu      sync.Mutex
	records []recordedEvent
}

type recordedEvent struct {
	meta       Metadata
	recordedAt time.Time
	extras     map[string]string
}

func (f *fakeEventStore) RecordEvent(meta Metadata, recordedAt time.Time, extras map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recordedEvent{meta: meta, recordedAt: recordedAt, extras: extras})
	return nil
}

func TestEvent_Record(t *testing.T) {
	store := &fakeEventStore{}
	fixed := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	e := Event{
		Metadata:   testMeta(KindEvent),
		Dispatcher: inlineDispatcher{},
		Store:      store,
		Now:        func() time.Time { return fixed },
	}

	e.Record(map[string]string{"key": "value"})

	require.Len(t, store.records, 1)
	require.Equal(t, fixed, store.records[0].recordedAt)
	require.Equal(t, "value", store.records[0].extras["key"])
}

func TestEvent_Record_Disabled(t *testing.T) {
	store := &fakeEventStore{}
	meta := testMeta(KindEvent)
	meta.Disabled = true
	e := Event{Metadata: meta, Dispatcher: inlineDispatcher{}, Store: store}

	e.Record(map[string]string{"key": "value"})

	require.Empty(t, store.records)
}

func TestEvent_Record_TooManyExtrasIsOverflow(t *testing.T) {
	store := &fakeEventStore{}
	errs := &fakeErrors{}
	e := Event{Metadata: testMeta(KindEvent), Dispatcher: inlineDispatcher{}, Store: store, Errors: errs}

	extras := map[string]string{}
	for i := 0; i < MaxExtraKeys+1; i++ {
		extras[string(rune('a'+i%26))+string(rune(i))] = "v"
	}
	e.Record(extras)

	require.Empty(t, store.records)
	require.Equal(t, ErrorInvalidOverflow, errs.last())
}
