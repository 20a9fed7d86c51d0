// Package eventsdb implements the append-only event log: one ordered list
// of event records per ping, with a restart marker separating event
// sequences across process lifetimes and wall-clock-adjusted monotonic
// timestamps (§4.4).
package eventsdb

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/golang/snappy"

	"github.com/glean-go/telemetry/internal/metric"
	"github.com/glean-go/telemetry/internal/storage"
)

// Record is one occurrence recorded within a ping's event list.
type Record struct {
	Timestamp int64             `json:"timestamp"`
	Category  string            `json:"category"`
	Name      string            `json:"name"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// RestartCategory/RestartName identify the synthetic marker event
// inserted at initialization when a ping's event list survived from a
// prior process lifetime.
const (
	RestartCategory = "glean"
	RestartName     = "restart"
)

const root = "events"

// SubmitFunc is invoked with a ping name when its event list has reached
// maxEvents entries, asking the caller to submit (and then clear) that ping
// immediately rather than waiting for its normal schedule.
type SubmitFunc func(pingName string)

// Store is the append-only event log. It is safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	log        log.Logger
	backing    storage.Store
	maxEvents  int
	onOverflow SubmitFunc
	epoch      time.Time
	lastMillis int64
}

// New wires a Store over backing. maxEvents triggers onOverflow as soon
// as a recorded (or restart-marker) event brings a ping's list to
// maxEvents entries or more.
func New(backing storage.Store, maxEvents int, onOverflow SubmitFunc, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if onOverflow == nil {
		onOverflow = func(string) {}
	}
	return &Store{backing: backing, maxEvents: maxEvents, onOverflow: onOverflow, log: logger, epoch: time.Now()}
}

// Init scans every ping with a persisted event list and appends a
// restart marker to each — called once, after upload-enabled is
// established for the session (§7 ordering invariant), since the marker
// itself is an event subject to the upload-enabled gate upstream.
func (s *Store) Init(pingNames []string) {
	for _, pingName := range pingNames {
		records, ok := s.load(pingName)
		if !ok || len(records) == 0 {
			continue
		}
		s.appendRecord(pingName, Record{
			Timestamp: s.nextMillis(),
			Category:  RestartCategory,
			Name:      RestartName,
		})
	}
}

// RecordEvent implements metric.EventStore.
func (s *Store) RecordEvent(meta metric.Metadata, recordedAt time.Time, extras map[string]string) error {
	record := Record{
		Timestamp: s.monotonicMillis(recordedAt),
		Category:  meta.Category,
		Name:      meta.Name,
		Extra:     extras,
	}
	for _, pingName := range meta.SendInPings {
		if err := s.appendRecord(pingName, record); err != nil {
			return err
		}
	}
	return nil
}

// monotonicMillis converts recordedAt to milliseconds since s.epoch,
// clamping to strictly increase even if the wall clock moves backward
// (NTP step, DST, user clock change) so events within a ping stay
// monotonically ordered (§3 invariant).
func (s *Store) monotonicMillis(recordedAt time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stampLocked(recordedAt.Sub(s.epoch).Milliseconds())
}

func (s *Store) nextMillis() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stampLocked(time.Since(s.epoch).Milliseconds())
}

func (s *Store) stampLocked(millis int64) int64 {
	if millis <= s.lastMillis {
		millis = s.lastMillis + 1
	}
	s.lastMillis = millis
	return millis
}

func (s *Store) appendRecord(pingName string, record Record) error {
	records, _ := s.load(pingName)
	records = append(records, record)
	if err := s.save(pingName, records); err != nil {
		level.Error(s.log).Log("msg", "failed to persist event record", "ping", pingName, "err", err)
		return err
	}
	if s.maxEvents > 0 && len(records) >= s.maxEvents {
		s.onOverflow(pingName)
	}
	return nil
}

// Events returns the ordered event list for pingName, for ping assembly.
func (s *Store) Events(pingName string) []Record {
	records, _ := s.load(pingName)
	return records
}

// Clear erases pingName's event list, e.g. after successful submission.
func (s *Store) Clear(pingName string) error {
	return s.backing.Delete(storage.Index{root, pingName})
}

// load decodes the snappy-compressed, base64-encoded JSON blob stored at
// events/<pingName>, tolerating corruption by dropping the leaf (matching
// the storage adapter's general tolerant-read contract, §4.3).
func (s *Store) load(pingName string) ([]Record, bool) {
	raw, ok := s.backing.Get(storage.Index{root, pingName})
	if !ok {
		return nil, false
	}
	encoded, ok := raw.(string)
	if !ok {
		return nil, false
	}
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		level.Warn(s.log).Log("msg", "dropping corrupt event blob", "ping", pingName, "err", err)
		_ = s.backing.Delete(storage.Index{root, pingName})
		return nil, false
	}
	plain, err := snappy.Decode(nil, compressed)
	if err != nil {
		level.Warn(s.log).Log("msg", "dropping corrupt event blob", "ping", pingName, "err", err)
		_ = s.backing.Delete(storage.Index{root, pingName})
		return nil, false
	}
	var records []Record
	if err := json.Unmarshal(plain, &records); err != nil {
		level.Warn(s.log).Log("msg", "dropping corrupt event blob", "ping", pingName, "err", err)
		_ = s.backing.Delete(storage.Index{root, pingName})
		return nil, false
	}
	return records, true
}

func (s *Store) save(pingName string, records []Record) error {
	plain, err := json.Marshal(records)
	if err != nil {
		return err
	}
	compressed := snappy.Encode(nil, plain)
	encoded := base64.StdEncoding.EncodeToString(compressed)
	return s.backing.Update(storage.Index{root, pingName}, func(any) (any, error) {
		return encoded, nil
	})
}
