// Package pingsdb implements the durable FIFO of assembled pings waiting
// to upload — a committed queue surviving process restarts, grounded on
// the same incrementing-id, oldest-first ordering as a file-backed
// commit log (§4.7).
package pingsdb

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/klauspost/compress/gzip"

	"github.com/glean-go/telemetry/internal/storage"
)

// Entry is one pending ping awaiting upload.
type Entry struct {
	ID         int64  `json:"id"`
	PingName   string `json:"ping_name"`
	DocumentID string `json:"document_id"`
	Path       string `json:"path"`
	Body       []byte `json:"body"`
}

var path = storage.Index{"pendingPings", "queue"}

// Store is the committed, on-disk (via the storage adapter) pending-ping
// queue. Entries are dequeued strictly oldest-first, matching the
// "committed" ordering of a sequential id log.
type Store struct {
	mu      sync.Mutex
	log     log.Logger
	backing storage.Store
	nextID  int64
}

// New loads any previously-persisted queue and resumes id assignment
// from its high-water mark.
func New(backing storage.Store, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Store{backing: backing, log: logger, nextID: 1}
	entries, _ := s.load()
	for _, e := range entries {
		if e.ID >= s.nextID {
			s.nextID = e.ID + 1
		}
	}
	return s
}

// Enqueue appends a new pending ping and returns its assigned entry.
func (s *Store) Enqueue(pingName, documentID, uploadPath string, body []byte) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, _ := s.load()
	entry := Entry{ID: s.nextID, PingName: pingName, DocumentID: documentID, Path: uploadPath, Body: body}
	s.nextID++
	entries = append(entries, entry)
	if err := s.save(entries); err != nil {
		level.Error(s.log).Log("msg", "failed to persist pending ping", "ping", pingName, "err", err)
		return Entry{}, err
	}
	return entry, nil
}

// Peek returns the oldest pending entry without removing it — the
// upload manager enforces at most one in-flight request by only ever
// acting on the head of this queue (§4.7).
func (s *Store) Peek() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, _ := s.load()
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[0], true
}

// Len reports the number of pending pings.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, _ := s.load()
	return len(entries)
}

// Dequeue removes the entry with the given id, e.g. after a successful
// upload or a permanent-failure drop.
func (s *Store) Dequeue(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, _ := s.load()
	kept := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	return s.save(kept)
}

// Clear drops every pending ping, e.g. in response to upload being
// disabled.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backing.Delete(path)
}

func (s *Store) load() ([]Entry, bool) {
	raw, ok := s.backing.Get(path)
	if !ok {
		return nil, false
	}
	encoded, ok := raw.(string)
	if !ok {
		return nil, false
	}
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		level.Warn(s.log).Log("msg", "dropping corrupt pending-ping queue", "err", err)
		_ = s.backing.Delete(path)
		return nil, false
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		level.Warn(s.log).Log("msg", "dropping corrupt pending-ping queue", "err", err)
		_ = s.backing.Delete(path)
		return nil, false
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		level.Warn(s.log).Log("msg", "dropping corrupt pending-ping queue", "err", err)
		_ = s.backing.Delete(path)
		return nil, false
	}
	var entries []Entry
	if err := json.Unmarshal(plain, &entries); err != nil {
		level.Warn(s.log).Log("msg", "dropping corrupt pending-ping queue", "err", err)
		_ = s.backing.Delete(path)
		return nil, false
	}
	return entries, true
}

func (s *Store) save(entries []Entry) error {
	plain, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	return s.backing.Update(path, func(any) (any, error) {
		return encoded, nil
	})
}
