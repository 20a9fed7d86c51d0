// Package errs implements the error manager: metric-recording failures
// become labeled counters on glean.error.<type>, recorded in every ping
// the offending metric was bound to (§4.8). The manager itself never
// fails validation and is never error-reported.
package errs

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/glean-go/telemetry/internal/metric"
)

const errorCategory = "glean.error"

const (
	shardCount  = 16
	logThrottle = time.Minute
)

// Store is the seam Manager writes error counters through and reads
// them back for test assertions — satisfied by *metricsdb.Database.
type Store interface {
	metric.Store
	GetMetric(pingName string, meta metric.Metadata) (any, bool)
}

type shard struct {
	mu       sync.Mutex
	lastWarn map[string]time.Time
}

// Manager implements metric.ErrorRecorder.
type Manager struct {
	Store Store
	Log   log.Logger
	Now   func() time.Time

	shards [shardCount]shard
}

// NewManager wires a Manager writing error counters through store.
func NewManager(store Store, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := &Manager{Store: store, Log: logger, Now: time.Now}
	for i := range m.shards {
		m.shards[i].lastWarn = make(map[string]time.Time)
	}
	return m
}

// RecordError implements metric.ErrorRecorder: bumps
// glean.error.<errType>, labeled with meta's base identifier, in every
// ping meta is bound to.
func (m *Manager) RecordError(meta metric.Metadata, errType metric.ErrorType) {
	identifier := meta.Identifier()
	errMeta := errorMetadata(meta.SendInPings, identifier, errType)

	if err := m.Store.Transform(errMeta, func(current any) (any, error) {
		cur, _ := current.(int64)
		return metric.SaturatingAdd(cur, 1), nil
	}); err != nil {
		level.Error(m.Log).Log("msg", "failed to record metric error", "id", identifier, "type", errType, "err", err)
		return
	}
	m.warnOnce(identifier, errType)
}

// NumRecordedErrors is a test-only accessor mirroring the source SDKs'
// testGetNumRecordedErrors (§8): how many errType errors are recorded
// against meta within pingName.
func (m *Manager) NumRecordedErrors(pingName string, meta metric.Metadata, errType metric.ErrorType) int64 {
	errMeta := errorMetadata(nil, meta.Identifier(), errType)
	payload, ok := m.Store.GetMetric(pingName, errMeta)
	if !ok {
		return 0
	}
	v, _ := payload.(int64)
	return v
}

func errorMetadata(sendInPings []string, identifier string, errType metric.ErrorType) metric.Metadata {
	return metric.Metadata{
		Category:    errorCategory,
		Name:        string(errType),
		Kind:        metric.KindCounter,
		Lifetime:    metric.LifetimePing,
		SendInPings: sendInPings,
		IsLabeled:   true,
		Label:       identifier,
	}
}

// warnOnce logs once per identifier/errType per logThrottle window,
// striping the throttle bookkeeping across shardCount buckets keyed by
// a stable hash of the pair — grounded on util.HashForSharding's use of
// xxhash for a non-cryptographic, stable partition key, here bounding
// lock contention on the throttle map instead of selecting a
// remote-write shard.
func (m *Manager) warnOnce(identifier string, errType metric.ErrorType) {
	key := identifier + "|" + string(errType)
	s := &m.shards[shardFor(key)]

	s.mu.Lock()
	defer s.mu.Unlock()
	now := m.Now()
	if last, ok := s.lastWarn[key]; ok && now.Sub(last) < logThrottle {
		return
	}
	s.lastWarn[key] = now
	level.Warn(m.Log).Log("msg", "metric recording error", "id", identifier, "type", errType)
}

func shardFor(key string) int {
	return int(xxhash.Sum64String(key) % shardCount)
}
