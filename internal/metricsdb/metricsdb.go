// Package metricsdb implements the lifetime-partitioned metrics store
// layered on the storage adapter (§4.3).
package metricsdb

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/glean-go/telemetry/internal/metric"
	"github.com/glean-go/telemetry/internal/storage"
)

// uploadAllowlist is the set of identifiers allowed to record while
// upload is disabled — the reserved first_run_date and client_id core
// metrics (§3 invariant).
var uploadAllowlist = map[string]bool{
	"first_run_date": true,
	"client_id":      true,
}

// Database presents three named sub-stores by lifetime and layers the
// "<pingName>/<metricKind>/<metricIdentifier>" layout (§4.3) over a
// storage.Store per lifetime.
type Database struct {
	mu            sync.Mutex
	log           log.Logger
	user          storage.Store
	ping          storage.Store
	app           storage.Store
	uploadEnabled bool
}

// New wires a Database on top of one storage.Store per lifetime — callers
// typically pass the same underlying Store with a different root key, or
// three independent stores, matching the "userLifetimeMetrics",
// "pingLifetimeMetrics", "appLifetimeMetrics" root keys of §6.
func New(user, ping, app storage.Store, logger log.Logger) *Database {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Database{user: user, ping: ping, app: app, log: logger}
}

// SetUploadEnabled gates recording per the §3 invariant: while disabled,
// only the allowlisted identifiers may record.
func (d *Database) SetUploadEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uploadEnabled = enabled
}

func (d *Database) storeFor(lifetime metric.Lifetime) storage.Store {
	switch lifetime {
	case metric.LifetimeUser:
		return d.user
	case metric.LifetimeApplication:
		return d.app
	default:
		return d.ping
	}
}

func (d *Database) allowedLocked(meta metric.Metadata) bool {
	if d.uploadEnabled {
		return true
	}
	return uploadAllowlist[meta.Identifier()]
}

// Record implements metric.Store.
func (d *Database) Record(meta metric.Metadata, value any) error {
	return d.Transform(meta, func(any) (any, error) { return value, nil })
}

// Transform implements metric.Store. It writes under every ping named in
// meta.SendInPings, in the sub-store selected by meta.Lifetime, at
// "<pingName>/<kind>/<identifier>[/<label>]".
func (d *Database) Transform(meta metric.Metadata, fn metric.TransformFunc) error {
	d.mu.Lock()
	allowed := d.allowedLocked(meta)
	d.mu.Unlock()
	if !allowed {
		return nil
	}

	store := d.storeFor(meta.Lifetime)
	var firstErr error
	for _, pingName := range meta.SendInPings {
		path := leafPath(pingName, meta)
		err := store.Update(path, func(current any) (any, error) {
			return fn(current)
		})
		if err != nil {
			level.Error(d.log).Log("msg", "failed to update metric", "id", meta.Identifier(), "ping", pingName, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// kindBucket returns the path segment a metric's values live under. A
// labeled metric gets its own "labeled_<kind>" bucket — distinct from the
// wrapped kind's own bucket — so walk can tell a label fan-out apart from
// an ordinary object-shaped leaf (e.g. a datetime or histogram value,
// which is itself a map[string]any once round-tripped through JSON)
// without having to inspect the leaf's shape.
func kindBucket(meta metric.Metadata) string {
	if meta.IsLabeled {
		return "labeled_" + string(meta.Kind)
	}
	return string(meta.Kind)
}

func leafPath(pingName string, meta metric.Metadata) storage.Index {
	path := storage.Index{pingName, kindBucket(meta), meta.Identifier()}
	if meta.IsLabeled {
		path = append(path, meta.Label)
	}
	return path
}

// GetMetric returns the decoded payload for meta within pingName, or
// (nil, false) if it has never recorded. A value that fails the kind's
// validator is deleted and (nil, false) is returned, tolerating
// out-of-band storage corruption (§4.3).
func (d *Database) GetMetric(pingName string, meta metric.Metadata) (any, bool) {
	store := d.storeFor(meta.Lifetime)
	path := leafPath(pingName, meta)
	raw, ok := store.Get(path)
	if !ok {
		return nil, false
	}
	codec := metric.CodecFor(meta.Kind)
	if codec == nil {
		level.Error(d.log).Log("msg", "no codec registered for kind", "kind", meta.Kind)
		return nil, false
	}
	internal, ok := codec.Decode(raw)
	if !ok {
		if err := store.Delete(path); err != nil {
			level.Error(d.log).Log("msg", "failed to delete corrupt metric", "id", meta.Identifier(), "err", err)
		} else {
			level.Warn(d.log).Log("msg", "deleted metric value that failed validation", "id", meta.Identifier())
		}
		return nil, false
	}
	return codec.Payload(internal), true
}

// pingEntry is one decoded leaf discovered while walking a ping's
// sub-store subtree.
type pingEntry struct {
	kind       metric.Kind
	identifier string
	label      string
	isLabeled  bool
	payload    any
}

// GetPingMetrics merges the user/ping/app sub-stores for pingName,
// skipping reserved identifiers, unfolding labeled entries into
// "labeled_<kind>", and clearing ping-lifetime data afterward if
// clearPingLifetime is set. Returns a map keyed by "<kind>" (or
// "labeled_<kind>") to identifier to payload (or, for labeled kinds, to
// a map of label -> payload), matching the §3 envelope shape.
func (d *Database) GetPingMetrics(pingName string, clearPingLifetime bool) map[string]map[string]any {
	result := map[string]map[string]any{}
	for _, store := range []storage.Store{d.user, d.ping, d.app} {
		entries := d.walk(store, pingName)
		for _, e := range entries {
			if metric.IsReserved(e.identifier) {
				continue
			}
			bucket := string(e.kind)
			if e.isLabeled {
				bucket = "labeled_" + string(e.kind)
			}
			if _, ok := result[bucket]; !ok {
				result[bucket] = map[string]any{}
			}
			if e.isLabeled {
				sub, ok := result[bucket][e.identifier].(map[string]any)
				if !ok {
					sub = map[string]any{}
					result[bucket][e.identifier] = sub
				}
				sub[e.label] = e.payload
			} else {
				result[bucket][e.identifier] = e.payload
			}
		}
	}
	if clearPingLifetime {
		if err := d.ping.Delete(storage.Index{pingName}); err != nil {
			level.Error(d.log).Log("msg", "failed to clear ping lifetime data", "ping", pingName, "err", err)
		}
	}
	return result
}

// walk decodes every "<kind>/<identifier>[/<label>]" leaf under
// "<pingName>" in store, tolerating and dropping corrupt leaves exactly
// as GetMetric does.
func (d *Database) walk(store storage.Store, pingName string) []pingEntry {
	raw, ok := store.Get(storage.Index{pingName})
	if !ok {
		return nil
	}
	byKind, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	var entries []pingEntry
	kinds := sortedKeys(byKind)
	for _, kindStr := range kinds {
		byID, ok := byKind[kindStr].(map[string]any)
		if !ok {
			continue
		}

		isLabeled := false
		wrappedKind := kindStr
		if rest, found := strings.CutPrefix(kindStr, "labeled_"); found {
			isLabeled = true
			wrappedKind = rest
		}
		kind := metric.Kind(wrappedKind)
		codec := metric.CodecFor(kind)
		if codec == nil {
			continue
		}

		for _, id := range sortedKeys(byID) {
			if !isLabeled {
				internal, decodeOK := codec.Decode(byID[id])
				if !decodeOK {
					path := storage.Index{pingName, kindStr, id}
					if err := store.Delete(path); err != nil {
						level.Error(d.log).Log("msg", "failed to delete corrupt metric", "path", fmt.Sprint([]string(path)), "err", err)
					}
					continue
				}
				entries = append(entries, pingEntry{kind: kind, identifier: id, payload: codec.Payload(internal)})
				continue
			}

			labelMap, ok := byID[id].(map[string]any)
			if !ok {
				continue
			}
			for _, label := range sortedKeys(labelMap) {
				internal, decodeOK := codec.Decode(labelMap[label])
				if !decodeOK {
					path := storage.Index{pingName, kindStr, id, label}
					if err := store.Delete(path); err != nil {
						level.Error(d.log).Log("msg", "failed to delete corrupt metric", "path", fmt.Sprint([]string(path)), "err", err)
					}
					continue
				}
				entries = append(entries, pingEntry{
					kind: kind, identifier: id, label: label, isLabeled: true,
					payload: codec.Payload(internal),
				})
			}
		}
	}
	return entries
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear erases the indicated lifetime's data, optionally scoped to one
// ping. Clear(lifetime, "") erases the whole lifetime.
func (d *Database) Clear(lifetime metric.Lifetime, pingName string) error {
	store := d.storeFor(lifetime)
	if pingName == "" {
		return store.Delete(nil)
	}
	return store.Delete(storage.Index{pingName})
}

// ClearAll erases all three lifetimes.
func (d *Database) ClearAll() error {
	for _, lt := range []metric.Lifetime{metric.LifetimeUser, metric.LifetimePing, metric.LifetimeApplication} {
		if err := d.Clear(lt, ""); err != nil {
			return err
		}
	}
	return nil
}
