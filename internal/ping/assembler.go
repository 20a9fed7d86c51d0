// Package ping implements the ping assembler: snapshotting metrics and
// events into a canonical wire envelope, annotating it with client and
// sequence information, and handing it to the pings database (§4.5).
package ping

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/glean-go/telemetry/internal/eventsdb"
	"github.com/glean-go/telemetry/internal/metric"
	"github.com/glean-go/telemetry/internal/metricsdb"
	"github.com/glean-go/telemetry/internal/pingsdb"
	"github.com/glean-go/telemetry/internal/storage"
)

// ClientInfo is the client_info section shared across every envelope.
type ClientInfo struct {
	ClientID      string `json:"client_id,omitempty"`
	TelemetrySDK  string `json:"telemetry_sdk_build"`
	ApplicationID string `json:"app_id"`
	AppChannel    string `json:"app_channel,omitempty"`
	AppBuild      string `json:"app_build,omitempty"`
	AppDisplayVer string `json:"app_display_version,omitempty"`
	OS            string `json:"os"`
	Architecture  string `json:"architecture"`
	FirstRunDate  string `json:"first_run_date,omitempty"`
}

// Info holds ping-info section data.
type Info struct {
	Seq       int64  `json:"seq"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason,omitempty"`
}

// Envelope is the canonical wire shape of an assembled ping (§3).
type Envelope struct {
	ClientInfo ClientInfo                `json:"client_info"`
	PingInfo   Info                      `json:"ping_info"`
	Metrics    map[string]map[string]any `json:"metrics,omitempty"`
	Events     []eventsdb.Record         `json:"events,omitempty"`
}

// Type describes one ping's submission policy, set up from configuration
// at registration time (§6's Configuration table / §3 Non-goals scope
// this to a static per-application registry rather than runtime-defined
// ping types).
type Type struct {
	Name            string
	SchemaVersion   int
	SendIfEmpty     bool
	IncludeClientID bool
	// ClearApplicationLifetime, if set, also erases this application's
	// application-lifetime metrics on every submission of this ping type
	// (§3 — ping-lifetime data is always cleared on submission regardless
	// of this flag).
	ClearApplicationLifetime bool
}

// PostHook is invoked with the assembled envelope just before it is
// handed to the pings database — the plugin seam named in §6.
type PostHook func(pingName string, envelope Envelope)

// Assembler snapshots metrics/events for a ping type and persists the
// result to the pings database.
type Assembler struct {
	Log           log.Logger
	Metrics       *metricsdb.Database
	Events        *eventsdb.Store
	Pings         *pingsdb.Store
	Storage       storage.Store // ping-info sub-store (user lifetime)
	ApplicationID string
	ClientInfo    func() ClientInfo
	NewDocumentID func() string
	Now           func() time.Time
	PostSubmit    PostHook
}

const pingInfoRoot = "pingInfo"

type sequenceState struct {
	Seq       int64  `json:"seq"`
	StartTime string `json:"start_time"`
}

// Submit assembles and enqueues pingType, returning the document ID of
// the enqueued ping, or ("", nil) if the ping was empty and not
// sendIfEmpty.
func (a *Assembler) Submit(pingType Type, reason string) (string, error) {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	nowTime := now()

	seq, startTime, err := a.advanceSequence(pingType.Name, nowTime)
	if err != nil {
		return "", err
	}

	// Ping-lifetime metrics are always cleared on submission (§3); only
	// application-lifetime clearing is opt-in per ping type.
	metricsSnapshot := a.Metrics.GetPingMetrics(pingType.Name, true)
	eventsSnapshot := a.Events.Events(pingType.Name)

	if len(metricsSnapshot) == 0 && len(eventsSnapshot) == 0 && !pingType.SendIfEmpty {
		return "", nil
	}

	if pingType.ClearApplicationLifetime {
		if err := a.Metrics.Clear(metric.LifetimeApplication, pingType.Name); err != nil {
			level.Error(a.Log).Log("msg", "failed to clear application-lifetime metrics", "ping", pingType.Name, "err", err)
		}
	}

	info := a.ClientInfo()
	if !pingType.IncludeClientID {
		info.ClientID = ""
	}

	envelope := Envelope{
		ClientInfo: info,
		PingInfo: Info{
			Seq:       seq,
			StartTime: startTime,
			EndTime:   formatMinutePrecision(nowTime),
			Reason:    reason,
		},
		Metrics: metricsSnapshot,
		Events:  eventsSnapshot,
	}

	if a.PostSubmit != nil {
		a.PostSubmit(pingType.Name, envelope)
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		level.Error(a.Log).Log("msg", "failed to marshal ping envelope", "ping", pingType.Name, "err", err)
		return "", err
	}

	documentID := a.NewDocumentID()
	uploadPath := fmt.Sprintf("/submit/%s/%s/%d/%s", a.ApplicationID, pingType.Name, pingType.SchemaVersion, documentID)

	if _, err := a.Pings.Enqueue(pingType.Name, documentID, uploadPath, body); err != nil {
		level.Error(a.Log).Log("msg", "failed to enqueue assembled ping", "ping", pingType.Name, "err", err)
		return "", err
	}

	if err := a.Events.Clear(pingType.Name); err != nil {
		level.Error(a.Log).Log("msg", "failed to clear events after submission", "ping", pingType.Name, "err", err)
	}

	return documentID, nil
}

// advanceSequence loads and increments the ping's sequence counter,
// returning the seq and start_time to use for *this* submission, and
// persisting end_time as the next submission's start_time.
func (a *Assembler) advanceSequence(pingName string, nowTime time.Time) (seq int64, startTime string, err error) {
	path := storage.Index{pingInfoRoot, pingName}
	err = a.Storage.Update(path, func(current any) (any, error) {
		state := decodeSequenceState(current)
		seq = state.Seq
		startTime = state.StartTime
		if startTime == "" {
			startTime = formatMinutePrecision(processStart)
		}
		next := sequenceState{Seq: seq + 1, StartTime: formatMinutePrecision(nowTime)}
		return next, nil
	})
	return seq, startTime, err
}

// processStart is the instant the assembler was loaded; it stands in
// for "process start time" as the origin of a ping's first start_time
// (§4.5).
var processStart = time.Now()

func formatMinutePrecision(t time.Time) string {
	_, offsetSeconds := t.Zone()
	sign := "+"
	off := offsetSeconds
	if off < 0 {
		sign = "-"
		off = -off
	}
	return fmt.Sprintf("%s%s%02d:%02d", t.Format("2006-01-02T15:04"), sign, off/3600, (off%3600)/60)
}

// decodeSequenceState tolerates both representations current can arrive
// in: the struct itself (fresh, still in a MemoryStore) or a
// map[string]any (reloaded from a JSON-backed store). A value that
// matches neither is treated as absent rather than erroring — the
// sequence simply restarts, matching the storage adapter's general
// tolerance for corrupt or unexpected leaves (§4.2).
func decodeSequenceState(current any) sequenceState {
	switch v := current.(type) {
	case sequenceState:
		return v
	case map[string]any:
		seq, _ := v["seq"].(float64)
		startTime, _ := v["start_time"].(string)
		return sequenceState{Seq: int64(seq), StartTime: startTime}
	default:
		return sequenceState{}
	}
}
