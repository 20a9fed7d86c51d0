// Package platform supplies the reference embedder-facing drivers this
// module ships as fallbacks: a storage factory, an HTTP uploader, a
// system clock, and host platform info (§6). Embedders are expected to
// supply their own storage/upload drivers in production; these exist so
// the SDK is usable standalone and so the test suite has something real
// to drive against.
package platform

import (
	"time"

	"github.com/glean-go/telemetry/internal/storage"
)

// UploadStatus is the closed set of outcomes an Uploader can report for
// one submission attempt (§4.7/§6).
type UploadStatus int

const (
	// StatusSuccess means the platform accepted the ping (2xx).
	StatusSuccess UploadStatus = iota
	// StatusRecoverableFailure means the attempt failed for a reason
	// that may succeed on retry (network error, timeout) without any
	// HTTP status code being available.
	StatusRecoverableFailure
	// StatusHTTPStatus means the platform responded with a non-2xx
	// status code, recorded in UploadResult.Code.
	StatusHTTPStatus
	// StatusDone tells the worker loop to stop processing this ping
	// without touching it again this session (§4.7 step 4).
	StatusDone
)

// UploadResult is the uploader contract's return value (§6).
type UploadResult struct {
	Status UploadStatus
	Code   int // HTTP status code of the response, when one was received (zero otherwise)
	// RetryAfter is an optional server-suggested backoff, parsed from a
	// Retry-After response header when present.
	RetryAfter time.Duration
}

// Uploader is implemented by any platform's HTTP transport: post(url,
// body, headers) -> UploadResult (§6).
type Uploader interface {
	Post(url string, body []byte, headers map[string]string) UploadResult
}

// Clock abstracts time so the upload manager's worker-loop waits (poll,
// rate-limit wait, retry backoff) never use the time package's timers
// directly, matching the teacher's injectable *time.Ticker fields (§6).
// The dispatcher has no time-based waits and takes no Clock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is the minimal facade over *time.Timer needed by callers that
// must also be able to stop/drain it deterministically in tests.
type Timer interface {
	Chan() <-chan time.Time
	Stop() bool
}

// Info describes the host platform embedded in every ping's client_info
// section (§3/§6).
type Info struct {
	OS           string
	Architecture string
}

// StorageFactory opens the named storage.Store root a database lives
// under (metrics, events, pings), letting an embedder swap in a durable
// on-disk implementation without the rest of the SDK caring (§6).
type StorageFactory interface {
	Open(name string) (storage.Store, error)
}
