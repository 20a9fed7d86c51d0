package telemetry

import (
	"regexp"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/glean-go/telemetry/internal/ping"
	"github.com/glean-go/telemetry/internal/platform"
)

// Plugin observes every assembled envelope just before it is enqueued
// for upload — the "sequence of event-hook observers" named in §6's
// Configuration table.
type Plugin interface {
	OnPingSubmit(pingName string, envelope ping.Envelope)
}

// Config carries every recognized key from §6's Configuration table,
// plus the component overrides a production embedder supplies in place
// of the reference platform drivers (§6 "Reference platform drivers").
type Config struct {
	ServerEndpoint string
	Channel        string

	AppBuild          string
	AppDisplayVersion string
	BuildDate         string

	// MaxEvents is the event-queue size that triggers eager
	// events-ping submission.
	MaxEvents int

	LogPings     bool
	DebugViewTag string
	SourceTags   []string

	EnableAutoPageLoadEvents     bool
	EnableAutoElementClickEvents bool

	Plugins []Plugin

	// PingTypes is the static per-application ping registry (§3
	// Non-goals scope runtime-defined ping types out).
	PingTypes []ping.Type

	SDKBuild string

	StorageFactory platform.StorageFactory
	Uploader       platform.Uploader
	Clock          platform.Clock
	Logger         log.Logger
	Registerer     prometheus.Registerer

	UploadTimeout            time.Duration
	MaxPingsPerInterval      int
	RateLimiterInterval      time.Duration
	MaxRecoverableFailures   int
	MaxWaitAttempts          int
	BackoffBase              time.Duration
	BackoffCap               time.Duration
}

var debugTagPattern = regexp.MustCompile(`^[a-zA-Z0-9-]{1,20}$`)

const maxSourceTags = 5
