// Package telemetry is the root of the client-side telemetry SDK: it
// wires the dispatcher, the typed metric store, the ping assembler, and
// the upload manager into one orchestrated lifecycle (§4.9/§5/§7).
package telemetry

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/glean-go/telemetry/internal/dispatch"
	"github.com/glean-go/telemetry/internal/errs"
	"github.com/glean-go/telemetry/internal/eventsdb"
	"github.com/glean-go/telemetry/internal/metric"
	"github.com/glean-go/telemetry/internal/metricsdb"
	"github.com/glean-go/telemetry/internal/obs"
	"github.com/glean-go/telemetry/internal/ping"
	"github.com/glean-go/telemetry/internal/pingsdb"
	"github.com/glean-go/telemetry/internal/platform"
	"github.com/glean-go/telemetry/internal/upload"
)

// KnownClientID is the sentinel client_id recorded whenever upload is
// disabled — a well-known, non-identifying value rather than an absent
// field, so a deletion-request's client_info section is always
// well-formed (§4.9).
const KnownClientID = "c0ffeec0-ffee-c0ff-eec0-ffeec0ffeec0"

// coreBucket is a synthetic ping name the core client_id/first_run_date
// identifiers are filed under. It satisfies metricsdb's upload
// allowlist (keyed on the bare identifier, not a ping name) while never
// being passed to GetPingMetrics, so it never surfaces in an actual
// envelope (§4.3/§4.9).
const coreBucket = "glean_core"

var deletionRequestPingType = ping.Type{
	Name:            "deletion-request",
	SchemaVersion:   1,
	SendIfEmpty:     true,
	IncludeClientID: true,
}

const (
	defaultUploadTimeout       = 10 * time.Second
	defaultRetryAfter          = 60 * time.Second
	defaultMaxPingsPerInterval = 15
	defaultRateLimiterInterval = time.Minute
)

// Telemetry is the orchestrated SDK instance. Build one with New and
// drive its lifecycle with Initialize/SetUploadEnabled/Shutdown.
type Telemetry struct {
	log    log.Logger
	cfg    Config
	stats  *obs.Stats
	regist prometheus.Registerer

	dispatcher *dispatch.Dispatcher
	metrics    *metricsdb.Database
	events     *eventsdb.Store
	pings      *pingsdb.Store
	assembler  *ping.Assembler
	uploadMgr  *upload.Manager
	errors     *errs.Manager

	pingTypes map[string]ping.Type

	mu            sync.Mutex
	initialized   bool
	applicationID string
	uploadEnabled bool

	headerMu  sync.Mutex
	headerCfg upload.HeaderConfig

	now func() time.Time
}

// New builds a Telemetry instance from cfg. It does not start anything;
// call Initialize to begin processing.
func New(cfg Config) (*Telemetry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := cfg.StorageFactory
	if factory == nil {
		factory = platform.NewMemoryStorageFactory()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = platform.NewSystemClock()
	}

	userStore, err := factory.Open("userLifetimeMetrics")
	if err != nil {
		return nil, fmt.Errorf("telemetry: opening user-lifetime metrics store: %w", err)
	}
	pingStore, err := factory.Open("pingLifetimeMetrics")
	if err != nil {
		return nil, fmt.Errorf("telemetry: opening ping-lifetime metrics store: %w", err)
	}
	appStore, err := factory.Open("appLifetimeMetrics")
	if err != nil {
		return nil, fmt.Errorf("telemetry: opening application-lifetime metrics store: %w", err)
	}
	eventsStore, err := factory.Open("events")
	if err != nil {
		return nil, fmt.Errorf("telemetry: opening events store: %w", err)
	}
	pendingStore, err := factory.Open("pendingPings")
	if err != nil {
		return nil, fmt.Errorf("telemetry: opening pending-pings store: %w", err)
	}
	lifecycleStore, err := factory.Open("pingLifecycle")
	if err != nil {
		return nil, fmt.Errorf("telemetry: opening ping lifecycle store: %w", err)
	}

	uploader := cfg.Uploader
	if uploader == nil {
		timeout := cfg.UploadTimeout
		if timeout <= 0 {
			timeout = defaultUploadTimeout
		}
		httpUploader, err := platform.NewHTTPUploader(timeout, defaultRetryAfter)
		if err != nil {
			return nil, fmt.Errorf("telemetry: building default uploader: %w", err)
		}
		uploader = endpointUploader{base: cfg.ServerEndpoint, inner: httpUploader}
	}

	maxPerInterval := cfg.MaxPingsPerInterval
	if maxPerInterval <= 0 {
		maxPerInterval = defaultMaxPingsPerInterval
	}
	interval := cfg.RateLimiterInterval
	if interval <= 0 {
		interval = defaultRateLimiterInterval
	}
	limiter := upload.NewRateLimiter(maxPerInterval, interval)

	db := metricsdb.New(userStore, pingStore, appStore, logger)
	errManager := errs.NewManager(db, logger)

	t := &Telemetry{
		log:    logger,
		cfg:    cfg,
		regist: registerer,
		metrics: db,
		pings:   pingsdb.New(pendingStore, logger),
		errors:  errManager,
		now:     time.Now,
		headerCfg: upload.HeaderConfig{
			SDKBuild:     cfg.SDKBuild,
			PlatformName: platform.HostInfo().OS,
			DebugViewTag: cfg.DebugViewTag,
			SourceTags:   append([]string(nil), cfg.SourceTags...),
		},
	}

	t.events = eventsdb.New(eventsStore, cfg.MaxEvents, func(pingName string) {
		t.SubmitPing(pingName, "max_capacity")
	}, logger)

	t.pingTypes = map[string]ping.Type{deletionRequestPingType.Name: deletionRequestPingType}
	for _, pt := range cfg.PingTypes {
		t.pingTypes[pt.Name] = pt
	}

	t.dispatcher = dispatch.New(dispatch.ModeAsync, logger, func() {
		level.Error(logger).Log("msg", "dispatcher shut down after init task failure")
	})

	t.assembler = &ping.Assembler{
		Log:           logger,
		Metrics:       db,
		Events:        t.events,
		Pings:         t.pings,
		Storage:       lifecycleStore,
		ApplicationID: "",
		ClientInfo:    t.buildClientInfo,
		NewDocumentID: func() string { return uuid.NewString() },
		Now:           t.now,
		PostSubmit:    t.postSubmit,
	}

	t.uploadMgr = upload.NewManager(logger, t.pings, uploader, clock, limiter, t.buildHeaders)
	if cfg.MaxRecoverableFailures > 0 {
		t.uploadMgr.MaxRecoverableFailures = cfg.MaxRecoverableFailures
	}
	if cfg.MaxWaitAttempts > 0 {
		t.uploadMgr.MaxWaitAttempts = cfg.MaxWaitAttempts
	}
	if cfg.BackoffBase > 0 {
		t.uploadMgr.BackoffBase = cfg.BackoffBase
	}
	if cfg.BackoffCap > 0 {
		t.uploadMgr.BackoffCap = cfg.BackoffCap
	}

	t.stats = obs.NewStats("telemetry", registerer)
	t.uploadMgr.OnResult = t.stats.ObserveUploadOutcome
	t.uploadMgr.OnDrop = func(pingName, reason string) {
		level.Warn(logger).Log("msg", "dropping pending ping", "ping", pingName, "reason", reason)
	}
	t.uploadMgr.OnThrottled = t.stats.ObserveThrottled
	t.dispatcher.OnPreInitDrop = t.stats.ObservePreInitDrop
	t.dispatcher.OnQueueDepthChanged = t.stats.ObserveQueueDepth

	return t, nil
}

// Recorder returns the collaborator bundle every typed metric kind
// needs to record through this instance.
func (t *Telemetry) Recorder() metric.Recorder {
	return metric.Recorder{Dispatcher: t.dispatcher, Store: t.metrics, Errors: t.errors}
}

// Initialize performs the SDK's one-time startup sequence (§4.9/§7):
// sanitizing applicationId, reconciling client_id/first_run_date
// against the (firstRun, uploadEnabled) state, draining the pre-init
// task queue, and starting the upload worker. It is idempotent — later
// calls are no-ops.
func (t *Telemetry) Initialize(applicationID string, uploadEnabled bool) error {
	t.mu.Lock()
	if t.initialized {
		t.mu.Unlock()
		return nil
	}
	t.initialized = true
	t.applicationID = sanitizeApplicationID(applicationID)
	t.uploadEnabled = uploadEnabled
	t.mu.Unlock()

	t.assembler.ApplicationID = t.applicationID
	t.metrics.SetUploadEnabled(uploadEnabled)

	_, hadFirstRun := t.metrics.GetMetric(coreBucket, coreMeta("first_run_date"))
	if !hadFirstRun {
		if err := t.metrics.Record(coreMeta("first_run_date"), formatDay(t.now())); err != nil {
			level.Error(t.log).Log("msg", "failed to record first_run_date", "err", err)
		}
	}

	clientID, hadClientID := t.metrics.GetMetric(coreBucket, coreMeta("client_id"))
	switch {
	case uploadEnabled && (!hadClientID || clientID == KnownClientID):
		if err := t.metrics.Record(coreMeta("client_id"), uuid.NewString()); err != nil {
			level.Error(t.log).Log("msg", "failed to record client_id", "err", err)
		}
	case !uploadEnabled:
		if err := t.metrics.Record(coreMeta("client_id"), KnownClientID); err != nil {
			level.Error(t.log).Log("msg", "failed to record client_id", "err", err)
		}
	}

	if uploadEnabled {
		if err := t.metrics.Clear(metric.LifetimeApplication, ""); err != nil {
			level.Error(t.log).Log("msg", "failed to clear application-lifetime metrics on startup", "err", err)
		}
	}

	pingNames := make([]string, 0, len(t.pingTypes))
	for name := range t.pingTypes {
		pingNames = append(pingNames, name)
	}
	t.events.Init(pingNames)

	if !uploadEnabled {
		if err := t.pings.Clear(); err != nil {
			level.Error(t.log).Log("msg", "failed to clear stale pending pings", "err", err)
		}
	}

	t.dispatcher.FlushInit()
	t.uploadMgr.Start(context.Background())
	return nil
}

// SetUploadEnabled toggles upload on or off, dispatched as a single
// serialized task so it never races an in-flight ping submission
// (§4.9 Lifecycle). Disabling submits a final deletion-request ping
// before clearing all locally stored data.
func (t *Telemetry) SetUploadEnabled(flag bool) {
	t.dispatcher.Task(func(ctx context.Context) error {
		t.mu.Lock()
		if t.uploadEnabled == flag {
			t.mu.Unlock()
			return nil
		}
		t.uploadEnabled = flag
		t.mu.Unlock()

		if flag {
			t.enableUpload()
		} else {
			t.disableUpload()
		}
		return nil
	})
}

// enableUpload re-opens the upload gate and mints a fresh client_id —
// re-enabling after a period of opting out must not resume under the
// identity a deletion-request already told the server to forget.
func (t *Telemetry) enableUpload() {
	t.metrics.SetUploadEnabled(true)
	if err := t.metrics.Record(coreMeta("client_id"), uuid.NewString()); err != nil {
		level.Error(t.log).Log("msg", "failed to mint client_id on re-enable", "err", err)
	}
}

// disableUpload submits a deletion-request under the about-to-be-
// discarded client_id, then wipes every locally stored metric, event,
// and pending ping except that one request (§4.9 Lifecycle).
func (t *Telemetry) disableUpload() {
	if err := t.pings.Clear(); err != nil {
		level.Error(t.log).Log("msg", "failed to clear pending pings before opt-out", "err", err)
	}

	documentID, err := t.assembler.Submit(deletionRequestPingType, "set_upload_enabled")
	if err != nil {
		level.Error(t.log).Log("msg", "failed to submit deletion-request ping", "err", err)
	}
	if documentID != "" {
		t.uploadMgr.Notify()
	}

	firstRunDate, _ := t.metrics.GetMetric(coreBucket, coreMeta("first_run_date"))

	t.metrics.SetUploadEnabled(false)
	if err := t.metrics.ClearAll(); err != nil {
		level.Error(t.log).Log("msg", "failed to clear metrics on opt-out", "err", err)
	}
	for name := range t.pingTypes {
		if err := t.events.Clear(name); err != nil {
			level.Error(t.log).Log("msg", "failed to clear events on opt-out", "ping", name, "err", err)
		}
	}

	if err := t.metrics.Record(coreMeta("client_id"), KnownClientID); err != nil {
		level.Error(t.log).Log("msg", "failed to reset client_id on opt-out", "err", err)
	}
	if date, ok := firstRunDate.(string); ok {
		if err := t.metrics.Record(coreMeta("first_run_date"), date); err != nil {
			level.Error(t.log).Log("msg", "failed to restore first_run_date on opt-out", "err", err)
		}
	}
}

// SetLogPings toggles whether every assembled envelope is logged at
// info level before being enqueued (§6 Configuration table).
func (t *Telemetry) SetLogPings(enabled bool) {
	t.dispatcher.Task(func(ctx context.Context) error {
		t.mu.Lock()
		t.cfg.LogPings = enabled
		t.mu.Unlock()
		return nil
	})
}

// SetDebugViewTag sets the X-Debug-ID header attached to every upload,
// routing pings to the debug viewer under tag. Reports whether tag was
// accepted; an invalid tag leaves the prior value in place.
func (t *Telemetry) SetDebugViewTag(tag string) bool {
	if tag != "" && !debugTagPattern.MatchString(tag) {
		level.Warn(t.log).Log("msg", "rejected invalid debug view tag", "tag", tag)
		return false
	}
	t.dispatcher.Task(func(ctx context.Context) error {
		t.headerMu.Lock()
		t.headerCfg.DebugViewTag = tag
		t.headerMu.Unlock()
		return nil
	})
	return true
}

// SetSourceTags sets the X-Source-Tags header attached to every upload.
// Reports whether tags was accepted.
func (t *Telemetry) SetSourceTags(tags []string) bool {
	if len(tags) > maxSourceTags {
		level.Warn(t.log).Log("msg", "rejected source tags: too many", "count", len(tags))
		return false
	}
	for _, tag := range tags {
		if !debugTagPattern.MatchString(tag) {
			level.Warn(t.log).Log("msg", "rejected source tags: invalid tag", "tag", tag)
			return false
		}
	}
	cp := append([]string(nil), tags...)
	t.dispatcher.Task(func(ctx context.Context) error {
		t.headerMu.Lock()
		t.headerCfg.SourceTags = cp
		t.headerMu.Unlock()
		return nil
	})
	return true
}

// SubmitPing assembles and enqueues pingName for upload, dispatched as
// a single serialized task (§4.5/§5). A no-op while upload is disabled,
// except for the internal deletion-request submission in
// disableUpload, which bypasses this path entirely.
func (t *Telemetry) SubmitPing(pingName, reason string) {
	t.dispatcher.Task(func(ctx context.Context) error {
		t.mu.Lock()
		enabled := t.uploadEnabled
		t.mu.Unlock()
		if !enabled {
			return nil
		}

		pingType, ok := t.pingTypes[pingName]
		if !ok {
			level.Warn(t.log).Log("msg", "submit requested for unregistered ping type", "ping", pingName)
			return nil
		}

		documentID, err := t.assembler.Submit(pingType, reason)
		if err != nil {
			return err
		}
		if documentID != "" {
			t.stats.PingsPending.Set(float64(t.pings.Len()))
			t.uploadMgr.Notify()
		}
		return nil
	})
}

// Shutdown blocks on any in-flight upload, stops the upload worker, and
// irreversibly shuts down the dispatcher (§4.9 Lifecycle).
func (t *Telemetry) Shutdown() {
	t.uploadMgr.BlockOnOngoingUploads()
	t.uploadMgr.Stop()
	t.dispatcher.Shutdown()
	t.stats.Unregister(t.regist)
}

func (t *Telemetry) buildClientInfo() ping.ClientInfo {
	clientID, _ := t.metrics.GetMetric(coreBucket, coreMeta("client_id"))
	firstRunDate, _ := t.metrics.GetMetric(coreBucket, coreMeta("first_run_date"))
	id, _ := clientID.(string)
	firstRun, _ := firstRunDate.(string)
	info := platform.HostInfo()

	return ping.ClientInfo{
		ClientID:      id,
		TelemetrySDK:  t.cfg.SDKBuild,
		ApplicationID: t.applicationID,
		AppChannel:    t.cfg.Channel,
		AppBuild:      t.cfg.AppBuild,
		AppDisplayVer: t.cfg.AppDisplayVersion,
		OS:            info.OS,
		Architecture:  info.Architecture,
		FirstRunDate:  firstRun,
	}
}

func (t *Telemetry) buildHeaders(entry pingsdb.Entry) map[string]string {
	t.headerMu.Lock()
	cfg := t.headerCfg
	t.headerMu.Unlock()
	return cfg.DefaultHeaders(t.now)(entry)
}

func (t *Telemetry) postSubmit(pingName string, envelope ping.Envelope) {
	t.mu.Lock()
	logPings := t.cfg.LogPings
	plugins := t.cfg.Plugins
	t.mu.Unlock()

	if logPings {
		level.Info(t.log).Log("msg", "assembled ping", "ping", pingName, "reason", envelope.PingInfo.Reason)
	}
	for _, p := range plugins {
		p.OnPingSubmit(pingName, envelope)
	}
}

func coreMeta(name string) metric.Metadata {
	return metric.Metadata{Name: name, Kind: metric.KindString, Lifetime: metric.LifetimeUser, SendInPings: []string{coreBucket}}
}

func formatDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

var applicationIDSanitizer = regexp.MustCompile(`[^a-z0-9_-]+`)

// sanitizeApplicationID normalizes a host-supplied applicationId into
// the lowercase, hyphen-separated, length-bounded form used in upload
// paths and in client_info's app_id (§6).
func sanitizeApplicationID(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	cleaned := applicationIDSanitizer.ReplaceAllString(lower, "-")
	cleaned = strings.Trim(cleaned, "-")
	if len(cleaned) > 100 {
		cleaned = cleaned[:100]
	}
	if cleaned == "" {
		cleaned = "unknown-application"
	}
	return cleaned
}

// endpointUploader adapts a platform.Uploader whose Post expects an
// absolute URL to the pings database's relative upload paths, by
// joining a fixed server endpoint in front of every request.
type endpointUploader struct {
	base  string
	inner platform.Uploader
}

func (e endpointUploader) Post(path string, body []byte, headers map[string]string) platform.UploadResult {
	return e.inner.Post(strings.TrimRight(e.base, "/")+path, body, headers)
}
