package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/glean-go/telemetry/internal/metric"
	"github.com/glean-go/telemetry/internal/ping"
	"github.com/glean-go/telemetry/internal/platform"
)

// nopUploader reports StatusDone for every attempt, so the upload
// manager leaves entries queued rather than racing test assertions
// that inspect the pending-ping queue.
type nopUploader struct{}

func (nopUploader) Post(string, []byte, map[string]string) platform.UploadResult {
	return platform.UploadResult{Status: platform.StatusDone}
}

func newTestTelemetry(t *testing.T) *Telemetry {
	t.Helper()
	tel, err := New(Config{
		SDKBuild:   "test-build",
		Uploader:   nopUploader{},
		Registerer: prometheus.NewRegistry(),
		PingTypes: []ping.Type{
			{Name: "baseline", SchemaVersion: 1, SendIfEmpty: true, IncludeClientID: true},
		},
	})
	require.NoError(t, err)
	return tel
}

// drain blocks until every task already dispatched has run, exploiting
// the dispatcher's strict FIFO ordering.
func drain(t *testing.T, tel *Telemetry) {
	t.Helper()
	<-tel.dispatcher.TestTask(func(ctx context.Context) error { return nil })
}

func TestNew_BuildsWithDefaults(t *testing.T) {
	tel, err := New(Config{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	require.NotNil(t, tel)
}

func TestSanitizeApplicationID(t *testing.T) {
	cases := map[string]string{
		"My Cool App!":       "my-cool-app",
		"already-lower":      "already-lower",
		"":                   "unknown-application",
		"UPPER_CASE_ok":      "upper_case_ok",
		"---leading-trimmed": "leading-trimmed",
	}
	for in, want := range cases {
		got := sanitizeApplicationID(in)
		require.Equal(t, want, got, "input %q", in)
	}
}

func TestInitialize_GeneratesClientIDWhenUploadEnabled(t *testing.T) {
	tel := newTestTelemetry(t)
	require.NoError(t, tel.Initialize("My App", true))

	info := tel.buildClientInfo()
	require.Equal(t, "my-app", info.ApplicationID)
	require.Regexp(t, `^[0-9a-fA-F-]{36}$`, info.ClientID)
	require.NotEqual(t, KnownClientID, info.ClientID)
	require.NotEmpty(t, info.FirstRunDate)
}

func TestInitialize_UsesKnownClientIDWhenUploadDisabled(t *testing.T) {
	tel := newTestTelemetry(t)
	require.NoError(t, tel.Initialize("My App", false))

	info := tel.buildClientInfo()
	require.Equal(t, KnownClientID, info.ClientID)
}

func TestInitialize_IsIdempotent(t *testing.T) {
	tel := newTestTelemetry(t)
	require.NoError(t, tel.Initialize("first-app", true))
	firstInfo := tel.buildClientInfo()

	require.NoError(t, tel.Initialize("second-app", false))
	secondInfo := tel.buildClientInfo()

	require.Equal(t, firstInfo.ApplicationID, secondInfo.ApplicationID)
	require.Equal(t, firstInfo.ClientID, secondInfo.ClientID)
}

func TestSubmitPing_EnqueuesPing(t *testing.T) {
	tel := newTestTelemetry(t)
	require.NoError(t, tel.Initialize("app", true))

	tel.SubmitPing("baseline", "test")
	drain(t, tel)

	require.Equal(t, 1, tel.pings.Len())
}

func TestSubmitPing_NoOpWhenUploadDisabled(t *testing.T) {
	tel := newTestTelemetry(t)
	require.NoError(t, tel.Initialize("app", false))

	tel.SubmitPing("baseline", "test")
	drain(t, tel)

	require.Equal(t, 0, tel.pings.Len())
}

func TestSetUploadEnabled_DisableSubmitsDeletionRequestAndClearsMetrics(t *testing.T) {
	tel := newTestTelemetry(t)
	require.NoError(t, tel.Initialize("app", true))

	str := metric.String{
		Metadata: metric.Metadata{Category: "ui", Name: "label", Kind: metric.KindString, Lifetime: metric.LifetimeApplication, SendInPings: []string{"baseline"}},
		Recorder: tel.Recorder(),
	}
	str.Set("hello")
	drain(t, tel)
	require.NotEmpty(t, tel.metrics.GetPingMetrics("baseline", false))

	tel.SetUploadEnabled(false)
	drain(t, tel)

	require.Empty(t, tel.metrics.GetPingMetrics("baseline", false))
	require.Equal(t, 1, tel.pings.Len(), "deletion-request should be the sole queued ping")
	entry, ok := tel.pings.Peek()
	require.True(t, ok)
	require.Equal(t, "deletion-request", entry.PingName)

	info := tel.buildClientInfo()
	require.Equal(t, KnownClientID, info.ClientID)
}

func TestSetUploadEnabled_ReEnableMintsFreshClientID(t *testing.T) {
	tel := newTestTelemetry(t)
	require.NoError(t, tel.Initialize("app", false))
	disabledInfo := tel.buildClientInfo()
	require.Equal(t, KnownClientID, disabledInfo.ClientID)

	tel.SetUploadEnabled(true)
	drain(t, tel)

	enabledInfo := tel.buildClientInfo()
	require.NotEqual(t, KnownClientID, enabledInfo.ClientID)
	require.Regexp(t, `^[0-9a-fA-F-]{36}$`, enabledInfo.ClientID)
}

func TestSetDebugViewTag_RejectsInvalidTag(t *testing.T) {
	tel := newTestTelemetry(t)
	require.True(t, tel.SetDebugViewTag("valid-tag-123"))
	require.False(t, tel.SetDebugViewTag("has spaces"))
}

func TestSetSourceTags_RejectsTooMany(t *testing.T) {
	tel := newTestTelemetry(t)
	require.True(t, tel.SetSourceTags([]string{"a", "b"}))
	require.False(t, tel.SetSourceTags([]string{"a", "b", "c", "d", "e", "f"}))
}

func TestSetSourceTags_RejectsInvalidTag(t *testing.T) {
	tel := newTestTelemetry(t)
	require.False(t, tel.SetSourceTags([]string{"bad tag!"}))
}

// TestInitialize_ClearsApplicationLifetimeAcrossRestart simulates a
// process restart by constructing two independent Telemetry instances
// against the same durable FileStorageFactory directory. Application-
// lifetime data must not survive the second Initialize, while user-
// lifetime data (client_id) must.
func TestInitialize_ClearsApplicationLifetimeAcrossRestart(t *testing.T) {
	factory := platform.NewFileStorageFactory(t.TempDir())

	first, err := New(Config{
		Uploader:       nopUploader{},
		Registerer:     prometheus.NewRegistry(),
		StorageFactory: factory,
		PingTypes: []ping.Type{
			{Name: "baseline", SchemaVersion: 1, SendIfEmpty: true, IncludeClientID: true},
		},
	})
	require.NoError(t, err)
	require.NoError(t, first.Initialize("app", true))

	str := metric.String{
		Metadata: metric.Metadata{Category: "ui", Name: "label", Kind: metric.KindString, Lifetime: metric.LifetimeApplication, SendInPings: []string{"baseline"}},
		Recorder: first.Recorder(),
	}
	str.Set("session-one")
	drain(t, first)
	require.NotEmpty(t, first.metrics.GetPingMetrics("baseline", false))
	firstClientID := first.buildClientInfo().ClientID
	require.NotEqual(t, KnownClientID, firstClientID)

	first.Shutdown()

	second, err := New(Config{
		Uploader:       nopUploader{},
		Registerer:     prometheus.NewRegistry(),
		StorageFactory: factory,
		PingTypes: []ping.Type{
			{Name: "baseline", SchemaVersion: 1, SendIfEmpty: true, IncludeClientID: true},
		},
	})
	require.NoError(t, err)
	require.NoError(t, second.Initialize("app", true))

	require.Empty(t, second.metrics.GetPingMetrics("baseline", false), "application-lifetime metric must not survive a restart")
	require.Equal(t, firstClientID, second.buildClientInfo().ClientID, "user-lifetime client_id must survive a restart")

	second.Shutdown()
}
