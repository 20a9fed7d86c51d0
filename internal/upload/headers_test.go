package upload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/glean-go/telemetry/internal/pingsdb"
)

func TestHeaderConfig_DefaultHeaders(t *testing.T) {
	fixed := time.Date(2026, 8, 2, 10, 30, 0, 0, time.UTC)
	cfg := HeaderConfig{SDKBuild: "telemetry-go/1.0", PlatformName: "linux", DebugViewTag: "my-debug", SourceTags: []string{"qa", "nightly"}}
	headers := cfg.DefaultHeaders(func() time.Time { return fixed })(pingsdb.Entry{})

	require.Equal(t, "application/json", headers["Content-Type"])
	require.Equal(t, "telemetry-go/1.0/linux", headers["X-Telemetry-Agent"])
	require.Equal(t, "my-debug", headers["X-Debug-ID"])
	require.Equal(t, "qa,nightly", headers["X-Source-Tags"])
	require.Contains(t, headers["Date"], "2026")
}

func TestHeaderConfig_OmitsOptionalHeadersWhenUnset(t *testing.T) {
	cfg := HeaderConfig{SDKBuild: "telemetry-go/1.0", PlatformName: "linux"}
	headers := cfg.DefaultHeaders(nil)(pingsdb.Entry{})

	_, hasDebug := headers["X-Debug-ID"]
	_, hasSource := headers["X-Source-Tags"]
	require.False(t, hasDebug)
	require.False(t, hasSource)
}
