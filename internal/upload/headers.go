package upload

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/glean-go/telemetry/internal/pingsdb"
)

// HeaderConfig carries the debug options that get folded into every
// outgoing request's headers (§6 Configuration table: debugViewTag,
// sourceTags).
type HeaderConfig struct {
	SDKBuild     string
	PlatformName string
	DebugViewTag string
	SourceTags   []string
}

// DefaultHeaders builds the required and optional headers named in
// §6's wire format: Content-Type, Date (RFC 7231), X-Telemetry-Agent,
// and, when configured, X-Debug-ID and X-Source-Tags.
func (c HeaderConfig) DefaultHeaders(now func() time.Time) HeadersFunc {
	return func(_ pingsdb.Entry) map[string]string {
		if now == nil {
			now = time.Now
		}
		headers := map[string]string{
			"Content-Type":      "application/json",
			"Date":              now().UTC().Format(http.TimeFormat),
			"X-Telemetry-Agent": fmt.Sprintf("%s/%s", c.SDKBuild, c.PlatformName),
		}
		if c.DebugViewTag != "" {
			headers["X-Debug-ID"] = c.DebugViewTag
		}
		if len(c.SourceTags) > 0 {
			headers["X-Source-Tags"] = strings.Join(c.SourceTags, ",")
		}
		return headers
	}
}
