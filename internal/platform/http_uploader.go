package platform

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/common/config"
)

// HTTPUploader is the reference Uploader implementation: an
// *http.Client built via prometheus/common/config.NewClientFromConfig,
// grounded on the teacher's newLoop client construction and send's
// header assembly / status-code interpretation (§6).
type HTTPUploader struct {
	client            *http.Client
	defaultRetryAfter time.Duration
}

// NewHTTPUploader builds an HTTPUploader with the given request timeout
// and default recoverable-failure backoff (used when a 5xx/429 response
// carries no parseable Retry-After header).
func NewHTTPUploader(timeout, defaultRetryAfter time.Duration) (*HTTPUploader, error) {
	cfg := config.HTTPClientConfig{}
	client, err := config.NewClientFromConfig(cfg, "telemetry_upload")
	if err != nil {
		return nil, err
	}
	client.Timeout = timeout
	return &HTTPUploader{client: client, defaultRetryAfter: defaultRetryAfter}, nil
}

// Post implements Uploader.
func (u *HTTPUploader) Post(url string, body []byte, headers map[string]string) UploadResult {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return UploadResult{Status: StatusRecoverableFailure}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return UploadResult{Status: StatusRecoverableFailure, RetryAfter: u.defaultRetryAfter}
	}
	defer resp.Body.Close()
	// Drain and discard; bodies on submission endpoints carry no data we
	// use, but they must still be read to let the connection be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode/100 == 2:
		return UploadResult{Status: StatusSuccess, Code: resp.StatusCode}
	case resp.StatusCode/100 == 5 || resp.StatusCode == http.StatusTooManyRequests:
		return UploadResult{
			Status:     StatusHTTPStatus,
			Code:       resp.StatusCode,
			RetryAfter: retryAfterDuration(u.defaultRetryAfter, resp.Header.Get("Retry-After")),
		}
	default:
		return UploadResult{Status: StatusHTTPStatus, Code: resp.StatusCode}
	}
}

// retryAfterDuration parses an HTTP Retry-After header (either
// delta-seconds or an HTTP-date per RFC 7231), falling back to def when
// absent or unparseable.
func retryAfterDuration(def time.Duration, header string) time.Duration {
	if header == "" {
		return def
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
