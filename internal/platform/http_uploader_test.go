package platform

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPUploader_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := NewHTTPUploader(5*time.Second, 15*time.Second)
	require.NoError(t, err)

	result := u.Post(srv.URL, []byte(`{}`), map[string]string{"Content-Type": "application/json"})
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, http.StatusOK, result.Code)
}

func TestHTTPUploader_ServerErrorIsRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	u, err := NewHTTPUploader(5*time.Second, 15*time.Second)
	require.NoError(t, err)

	result := u.Post(srv.URL, []byte(`{}`), nil)
	require.Equal(t, StatusHTTPStatus, result.Status)
	require.Equal(t, http.StatusServiceUnavailable, result.Code)
	require.Equal(t, 2*time.Second, result.RetryAfter)
}

func TestHTTPUploader_ClientErrorIsUnrecoverable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	u, err := NewHTTPUploader(5*time.Second, 15*time.Second)
	require.NoError(t, err)

	result := u.Post(srv.URL, []byte(`{}`), nil)
	require.Equal(t, StatusHTTPStatus, result.Status)
	require.Equal(t, http.StatusBadRequest, result.Code)
}

func TestHTTPUploader_NetworkErrorIsRecoverable(t *testing.T) {
	u, err := NewHTTPUploader(1*time.Second, 15*time.Second)
	require.NoError(t, err)

	result := u.Post("http://127.0.0.1:0/unreachable", []byte(`{}`), nil)
	require.Equal(t, StatusRecoverableFailure, result.Status)
}
