package request

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"takeforge/pkg/config"
	"takeforge/pkg/tracker"
)

func testClient(t *testing.T, retries int) (*Client, *tracker.Tracker) {
	t.Helper()
	tr := tracker.New()
	cfg := config.RequestConfig{
		Retries: retries,
		Timeout: config.Duration(5 * time.Second),
		Backoff: config.BackoffConfig{
			BaseDelay: config.Duration(10 * time.Millisecond),
			MaxDelay:  config.Duration(50 * time.Millisecond),
		},
	}
	return New(cfg, tr), tr
}

func TestPost_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	c, tr := testClient(t, 1)
	body, err := c.Post(context.Background(), srv.URL, []byte(`{}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(body))

	snap := tr.Snapshot()
	host := srv.Listener.Addr().String()
	assert.Equal(t, int64(1), snap[host].Success)
}

func TestPost_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, _ := testClient(t, 2)
	body, err := c.Post(context.Background(), srv.URL, nil, "application/json")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int64(2), calls.Load())
}

func TestPost_ClientErrorIsImmediate(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad key"))
	}))
	defer srv.Close()

	c, tr := testClient(t, 3)
	_, err := c.Post(context.Background(), srv.URL, nil, "application/json")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.Contains(t, string(statusErr.Body), "bad key")
	// No retry on auth errors.
	assert.Equal(t, int64(1), calls.Load())

	snap := tr.Snapshot()
	assert.Equal(t, int64(1), snap[srv.Listener.Addr().String()].Failure)
}

func TestPost_ExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := testClient(t, 1)
	_, err := c.Post(context.Background(), srv.URL, nil, "application/json")
	require.Error(t, err)

	var statusErr *StatusError
	assert.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
}

func TestGet_DefaultUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c, _ := testClient(t, 0)
	_, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, gotUA, "TakeForge/")
}

func TestEnqueue_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, _ := testClient(t, 0)
	_, err := c.Get(ctx, srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
}
