package fetch_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfreitas/tlc_ingest/internal/corpus"
	"github.com/mfreitas/tlc_ingest/internal/fetch"
	"github.com/mfreitas/tlc_ingest/internal/ingest"
	"github.com/mfreitas/tlc_ingest/internal/retry"
	"github.com/mfreitas/tlc_ingest/internal/staging"
)

var testDescriptor = corpus.Descriptor{Service: corpus.ServiceYellow, Year: 2023, Month: 1}

func fastPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func newTestArea(t *testing.T) (*staging.Area, afero.Fs) {
	t.Helper()

	fsys := afero.NewMemMapFs()
	area := staging.NewWithFs(fsys, "/staging")
	require.NoError(t, area.Ensure())

	return area, fsys
}

func TestFetchStagesSnapshot(t *testing.T) {
	body := strings.Repeat("parquet-bytes", 100)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/yellow_tripdata_2023-01.parquet", r.URL.Path)
		fmt.Fprint(w, body)
	}))
	defer ts.Close()

	area, fsys := newTestArea(t)
	client := fetch.New(fetch.Config{BaseURL: ts.URL, Retry: fastPolicy(3)}, area)

	info, err := client.Fetch(context.Background(), testDescriptor)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), info.Bytes)
	assert.Equal(t, 1, info.Attempts)

	staged, err := area.Contains(testDescriptor)
	require.NoError(t, err)
	assert.True(t, staged)

	got, err := afero.ReadFile(fsys, area.PathFor(testDescriptor))
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	leftover, err := afero.Exists(fsys, area.PathFor(testDescriptor)+".partial")
	require.NoError(t, err)
	assert.False(t, leftover, "partial should be gone after publish")
}

func TestFetchNotFound(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"plain 404", http.StatusNotFound},
		{"cdn 403 for absent key", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32

			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.statusCode)
			}))
			defer ts.Close()

			area, _ := newTestArea(t)
			client := fetch.New(fetch.Config{BaseURL: ts.URL, Retry: fastPolicy(3)}, area)

			info, err := client.Fetch(context.Background(), testDescriptor)
			require.Error(t, err)

			var notFound *ingest.NotFoundError
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, tt.statusCode, notFound.StatusCode)

			assert.Equal(t, 1, info.Attempts, "a missing snapshot must never be retried")
			assert.Equal(t, int32(1), hits.Load())

			staged, err := area.Contains(testDescriptor)
			require.NoError(t, err)
			assert.False(t, staged)
		})
	}
}

func TestFetchRetriesTransient(t *testing.T) {
	body := "late but intact"

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		fmt.Fprint(w, body)
	}))
	defer ts.Close()

	area, fsys := newTestArea(t)
	client := fetch.New(fetch.Config{BaseURL: ts.URL, Retry: fastPolicy(3)}, area)

	info, err := client.Fetch(context.Background(), testDescriptor)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Attempts)
	assert.Equal(t, int64(len(body)), info.Bytes)

	got, err := afero.ReadFile(fsys, area.PathFor(testDescriptor))
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestFetchExhaustsAttempts(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	area, _ := newTestArea(t)
	client := fetch.New(fetch.Config{BaseURL: ts.URL, Retry: fastPolicy(2)}, area)

	info, err := client.Fetch(context.Background(), testDescriptor)
	require.Error(t, err)

	var transient *ingest.TransientNetworkError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, http.StatusInternalServerError, transient.StatusCode)

	assert.Equal(t, 2, info.Attempts)
	assert.Equal(t, int32(2), hits.Load())

	staged, err := area.Contains(testDescriptor)
	require.NoError(t, err)
	assert.False(t, staged)
}

func TestFetchAttemptTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer ts.Close()

	area, _ := newTestArea(t)
	client := fetch.New(fetch.Config{
		BaseURL:        ts.URL,
		AttemptTimeout: 30 * time.Millisecond,
		Retry:          fastPolicy(1),
	}, area)

	info, err := client.Fetch(context.Background(), testDescriptor)
	require.Error(t, err)

	var timeout *ingest.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, ingest.FailureTimeout, ingest.ClassifyError(err))
	assert.Equal(t, 1, info.Attempts)
}

func TestFetchTruncatedBody(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Length", "100")
		fmt.Fprint(w, "only ten b")
	}))
	defer ts.Close()

	area, fsys := newTestArea(t)
	client := fetch.New(fetch.Config{BaseURL: ts.URL, Retry: fastPolicy(2)}, area)

	_, err := client.Fetch(context.Background(), testDescriptor)
	require.Error(t, err)
	assert.Equal(t, ingest.FailureTransient, ingest.ClassifyError(err))
	assert.Equal(t, int32(2), hits.Load(), "a cut-off body is worth another try")

	staged, err := area.Contains(testDescriptor)
	require.NoError(t, err)
	assert.False(t, staged, "a truncated snapshot must never be published")

	leftover, err := afero.Exists(fsys, area.PathFor(testDescriptor)+".partial")
	require.NoError(t, err)
	assert.False(t, leftover)
}

func TestFetchCancelledMidBody(t *testing.T) {
	started := make(chan struct{})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		fmt.Fprint(w, "first few bytes")
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer ts.Close()

	area, fsys := newTestArea(t)
	client := fetch.New(fetch.Config{BaseURL: ts.URL, Retry: fastPolicy(3)}, area)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	info, err := client.Fetch(ctx, testDescriptor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, ingest.FailureCancelled, ingest.ClassifyError(err))
	assert.Equal(t, 1, info.Attempts, "cancellation must not trigger a retry")

	staged, err := area.Contains(testDescriptor)
	require.NoError(t, err)
	assert.False(t, staged)

	leftover, err := afero.Exists(fsys, area.PathFor(testDescriptor)+".partial")
	require.NoError(t, err)
	assert.False(t, leftover, "partial must be discarded on cancellation")
}
