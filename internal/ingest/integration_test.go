package ingest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
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

// snapshotServer fakes the publisher CDN: every known path serves a body
// derived from its name, missing paths 404 and broken paths 500. It records
// which paths were requested.
type snapshotServer struct {
	*httptest.Server

	mu      sync.Mutex
	hits    map[string]int
	missing map[string]bool
	broken  map[string]bool
}

func newSnapshotServer(t *testing.T) *snapshotServer {
	t.Helper()

	s := &snapshotServer{
		hits:    make(map[string]int),
		missing: make(map[string]bool),
		broken:  make(map[string]bool),
	}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")

		s.mu.Lock()
		s.hits[name]++
		missing := s.missing[name]
		broken := s.broken[name]
		s.mu.Unlock()

		switch {
		case missing:
			w.WriteHeader(http.StatusNotFound)
		case broken:
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Write([]byte("content of " + name))
		}
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *snapshotServer) hitsFor(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hits[name]
}

func newIngestStack(t *testing.T, baseURL string, maxAttempts int) (*ingest.Runner, *staging.Area, afero.Fs) {
	t.Helper()

	fsys := afero.NewMemMapFs()
	area := staging.NewWithFs(fsys, "/staging")
	require.NoError(t, area.Ensure())

	client := fetch.New(fetch.Config{
		BaseURL: baseURL,
		Retry: retry.Policy{
			MaxAttempts:    maxAttempts,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
	}, area)

	return ingest.NewRunner(area, client, 2), area, fsys
}

func smallGrid(t *testing.T) corpus.Grid {
	t.Helper()

	g := corpus.Grid{
		Services:  []corpus.Service{corpus.ServiceYellow, corpus.ServiceGreen},
		FromYear:  2023,
		ToYear:    2023,
		FromMonth: 1,
		ToMonth:   2,
	}
	require.NoError(t, g.Validate())

	return g
}

func TestBackfillFromEmpty(t *testing.T) {
	srv := newSnapshotServer(t)
	runner, area, _ := newIngestStack(t, srv.URL, 3)
	grid := smallGrid(t)

	summary, err := runner.Run(context.Background(), grid)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Planned)
	assert.Equal(t, 4, summary.Succeeded)
	assert.True(t, summary.Ok())

	var wantBytes int64
	for d := range grid.All() {
		staged, err := area.Contains(d)
		require.NoError(t, err)
		assert.True(t, staged, "%s should be staged", d)

		wantBytes += int64(len("content of " + d.FileName()))
	}

	assert.Equal(t, wantBytes, summary.BytesFetched)
}

func TestIncrementalTopUp(t *testing.T) {
	srv := newSnapshotServer(t)
	runner, area, fsys := newIngestStack(t, srv.URL, 3)
	grid := smallGrid(t)

	stagedAlready := []corpus.Descriptor{
		{Service: corpus.ServiceYellow, Year: 2023, Month: 1},
		{Service: corpus.ServiceGreen, Year: 2023, Month: 1},
	}
	for _, d := range stagedAlready {
		pf, err := area.Start(d)
		require.NoError(t, err)
		_, err = pf.Write([]byte("from an earlier run"))
		require.NoError(t, err)
		require.NoError(t, pf.Commit())
	}

	summary, err := runner.Run(context.Background(), grid)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 2, summary.Succeeded)
	assert.True(t, summary.Ok())

	for _, d := range stagedAlready {
		assert.Zero(t, srv.hitsFor(d.FileName()), "%s is staged and must not be refetched", d)

		got, err := afero.ReadFile(fsys, area.PathFor(d))
		require.NoError(t, err)
		assert.Equal(t, "from an earlier run", string(got), "a staged snapshot is never rewritten")
	}
}

func TestPartialFailureRun(t *testing.T) {
	srv := newSnapshotServer(t)
	runner, area, _ := newIngestStack(t, srv.URL, 2)
	grid := smallGrid(t)

	hole := corpus.Descriptor{Service: corpus.ServiceYellow, Year: 2023, Month: 2}
	flaky := corpus.Descriptor{Service: corpus.ServiceGreen, Year: 2023, Month: 1}

	srv.missing[hole.FileName()] = true
	srv.broken[flaky.FileName()] = true

	summary, err := runner.Run(context.Background(), grid)
	require.NoError(t, err, "failures settle inside the summary, not as a run error")

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.False(t, summary.Ok())

	require.Len(t, summary.Failures, 2)

	// Deterministic order: sorted by file name.
	first, second := summary.Failures[0], summary.Failures[1]
	assert.Equal(t, flaky, first.Descriptor)
	assert.Equal(t, ingest.FailureTransient, first.Class)
	assert.Equal(t, 2, first.Attempts, "transient failures retry up to the attempt budget")

	assert.Equal(t, hole, second.Descriptor)
	assert.Equal(t, ingest.FailureNotFound, second.Class)
	assert.Equal(t, 1, second.Attempts, "a hole in the corpus is never retried")

	assert.Equal(t, 1, srv.hitsFor(hole.FileName()))
	assert.Equal(t, 2, srv.hitsFor(flaky.FileName()))

	for _, d := range []corpus.Descriptor{hole, flaky} {
		staged, err := area.Contains(d)
		require.NoError(t, err)
		assert.False(t, staged, "failed snapshots must not appear staged")
	}
}
