// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/internal/testutil"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

func testConfig(overrideDir string) types.AcquisitionConfig {
	return types.AcquisitionConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   10 * time.Second,
			UserAgent: "proceedings-engine-test/0.1",
		},
		Workers:     2,
		OverrideDir: overrideDir,
	}
}

func acceptAll(string) (int, bool, error) { return 4, false, nil }

// newPDFServer serves a valid PDF under /pdf/, an empty body under /empty/,
// an HTML page under /html/, and 404 elsewhere.
func newPDFServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	pdf := testutil.MinimalPDF("A gestural controller")
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		switch {
		case strings.HasPrefix(r.URL.Path, "/pdf/"):
			w.Header().Set("Content-Type", "application/pdf")
			w.Write(pdf)
		case strings.HasPrefix(r.URL.Path, "/empty/"):
			w.Header().Set("Content-Type", "application/pdf")
		case strings.HasPrefix(r.URL.Path, "/html/"):
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html>landing page</html>"))
		default:
			http.NotFound(w, r)
		}
	}))
}

func newFetcher(t *testing.T, ts *httptest.Server, overrideDir string) *Fetcher {
	t.Helper()
	store, err := cache.Open(t.TempDir())
	require.NoError(t, err)
	return &Fetcher{Client: ts.Client(), Store: store, Config: testConfig(overrideDir)}
}

func TestFetchPaper_Download(t *testing.T) {
	ts := newPDFServer(t, nil)
	defer ts.Close()
	f := newFetcher(t, ts, "")

	res := f.FetchPaper(context.Background(), types.BibEntry{ID: "nime2014_3", URL: ts.URL + "/pdf/nime2014_003.pdf"})
	require.NoError(t, res.Err)
	assert.Equal(t, OriginDownload, res.Origin)
	assert.Equal(t, 1, res.Pages)
	assert.Len(t, res.Hash, 64)
	assert.True(t, f.Store.Exists("nime2014_3", cache.KindPDF))
}

func TestFetchPaper_CachedSkipsNetwork(t *testing.T) {
	var hits int32
	ts := newPDFServer(t, &hits)
	defer ts.Close()
	f := newFetcher(t, ts, "")
	f.Validator = acceptAll

	require.NoError(t, f.Store.Write("p", cache.KindPDF, []byte("%PDF-1.4 cached")))
	res := f.FetchPaper(context.Background(), types.BibEntry{ID: "p", URL: ts.URL + "/pdf/p.pdf"})
	require.NoError(t, res.Err)
	assert.Equal(t, OriginCached, res.Origin)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestFetchPaper_Failures(t *testing.T) {
	ts := newPDFServer(t, nil)
	defer ts.Close()

	tests := []struct {
		name string
		url  string
	}{
		{"zero-byte download", "/empty/b.pdf"},
		{"HTML instead of PDF", "/html/b.pdf"},
		{"HTTP 404", "/missing/b.pdf"},
		{"no URL", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFetcher(t, ts, "")
			entry := types.BibEntry{ID: "b"}
			if tt.url != "" {
				entry.URL = ts.URL + tt.url
			}

			res := f.FetchPaper(context.Background(), entry)
			require.Error(t, res.Err)
			assert.ErrorIs(t, res.Err, types.ErrFetchFailure)

			var se *types.StageError
			require.True(t, errors.As(res.Err, &se))
			assert.Equal(t, "b", se.PaperID)
			assert.False(t, f.Store.Exists("b", cache.KindPDF), "nothing cached on failure")
		})
	}
}

func TestFetchPaper_MalformedPDFIsPurged(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4\nthis is not really a pdf\n"))
	}))
	defer ts.Close()
	f := newFetcher(t, ts, "")

	res := f.FetchPaper(context.Background(), types.BibEntry{ID: "bad", URL: ts.URL + "/bad.pdf"})
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, types.ErrFetchFailure)
	assert.False(t, f.Store.Exists("bad", cache.KindPDF))
}

func TestFetchPaper_ValidatesBeforeCaching(t *testing.T) {
	ts := newPDFServer(t, nil)
	defer ts.Close()
	f := newFetcher(t, ts, "")
	dst := f.Store.Path("v", cache.KindPDF)

	var checked string
	f.Validator = func(path string) (int, bool, error) {
		checked = path
		assert.NotEqual(t, dst, path)
		assert.FileExists(t, path)
		assert.NoFileExists(t, dst, "nothing visible in the cache before validation")
		return 7, true, nil
	}
	res := f.FetchPaper(context.Background(), types.BibEntry{ID: "v", URL: ts.URL + "/pdf/v.pdf"})
	require.NoError(t, res.Err)
	assert.Equal(t, 7, res.Pages)
	assert.True(t, res.Repaired)
	assert.Equal(t, dst, res.Path)
	assert.FileExists(t, dst)
	assert.NoFileExists(t, checked, "staging file moved into place")

	// A rejected download leaves the PDF directory as it was.
	f.Validator = func(string) (int, bool, error) { return 0, false, errors.New("truncated") }
	res = f.FetchPaper(context.Background(), types.BibEntry{ID: "w", URL: ts.URL + "/pdf/w.pdf"})
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, types.ErrFetchFailure)
	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{filepath.Base(dst)}, names)
}

func TestFetchPaper_CachedReportsPages(t *testing.T) {
	ts := newPDFServer(t, nil)
	defer ts.Close()
	f := newFetcher(t, ts, "")

	require.NoError(t, f.Store.Write("p", cache.KindPDF, testutil.MinimalPDF("cached")))
	res := f.FetchPaper(context.Background(), types.BibEntry{ID: "p"})
	require.NoError(t, res.Err)
	assert.Equal(t, OriginCached, res.Origin)
	assert.Equal(t, 1, res.Pages)
	assert.Len(t, res.Hash, 64)

	// A cached file that no longer reads is dropped so the next run refetches.
	f.Validator = func(string) (int, bool, error) { return 0, false, errors.New("unreadable") }
	res = f.FetchPaper(context.Background(), types.BibEntry{ID: "p"})
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, types.ErrFetchFailure)
	assert.False(t, f.Store.Exists("p", cache.KindPDF))
}

func TestFetchPaper_OverrideTakesPrecedence(t *testing.T) {
	var hits int32
	ts := newPDFServer(t, &hits)
	defer ts.Close()

	overrideDir := t.TempDir()
	override := testutil.MinimalPDF("corrected by hand")
	require.NoError(t, os.WriteFile(filepath.Join(overrideDir, "b.pdf"), override, 0o644))

	f := newFetcher(t, ts, overrideDir)
	// A stale cached copy must be replaced by the override.
	require.NoError(t, f.Store.Write("b", cache.KindPDF, []byte("%PDF-1.4 stale")))

	res := f.FetchPaper(context.Background(), types.BibEntry{ID: "b", URL: ts.URL + "/empty/b.pdf"})
	require.NoError(t, res.Err)
	assert.Equal(t, OriginOverride, res.Origin)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits), "override bypasses fetch")

	cached, err := f.Store.Read("b", cache.KindPDF)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(override, cached))
}

func TestFetchBatch_BoundedConcurrency(t *testing.T) {
	var inFlight, peak int32
	var mu sync.Mutex
	pdf := testutil.MinimalPDF("x")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		if strings.Contains(r.URL.Path, "broken") {
			return
		}
		w.Write(pdf)
	}))
	defer ts.Close()

	f := newFetcher(t, ts, "")
	f.Validator = acceptAll
	var entries []types.BibEntry
	for _, id := range []string{"a", "broken", "c", "d", "e", "f"} {
		entries = append(entries, types.BibEntry{ID: id, URL: ts.URL + "/" + id + ".pdf"})
	}

	var out bytes.Buffer
	batch := f.FetchBatch(context.Background(), entries, &out)

	assert.Equal(t, 5, batch.Downloaded)
	assert.Equal(t, 1, batch.Failed)
	assert.True(t, batch.HasFailures())
	assert.Equal(t, 6, batch.Total())
	assert.LessOrEqual(t, peak, int32(2))
	require.Len(t, batch.Results, 6)
	assert.Equal(t, "broken", batch.Results[1].ID)
	assert.Error(t, batch.Results[1].Err)
	assert.Contains(t, out.String(), "failed:  broken")
	assert.Contains(t, out.String(), "Fetch summary: 5 downloaded, 0 override, 0 skipped, 1 failed (total: 6)")

	// Rerun only retries the failure.
	out.Reset()
	batch = f.FetchBatch(context.Background(), entries, &out)
	assert.Equal(t, 5, batch.Skipped)
	assert.Equal(t, 1, batch.Failed)
}
