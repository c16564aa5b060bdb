// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/proceedings-engine/internal/httputil"
	"github.com/pdiddy/proceedings-engine/internal/testutil"
)

func writePDF(t *testing.T, lines ...string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(p, testutil.MinimalPDF(lines...), 0o644))
	return p
}

func fastRetry(t *testing.T) {
	t.Helper()
	orig := httputil.RetryBaseDelay
	httputil.RetryBaseDelay = time.Millisecond
	t.Cleanup(func() { httputil.RetryBaseDelay = orig })
}

func TestGrobidClient_ProcessFulltext(t *testing.T) {
	fastRetry(t)
	pdfPath := writePDF(t, "A gestural controller")

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/processFulltextDocument", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "1", r.FormValue("includeRawAffiliations"))

		f, hdr, err := r.FormFile("input")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		assert.Equal(t, "paper.pdf", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "%PDF-", string(data[:5]))

		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, sampleTEI)
	}))
	defer ts.Close()

	g := &GrobidClient{BaseURL: ts.URL + "/", Client: ts.Client()}
	data, err := g.ProcessFulltext(context.Background(), pdfPath)
	require.NoError(t, err)
	assert.True(t, isTEI(data))
}

func TestGrobidClient_Errors(t *testing.T) {
	fastRetry(t)
	pdfPath := writePDF(t, "x")

	tests := []struct {
		name        string
		status      int
		unavailable bool
	}{
		{"bad input is a document error", http.StatusInternalServerError, false},
		{"no content is a document error", http.StatusNoContent, false},
		{"busy service is unavailable", http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			g := &GrobidClient{BaseURL: ts.URL, Client: ts.Client()}
			_, err := g.ProcessFulltext(context.Background(), pdfPath)
			require.Error(t, err)

			var gerr *GrobidError
			if tt.unavailable {
				assert.ErrorIs(t, err, ErrGrobidUnavailable)
				assert.False(t, errors.As(err, &gerr))
			} else {
				require.True(t, errors.As(err, &gerr))
				assert.Equal(t, tt.status, gerr.StatusCode)
			}
		})
	}
}

func TestGrobidClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	g := &GrobidClient{BaseURL: url, Client: http.DefaultClient}
	_, err := g.ProcessFulltext(context.Background(), writePDF(t, "x"))
	assert.ErrorIs(t, err, ErrGrobidUnavailable)
	assert.False(t, g.Alive(context.Background()))
}

func TestGrobidClient_Alive(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/isalive", r.URL.Path)
		io.WriteString(w, "true")
	}))
	defer ts.Close()

	g := &GrobidClient{BaseURL: ts.URL, Client: ts.Client()}
	assert.True(t, g.Alive(context.Background()))
}
