// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/proceedings-engine/pkg/types"
)

const sampleOpenAlexOA = `{
  "id": "https://openalex.org/W1234567890",
  "doi": "https://doi.org/10.5281/zenodo.1178901",
  "best_oa_location": {
    "pdf_url": "https://zenodo.org/record/1178901/files/nime2014_003.pdf",
    "landing_page_url": "https://zenodo.org/record/1178901"
  }
}`

func TestResolveOpenAlex(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		statusCode int
		wantURL    string
		wantErr    bool
	}{
		{"OA PDF available", sampleOpenAlexOA, http.StatusOK, "https://zenodo.org/record/1178901/files/nime2014_003.pdf", false},
		{"no OA location", `{"best_oa_location": null}`, http.StatusOK, "", false},
		{"OA location without PDF", `{"best_oa_location": {"pdf_url": "", "landing_page_url": "x"}}`, http.StatusOK, "", false},
		{"other OA location with PDF", `{"best_oa_location": {"pdf_url": ""}, "locations": [
			{"is_oa": false, "pdf_url": "https://publisher.example/closed.pdf"},
			{"is_oa": true, "pdf_url": "https://repo.example/open.pdf"}]}`, http.StatusOK, "https://repo.example/open.pdf", false},
		{"unknown DOI", `{"error": "not found"}`, http.StatusNotFound, "", false},
		{"server error", `oops`, http.StatusInternalServerError, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/works/doi:10.5281/zenodo.1178901", r.URL.Path)
				assert.Equal(t, "lab@example.org", r.URL.Query().Get("mailto"))
				w.WriteHeader(tt.statusCode)
				fmt.Fprint(w, tt.response)
			}))
			defer ts.Close()

			origBase := openAlexAPIBase
			openAlexAPIBase = ts.URL + "/works/"
			defer func() { openAlexAPIBase = origBase }()

			f := &Fetcher{Client: ts.Client(), Mailto: "lab@example.org", Config: testConfig("")}
			got, err := f.resolveOpenAlex(context.Background(), "10.5281/zenodo.1178901")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, got)
		})
	}
}

func TestResolvePDFURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleOpenAlexOA)
	}))
	defer ts.Close()

	origBase := openAlexAPIBase
	openAlexAPIBase = ts.URL + "/works/"
	defer func() { openAlexAPIBase = origBase }()

	f := &Fetcher{Client: ts.Client(), Config: testConfig("")}
	ctx := context.Background()

	tests := []struct {
		name    string
		entry   types.BibEntry
		wantURL string
		want    SourceType
	}{
		{
			name:    "direct PDF link wins",
			entry:   types.BibEntry{URL: "http://www.nime.org/proceedings/2014/nime2014_003.pdf", DOI: "10.5281/zenodo.1178901"},
			wantURL: "http://www.nime.org/proceedings/2014/nime2014_003.pdf",
			want:    SourceURL,
		},
		{
			name:    "landing page falls back to OpenAlex",
			entry:   types.BibEntry{URL: "https://nime.pubpub.org/pub/abc", DOI: "https://doi.org/10.5281/zenodo.1178901"},
			wantURL: "https://zenodo.org/record/1178901/files/nime2014_003.pdf",
			want:    SourceOpenAlex,
		},
		{
			name:  "nothing to fetch",
			entry: types.BibEntry{},
			want:  SourceUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotURL, got := f.ResolvePDFURL(ctx, tt.entry)
			assert.Equal(t, tt.wantURL, gotURL)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeDOI(t *testing.T) {
	assert.Equal(t, "10.5281/zenodo.1178901", NormalizeDOI(" https://doi.org/10.5281/zenodo.1178901 "))
	assert.Equal(t, "10.5281/zenodo.1178901", NormalizeDOI("doi:10.5281/zenodo.1178901"))
	assert.Equal(t, "", NormalizeDOI("not a doi"))
}
