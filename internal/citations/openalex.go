// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package citations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pdiddy/proceedings-engine/internal/httputil"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// openAlexWorksBase is the OpenAlex Works endpoint. Declared as a var so
// tests can substitute an httptest server.
var openAlexWorksBase = "https://api.openalex.org/works"

// OpenAlexBackend looks papers up in OpenAlex by DOI. Papers without a DOI
// are reported as not found.
type OpenAlexBackend struct {
	Client *http.Client
	// Email is sent as mailto parameter for polite pool access.
	Email     string
	UserAgent string
	Throttle  *httputil.Throttle
}

// Name returns the backend identifier.
func (b *OpenAlexBackend) Name() string { return BackendOpenAlex }

// Lookup fetches the work record for q.DOI.
func (b *OpenAlexBackend) Lookup(ctx context.Context, q Query) (types.CitationRecord, error) {
	notFound := types.CitationRecord{Status: types.CitationNotFound, Backend: b.Name()}
	doi := bareDOI(q.DOI)
	if doi == "" {
		return notFound, nil
	}

	if b.Throttle != nil {
		if err := b.Throttle.Wait(ctx); err != nil {
			return types.CitationRecord{}, err
		}
	}

	reqURL := openAlexWorksBase + "/https://doi.org/" + doi
	if b.Email != "" {
		reqURL += "?mailto=" + url.QueryEscape(b.Email)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return types.CitationRecord{}, fmt.Errorf("creating request: %w", err)
	}
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 2)
	if err != nil {
		return types.CitationRecord{}, fmt.Errorf("OpenAlex API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return notFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		return types.CitationRecord{}, fmt.Errorf("OpenAlex API returned HTTP %d", resp.StatusCode)
	}

	var w openAlexWork
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return types.CitationRecord{}, fmt.Errorf("parsing OpenAlex response: %w", err)
	}

	rec := types.CitationRecord{
		Status:        types.CitationOK,
		Backend:       b.Name(),
		Query:         "doi:" + doi,
		ExternalID:    w.ID,
		CitationCount: w.CitedByCount,
	}
	for _, ref := range w.ReferencedWorks {
		rec.References = append(rec.References, types.CitedWork{ID: ref})
	}
	return rec, nil
}

// bareDOI strips resolver prefixes from a DOI.
func bareDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	for _, p := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "doi:"} {
		doi = strings.TrimPrefix(doi, p)
	}
	return doi
}

// OpenAlex API JSON structures.
type openAlexWork struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	DOI             string   `json:"doi"`
	CitedByCount    int      `json:"cited_by_count"`
	ReferencedWorks []string `json:"referenced_works"`
}
