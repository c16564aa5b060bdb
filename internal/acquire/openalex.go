// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pdiddy/proceedings-engine/internal/httputil"
)

// openAlexAPIBase is the OpenAlex works endpoint; tests point it at an
// httptest server.
var openAlexAPIBase = "https://api.openalex.org/works/"

type openAlexWork struct {
	BestOALocation *openAlexLocation  `json:"best_oa_location"`
	Locations      []openAlexLocation `json:"locations"`
}

type openAlexLocation struct {
	PDFURL string `json:"pdf_url"`
	IsOA   bool   `json:"is_oa"`
}

// pdfURL prefers the best open-access location and falls back to the first
// open-access location that links a PDF.
func (w openAlexWork) pdfURL() string {
	if w.BestOALocation != nil && w.BestOALocation.PDFURL != "" {
		return w.BestOALocation.PDFURL
	}
	for _, loc := range w.Locations {
		if loc.IsOA && loc.PDFURL != "" {
			return loc.PDFURL
		}
	}
	return ""
}

// resolveOpenAlex looks doi up in OpenAlex and returns an open-access PDF
// URL, or "" when the work is unknown or closed.
func (f *Fetcher) resolveOpenAlex(ctx context.Context, doi string) (string, error) {
	q := url.Values{}
	if f.Mailto != "" {
		q.Set("mailto", f.Mailto)
	}
	u := openAlexAPIBase + "doi:" + doi
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	if f.Config.UserAgent != "" {
		req.Header.Set("User-Agent", f.Config.UserAgent)
	}
	resp, err := httputil.DoWithRetry(ctx, f.Client, req, 2)
	if err != nil {
		return "", fmt.Errorf("openalex %s: %w", doi, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", nil
	default:
		return "", fmt.Errorf("openalex %s: HTTP %d", doi, resp.StatusCode)
	}

	var w openAlexWork
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return "", fmt.Errorf("openalex %s: decoding work: %w", doi, err)
	}
	return w.pdfURL(), nil
}
