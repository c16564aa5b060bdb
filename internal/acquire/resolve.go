// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// SourceType classifies where a paper's PDF is fetched from.
type SourceType int

const (
	SourceUnknown SourceType = iota
	SourceURL
	SourceDOI
	SourceOpenAlex
)

func (t SourceType) String() string {
	switch t {
	case SourceURL:
		return "url"
	case SourceDOI:
		return "doi"
	case SourceOpenAlex:
		return "openalex"
	default:
		return "unknown"
	}
}

// doiBase is the DOI resolver. Declared as a var so tests can substitute an
// httptest server.
var doiBase = "https://doi.org/"

// doiPattern matches DOIs: "10.5281/zenodo.1178901".
var doiPattern = regexp.MustCompile(`^10\.\d{4,9}/[^\s]+$`)

// NormalizeDOI strips resolver prefixes and whitespace. It returns "" when
// the result is not a DOI.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	for _, p := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		doi = strings.TrimPrefix(doi, p)
	}
	if !doiPattern.MatchString(doi) {
		return ""
	}
	return doi
}

// isHTTPURL reports whether s is an absolute http(s) URL.
func isHTTPURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ResolvePDFURL picks the download URL for a paper: the bibliography URL
// when it points at a PDF, otherwise the open-access PDF OpenAlex knows for
// the DOI, otherwise the DOI resolver, otherwise a non-PDF bibliography URL.
func (f *Fetcher) ResolvePDFURL(ctx context.Context, entry types.BibEntry) (string, SourceType) {
	bibURL := strings.TrimSpace(entry.URL)
	if isHTTPURL(bibURL) && strings.HasSuffix(strings.ToLower(bibURL), ".pdf") {
		return bibURL, SourceURL
	}

	if doi := NormalizeDOI(entry.DOI); doi != "" {
		if oaURL, err := f.resolveOpenAlex(ctx, doi); err == nil && oaURL != "" {
			return oaURL, SourceOpenAlex
		} else if err != nil {
			f.logger().Debug("OpenAlex lookup failed", "paper", entry.ID, "error", err)
		}
		if !isHTTPURL(bibURL) {
			return doiBase + doi, SourceDOI
		}
	}

	if isHTTPURL(bibURL) {
		return bibURL, SourceURL
	}
	return "", SourceUnknown
}
