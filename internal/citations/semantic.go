// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package citations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/proceedings-engine/internal/authors"
	"github.com/pdiddy/proceedings-engine/internal/httputil"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// semanticAPIBase is the Semantic Scholar graph API root. Declared as a
// var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1"

const (
	semanticSearchFields = "title,year,authors,citationCount,influentialCitationCount"
	semanticLinkLimit    = 1000
)

var (
	nonTitleChars = regexp.MustCompile(`[^a-zA-Z0-9 ]`)
	nonNameChars  = regexp.MustCompile(`[^a-zA-Z\- ]`)
)

// SemanticScholarBackend searches the Semantic Scholar graph API with a
// sequence of query variants and accepts the top result only when its
// author list agrees with the bibliography.
type SemanticScholarBackend struct {
	Client    *http.Client
	APIKey    string
	UserAgent string
	Throttle  *httputil.Throttle
}

// Name returns the backend identifier.
func (b *SemanticScholarBackend) Name() string { return BackendSemanticScholar }

// Lookup tries every query variant until one matches.
func (b *SemanticScholarBackend) Lookup(ctx context.Context, q Query) (types.CitationRecord, error) {
	if q.Title == "" || len(q.LastNames) == 0 {
		return types.CitationRecord{Status: types.CitationNotFound, Backend: b.Name()}, nil
	}
	want := nonNameChars.ReplaceAllString(strings.ToLower(lastToken(q.LastNames[0])), "")

	for _, variant := range QueryVariants(q) {
		paper, ok, err := b.search(ctx, variant)
		if err != nil {
			return types.CitationRecord{}, err
		}
		if !ok || len(paper.Authors) > len(q.LastNames)+1 || !authorsMatch(paper.Authors, want) {
			continue
		}

		rec := types.CitationRecord{
			Status:           types.CitationOK,
			Backend:          b.Name(),
			Query:            variant,
			ExternalID:       paper.PaperID,
			CitationCount:    paper.CitationCount,
			KeyCitationCount: paper.InfluentialCitationCount,
		}
		if rec.References, err = b.references(ctx, paper.PaperID); err != nil {
			return types.CitationRecord{}, err
		}
		if rec.KeyCitingWorks, err = b.keyCitations(ctx, paper.PaperID); err != nil {
			return types.CitationRecord{}, err
		}
		return rec, nil
	}
	return types.CitationRecord{Status: types.CitationNotFound, Backend: b.Name()}, nil
}

// QueryVariants lists the search strings tried for q, most specific title
// form first: title forms × author forms × {no year, year}.
func QueryVariants(q Query) []string {
	titles := dedupe([]string{
		q.Title,
		nonTitleChars.ReplaceAllString(q.Title, ""),
		strings.Join(longWords(q.Title), " "),
	})
	names := []string{q.LastNames[0], ""}
	if len(q.LastNames) > 1 {
		names = []string{strings.Join(q.LastNames, " "), q.LastNames[0], ""}
	}
	years := []string{""}
	if q.Year > 0 {
		years = append(years, strconv.Itoa(q.Year))
	}

	var out []string
	for _, t := range titles {
		for _, n := range names {
			for _, y := range years {
				out = append(out, strings.Join(strings.Fields(t+" "+n+" "+y), " "))
			}
		}
	}
	return out
}

func (b *SemanticScholarBackend) search(ctx context.Context, query string) (semanticPaper, bool, error) {
	params := url.Values{
		"query":  {query},
		"limit":  {"1"},
		"fields": {semanticSearchFields},
	}
	var sr semanticSearchResponse
	if err := b.get(ctx, semanticAPIBase+"/paper/search?"+params.Encode(), &sr); err != nil {
		return semanticPaper{}, false, err
	}
	if len(sr.Data) == 0 {
		return semanticPaper{}, false, nil
	}
	return sr.Data[0], true, nil
}

func (b *SemanticScholarBackend) references(ctx context.Context, paperID string) ([]types.CitedWork, error) {
	params := url.Values{"fields": {"title"}, "limit": {strconv.Itoa(semanticLinkLimit)}}
	var lr semanticLinkResponse
	if err := b.get(ctx, semanticAPIBase+"/paper/"+url.PathEscape(paperID)+"/references?"+params.Encode(), &lr); err != nil {
		return nil, err
	}
	var works []types.CitedWork
	for _, l := range lr.Data {
		if l.CitedPaper.PaperID != "" || l.CitedPaper.Title != "" {
			works = append(works, types.CitedWork{ID: l.CitedPaper.PaperID, Title: l.CitedPaper.Title})
		}
	}
	return works, nil
}

func (b *SemanticScholarBackend) keyCitations(ctx context.Context, paperID string) ([]types.CitedWork, error) {
	params := url.Values{"fields": {"title,isInfluential"}, "limit": {strconv.Itoa(semanticLinkLimit)}}
	var lr semanticLinkResponse
	if err := b.get(ctx, semanticAPIBase+"/paper/"+url.PathEscape(paperID)+"/citations?"+params.Encode(), &lr); err != nil {
		return nil, err
	}
	var works []types.CitedWork
	for _, l := range lr.Data {
		if l.IsInfluential {
			works = append(works, types.CitedWork{ID: l.CitingPaper.PaperID, Title: l.CitingPaper.Title})
		}
	}
	return works, nil
}

func (b *SemanticScholarBackend) get(ctx context.Context, reqURL string, v any) error {
	if b.Throttle != nil {
		if err := b.Throttle.Wait(ctx); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}
	if b.APIKey != "" {
		req.Header.Set("x-api-key", b.APIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		return fmt.Errorf("Semantic Scholar API request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Semantic Scholar API returned HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}
	return nil
}

// authorsMatch reports whether want occurs in the folded, concatenated
// author names of a search result.
func authorsMatch(list []semanticAuthor, want string) bool {
	if want == "" {
		return false
	}
	names := make([]string, len(list))
	for i, a := range list {
		names[i] = a.Name
	}
	joined := strings.ToLower(nonNameChars.ReplaceAllString(authors.Fold(strings.Join(names, " ")), ""))
	return strings.Contains(joined, want)
}

func lastToken(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[len(f)-1]
}

func longWords(s string) []string {
	var out []string
	for _, w := range strings.Fields(s) {
		if len(w) > 1 {
			out = append(out, w)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Semantic Scholar API JSON structures.
type semanticSearchResponse struct {
	Total int             `json:"total"`
	Data  []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID                  string           `json:"paperId"`
	Title                    string           `json:"title"`
	Year                     int              `json:"year"`
	Authors                  []semanticAuthor `json:"authors"`
	CitationCount            int              `json:"citationCount"`
	InfluentialCitationCount int              `json:"influentialCitationCount"`
}

type semanticAuthor struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type semanticLinkResponse struct {
	Data []semanticLink `json:"data"`
}

type semanticLink struct {
	IsInfluential bool              `json:"isInfluential"`
	CitedPaper    semanticPaperStub `json:"citedPaper"`
	CitingPaper   semanticPaperStub `json:"citingPaper"`
}

type semanticPaperStub struct {
	PaperID string `json:"paperId"`
	Title   string `json:"title"`
}
