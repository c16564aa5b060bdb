// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package citations looks up citation counts, references, and key citing
// works for each paper. Backends are tried in order of preference; the
// first match wins.
package citations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pdiddy/proceedings-engine/internal/authors"
	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/internal/httputil"
	"github.com/pdiddy/proceedings-engine/internal/overrides"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// Default spacing between citation requests.
const (
	DefaultSleep        = 3 * time.Second
	DefaultSleepWithKey = time.Second
)

// Backend names accepted in types.CitationConfig.Backends.
const (
	BackendSemanticScholar = "semantic_scholar"
	BackendOpenAlex        = "openalex"
)

// Query identifies the paper to look up.
type Query struct {
	Title string
	Year  int
	DOI   string

	// LastNames are the authors' surnames in bibliography order.
	LastNames []string
}

// Backend looks up one paper in a single citation service. A paper the
// service does not know yields a record with status not_found and a nil
// error; an error means the service could not answer.
type Backend interface {
	Name() string
	Lookup(ctx context.Context, q Query) (types.CitationRecord, error)
}

// NewBackends builds the configured backends in order of preference. All
// backends share one throttle.
func NewBackends(cfg types.CitationConfig, client *http.Client) ([]Backend, error) {
	sleep := cfg.Sleep
	if sleep == 0 {
		sleep = DefaultSleep
		if cfg.SemanticScholarAPIKey != "" {
			sleep = DefaultSleepWithKey
		}
	}
	throttle := httputil.NewThrottle(sleep)

	names := cfg.Backends
	if len(names) == 0 {
		names = []string{BackendSemanticScholar, BackendOpenAlex}
	}
	var backends []Backend
	for _, name := range names {
		switch strings.TrimSpace(name) {
		case BackendSemanticScholar:
			backends = append(backends, &SemanticScholarBackend{
				Client: client, APIKey: cfg.SemanticScholarAPIKey, UserAgent: cfg.UserAgent, Throttle: throttle,
			})
		case BackendOpenAlex:
			backends = append(backends, &OpenAlexBackend{
				Client: client, Email: cfg.OpenAlexEmail, UserAgent: cfg.UserAgent, Throttle: throttle,
			})
		default:
			return nil, fmt.Errorf("unknown citation backend %q", name)
		}
	}
	return backends, nil
}

// Enricher produces the citation fragment of a paper.
type Enricher struct {
	Store    *cache.Store
	Backends []Backend

	// Overrides supplies forced query authors for ambiguous titles.
	Overrides *overrides.Table

	// Refresh ignores cached records.
	Refresh bool

	Logger *slog.Logger
}

func (e *Enricher) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Enrich returns the citation record for entry. Matches and confirmed
// misses are cached; when a backend fails and none matched, the record has
// status unknown, nothing is cached, and the error wraps
// types.ErrServiceError.
func (e *Enricher) Enrich(ctx context.Context, entry types.BibEntry) (types.CitationRecord, error) {
	id := entry.ID
	log := e.logger().With("paper", id, "stage", "citations")

	if !e.Refresh && e.Store.Exists(id, cache.KindCitations) {
		var rec types.CitationRecord
		if err := e.Store.ReadJSON(id, cache.KindCitations, &rec); err == nil {
			return rec, nil
		}
		log.Warn("discarding unreadable citation cache")
	}

	q := e.query(entry)
	var failures error
	for _, b := range e.Backends {
		rec, err := b.Lookup(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return types.CitationRecord{Status: types.CitationUnknown}, ctx.Err()
			}
			log.Warn("citation backend failed", "backend", b.Name(), "error", err)
			failures = errors.Join(failures, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		if rec.Status == types.CitationOK {
			log.Info("citations found", "backend", b.Name(), "count", rec.CitationCount)
			return rec, e.save(id, rec)
		}
	}

	if failures != nil {
		return types.CitationRecord{Status: types.CitationUnknown},
			types.NewStageError(id, "citations", fmt.Errorf("%w: %w", types.ErrServiceError, failures))
	}
	log.Info("no citation record found")
	rec := types.CitationRecord{Status: types.CitationNotFound}
	return rec, e.save(id, rec)
}

func (e *Enricher) save(id string, rec types.CitationRecord) error {
	if err := e.Store.WriteJSON(id, cache.KindCitations, rec); err != nil {
		return types.NewStageError(id, "citations", err)
	}
	return nil
}

// query builds the lookup for entry. Surnames keep only their last
// hyphenated part ("Smith-Jones" -> "Jones").
func (e *Enricher) query(entry types.BibEntry) Query {
	q := Query{Title: authors.Fold(entry.Title), Year: entry.Year, DOI: entry.DOI}
	for _, raw := range entry.Authors {
		first, last := authors.SplitName(raw)
		_, last, _ = e.Overrides.Name(first, last)
		if i := strings.LastIndex(last, "-"); i >= 0 {
			last = last[i+1:]
		}
		q.LastNames = append(q.LastNames, last)
	}
	if forced, ok := e.Overrides.CitationAuthor(entry.Title); ok && len(q.LastNames) > 0 {
		q.LastNames[0] = forced
	}
	return q
}
