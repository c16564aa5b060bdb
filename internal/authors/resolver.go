// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package authors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/internal/overrides"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// Geocoder resolves a free-text location query. A quota refusal returns a
// location with source unknown and an error wrapping types.ErrQuotaExceeded.
type Geocoder interface {
	Locate(ctx context.Context, query string) (types.Location, error)
}

// GenderModel is the non-binary-aware classifier.
type GenderModel interface {
	Classify(ctx context.Context, first string) (Estimate, error)
}

// Resolver produces the author fragment of a paper.
type Resolver struct {
	Store      *cache.Store
	Dictionary *Dictionary

	// Model is the non-binary-aware classifier; nil leaves gender to the
	// dictionary.
	Model GenderModel

	Geocoder Geocoder
	Queries  *QueryBuilder
	Registry *Registry

	// Overrides is the correction table; nil disables corrections.
	Overrides *overrides.Table

	Threshold float64
	Logger    *slog.Logger
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Resolve returns the resolved authors of entry in bibliography order. The
// fragment is cached only when every author location is settled; otherwise
// the authors are still returned together with a *types.StageError so the
// row can be assembled as incomplete and retried next run.
func (r *Resolver) Resolve(ctx context.Context, entry types.BibEntry, ext types.Extraction) ([]types.Author, error) {
	id := entry.ID
	log := r.logger().With("paper", id, "stage", "authors")

	if r.Store.Exists(id, cache.KindAuthors) {
		var cached []types.Author
		if err := r.Store.ReadJSON(id, cache.KindAuthors, &cached); err == nil {
			return cached, nil
		}
		log.Warn("discarding unreadable author cache")
	}

	threshold := r.Threshold
	if threshold == 0 {
		threshold = DefaultGenderThreshold
	}

	queries := r.Queries.Build(ext, len(entry.Authors))
	resolved := make([]types.Author, 0, len(entry.Authors))
	var degraded error
	for i, raw := range entry.Authors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		a := types.Author{Raw: raw}
		a.First, a.Last = SplitName(raw)
		a.First, a.Last, _ = r.Overrides.Name(a.First, a.Last)
		a.Key = Key(a.First, a.Last)

		if err := r.classify(ctx, &a, threshold); err != nil {
			log.Warn("gender model failed", "author", a.Key, "error", err)
			degraded = errors.Join(degraded, err)
		}

		q := queries[i]
		a.Email = q.Email
		a.Affiliation = q.Affiliation
		a.QueryOrigin = q.Origin
		a.LocationQuery, _ = r.Overrides.Affiliation(q.Query)

		if a.LocationQuery == "" {
			a.Location = types.Location{Source: types.LocationNone}
		} else {
			loc, err := r.Geocoder.Locate(ctx, a.LocationQuery)
			if err != nil {
				log.Warn("location lookup failed", "query", a.LocationQuery, "error", err)
				degraded = errors.Join(degraded, err)
				loc = types.Location{Query: a.LocationQuery, Source: types.LocationUnknown}
			}
			a.Location = loc
		}
		a.Location = r.Registry.Canonical(id, a)
		log.Debug("resolved author", "author", a.Key, "gender", a.Gender,
			"origin", a.QueryOrigin, "location", a.Location.Source)
		resolved = append(resolved, a)
	}

	if degraded != nil {
		return resolved, types.NewStageError(id, "authors", degraded)
	}
	for _, a := range resolved {
		if !a.Location.Settled() {
			return resolved, types.NewStageError(id, "authors",
				fmt.Errorf("%w: location for %q not settled", types.ErrServiceError, a.Key))
		}
	}
	if err := r.Store.WriteJSON(id, cache.KindAuthors, resolved); err != nil {
		return resolved, types.NewStageError(id, "authors", err)
	}
	return resolved, nil
}

// classify fills the gender fields of a. Overrides apply last.
func (r *Resolver) classify(ctx context.Context, a *types.Author, threshold float64) error {
	category := CategoryUnknown
	if r.Dictionary != nil && a.First != "" {
		category = r.Dictionary.Classify(a.First)
	}
	a.GenderDictionary = category

	var est *Estimate
	var modelErr error
	if r.Model != nil && a.First != "" {
		e, err := r.Model.Classify(ctx, a.First)
		if err != nil {
			modelErr = err
		} else {
			est = &e
			a.GenderModel = e.Label
		}
	}
	a.Gender, a.NonBinary = CombineGender(category, est, threshold)

	if g, ok := r.Overrides.Gender(a.First, a.Last); ok {
		a.Gender, a.NonBinary = g, false
	}
	return modelErr
}
