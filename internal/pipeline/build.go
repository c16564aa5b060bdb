// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pdiddy/proceedings-engine/internal/acquire"
	"github.com/pdiddy/proceedings-engine/internal/assemble"
	"github.com/pdiddy/proceedings-engine/internal/authors"
	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/internal/citations"
	"github.com/pdiddy/proceedings-engine/internal/convert"
	"github.com/pdiddy/proceedings-engine/internal/customize"
	"github.com/pdiddy/proceedings-engine/internal/export"
	"github.com/pdiddy/proceedings-engine/internal/geocode"
	"github.com/pdiddy/proceedings-engine/internal/loader"
	"github.com/pdiddy/proceedings-engine/internal/overrides"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

const defaultTimeout = 60 * time.Second

// Runner is a pipeline together with the bibliography source it runs over.
type Runner struct {
	*Pipeline

	Source    types.SourceConfig
	Client    *http.Client
	Overrides *overrides.Table
}

// Load reads the bibliography. Its failure is fatal to the run and wraps
// types.ErrSourceUnavailable.
func (r *Runner) Load(ctx context.Context) ([]types.BibEntry, error) {
	res, err := loader.Load(ctx, r.Client, r.Source, r.Overrides, r.logger())
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// Close releases the export table.
func (r *Runner) Close() error {
	return r.Export.Close()
}

// ApplyCustomization restricts cfg to the customization years unless the
// configuration already selects years.
func ApplyCustomization(cfg *types.PipelineConfig, s customize.Settings) {
	if len(cfg.Source.Years) == 0 && len(s.Years) > 0 {
		cfg.Source.Years = s.Years
	}
}

// Build opens every store and stage described by cfg. A redo wipes the
// cache (keeping PDFs when asked) and the export table before anything is
// loaded from them.
func Build(ctx context.Context, cfg types.PipelineConfig, logger *slog.Logger, out io.Writer) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := cache.Open(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	if cfg.Redo {
		var keep []cache.Kind
		if cfg.KeepPDFs {
			keep = append(keep, cache.KindPDF)
		}
		if err := store.PurgeAll(keep...); err != nil {
			return nil, err
		}
		logger.Info("cache purged", "keep_pdfs", cfg.KeepPDFs)
	}

	exp, err := export.Open(cfg.Export.OutputDir)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			exp.Close()
		}
	}()
	if cfg.Redo {
		if err := exp.Reset(ctx); err != nil {
			return nil, err
		}
	}

	timeout := cfg.Acquisition.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	var tbl *overrides.Table
	if cfg.Authors.Corrections {
		if tbl, err = overrides.Load(cfg.Authors.OverridesPath); err != nil {
			return nil, err
		}
	}

	extractor, err := buildExtractor(ctx, cfg.Conversion, store, client, logger)
	if err != nil {
		return nil, err
	}

	geo, err := geocode.Open(store, cfg.Geocode, geocode.WithHTTPClient(client), geocode.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	resolver, flushers, err := buildResolver(ctx, cfg, store, client, geo, tbl, logger)
	if err != nil {
		return nil, err
	}

	backends, err := citations.NewBackends(cfg.Citations, client)
	if err != nil {
		return nil, err
	}

	conferences, err := assemble.LoadConferences(cfg.Export.ConferencesPath)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Store:  store,
		Export: exp,
		Fetcher: &acquire.Fetcher{
			Client: client,
			Store:  store,
			Config: cfg.Acquisition,
			Mailto: cfg.Citations.OpenAlexEmail,
			Logger: logger,
		},
		Extractor: extractor,
		Authors:   resolver,
		Citations: &citations.Enricher{
			Store:     store,
			Backends:  backends,
			Overrides: tbl,
			Refresh:   cfg.Citations.Refresh,
			Logger:    logger,
		},
		Assembler: &assemble.Assembler{Conferences: conferences, Geocoder: geo},
		Flushers:  append([]Flusher{geo}, flushers...),
		Limit:     cfg.Limit,
		Formats:   cfg.Export.Formats,
		Logger:    logger,
		Out:       out,

		RefreshCitations: cfg.Citations.Refresh,
		ForceExtraction:  cfg.Conversion.Force,
	}
	ok = true
	return &Runner{Pipeline: p, Source: cfg.Source, Client: client, Overrides: tbl}, nil
}

func buildExtractor(ctx context.Context, cfg types.ConversionConfig, store *cache.Store, client *http.Client, logger *slog.Logger) (*convert.Extractor, error) {
	fallback, err := convert.NewConverter(ctx, cfg.Fallback)
	if err != nil {
		return nil, fmt.Errorf("plain-text extractor: %w", err)
	}
	x := &convert.Extractor{Store: store, Config: cfg, Logger: logger}
	if fallback != nil {
		x.Fallback = fallback
	}

	url := cfg.GrobidURL
	if url == "" {
		url = convert.DefaultGrobidURL
	}
	x.Grobid = &convert.GrobidClient{BaseURL: url, Client: client, UserAgent: cfg.UserAgent}
	if !x.Grobid.Alive(ctx) {
		logger.Warn("GROBID is not answering; papers without cached TEI will be retried next run", "url", url)
	}
	return x, nil
}

func buildResolver(ctx context.Context, cfg types.PipelineConfig, store *cache.Store, client *http.Client,
	geo *geocode.Client, tbl *overrides.Table, logger *slog.Logger) (*authors.Resolver, []Flusher, error) {
	unis, err := authors.LoadUniversities(ctx, client, cfg.Source)
	if err != nil {
		// Queries fall back to affiliations and author blocks.
		logger.Warn("university domain list unavailable", "error", err)
	}
	dict, err := authors.LoadDictionary(cfg.Authors.GenderDictionaryPath)
	if err != nil {
		return nil, nil, err
	}
	registry, err := authors.OpenRegistry(store.TablePath(authors.RegistryTable), cfg.Authors.MergeStrategy)
	if err != nil {
		return nil, nil, err
	}

	r := &authors.Resolver{
		Store:      store,
		Dictionary: dict,
		Geocoder:   geo,
		Queries:    &authors.QueryBuilder{Universities: unis},
		Registry:   registry,
		Overrides:  tbl,
		Threshold:  cfg.Authors.GenderThreshold,
		Logger:     logger,
	}
	flushers := []Flusher{registry}

	if base := cfg.Authors.GenderAPIURL; base != authors.GenderDisabled {
		memo, err := cache.OpenTable[authors.Estimate](store.TablePath(authors.GenderTable))
		if err != nil {
			return nil, nil, err
		}
		r.Model = &authors.ModelClassifier{
			BaseURL:       base,
			APIKey:        cfg.Authors.GenderAPIKey,
			UserAgent:     cfg.Authors.UserAgent,
			Client:        client,
			Memo:          memo,
			LabelField:    cfg.Authors.GenderLabelField,
			NeutralLabels: cfg.Authors.GenderNeutralLabels,
		}
		flushers = append(flushers, memo)
	}
	return r, flushers, nil
}
