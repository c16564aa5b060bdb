// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package loader produces the canonical paper list from the bibliography:
// it fetches the file when no local copy exists, parses it, assigns stable
// ids, and drops duplicates.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/pdiddy/proceedings-engine/internal/bibtex"
	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/internal/httputil"
	"github.com/pdiddy/proceedings-engine/internal/overrides"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

const (
	// DefaultBibURL is the upstream NIME bibliography.
	DefaultBibURL = "https://raw.githubusercontent.com/NIME-conference/NIME-bibliography/master/paper_proceedings/nime_papers.bib"
	// DefaultUnidomainsURL is the university email-domain list.
	DefaultUnidomainsURL = "https://raw.githubusercontent.com/Hipo/university-domains-list/master/world_universities_and_domains.json"

	defaultVenuePrefix = "nime"
)

// Result is the loaded bibliography.
type Result struct {
	// Entries are in bibliography order with unique ids.
	Entries []types.BibEntry
	// Duplicates counts entries dropped because their id was already seen.
	Duplicates int
	// Skipped counts malformed entries the parser could not read.
	Skipped int
	// Filtered counts entries outside the selected years.
	Filtered int
}

// Load returns the bibliography described by cfg. Name corrections from
// tbl are applied to author strings; a nil table applies none. Failing to
// obtain the file is fatal and wraps types.ErrSourceUnavailable.
func Load(ctx context.Context, client *http.Client, cfg types.SourceConfig, tbl *overrides.Table, logger *slog.Logger) (*Result, error) {
	url := cfg.BibURL
	if url == "" {
		url = DefaultBibURL
	}
	if err := EnsureLocal(ctx, client, url, cfg.BibPath, cfg.UserAgent); err != nil {
		return nil, err
	}

	f, err := os.Open(cfg.BibPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", types.ErrSourceUnavailable, cfg.BibPath, err)
	}
	defer f.Close()

	entries, errs := bibtex.Parse(f)
	for _, e := range errs {
		logger.Warn("skipping malformed bibliography entry", "error", e)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries in %s", types.ErrSourceUnavailable, cfg.BibPath)
	}

	prefix := cfg.VenuePrefix
	if prefix == "" {
		prefix = defaultVenuePrefix
	}

	res := &Result{Skipped: len(errs)}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		be := convert(e, prefix, tbl)
		if len(cfg.Years) > 0 && !slices.Contains(cfg.Years, be.Year) {
			res.Filtered++
			continue
		}
		if seen[be.ID] {
			res.Duplicates++
			logger.Warn("duplicate paper id", "id", be.ID, "key", be.Key)
			continue
		}
		seen[be.ID] = true
		res.Entries = append(res.Entries, be)
	}

	logger.Info("bibliography loaded",
		"entries", len(res.Entries), "duplicates", res.Duplicates,
		"skipped", res.Skipped, "filtered", res.Filtered)
	return res, nil
}

// convert maps a parsed entry onto the paper descriptor.
func convert(e bibtex.Entry, prefix string, tbl *overrides.Table) types.BibEntry {
	year, _ := strconv.Atoi(strings.TrimSpace(e.Field("year")))

	authors := e.Names("author")
	for i, a := range authors {
		authors[i], _ = tbl.RawName(a)
	}

	fields := make(map[string]string, len(e.Fields))
	for k := range e.Fields {
		fields[k] = e.Field(k)
	}

	articleNo := strings.TrimSpace(e.Field("articleno"))
	return types.BibEntry{
		ID:        PaperID(prefix, year, articleNo, e.Key),
		Key:       e.Key,
		Type:      e.Type,
		Title:     e.Field("title"),
		Year:      year,
		Authors:   authors,
		Booktitle: e.Field("booktitle"),
		DOI:       strings.TrimSpace(e.Raw("doi")),
		URL:       strings.TrimSpace(e.Raw("url")),
		Address:   e.Field("address"),
		Pages:     strings.TrimSpace(e.Raw("pages")),
		ArticleNo: articleNo,
		Fields:    fields,
	}
}

// PaperID builds the stable paper id "<prefix><year>_<articleno>". Without
// an article number the slugified citation key is used instead.
func PaperID(prefix string, year int, articleNo, key string) string {
	if articleNo != "" && year > 0 {
		return fmt.Sprintf("%s%d_%s", prefix, year, Slug(articleNo))
	}
	return Slug(key)
}

// Slug lowercases s and replaces every run of characters outside [a-z0-9]
// with a single underscore.
func Slug(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(s) {
		if r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// EnsureLocal makes sure path exists, downloading it from url when absent.
// The download is written atomically. Any failure wraps
// types.ErrSourceUnavailable.
func EnsureLocal(ctx context.Context, client *http.Client, url, path, userAgent string) error {
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return nil
	}
	if url == "" {
		return fmt.Errorf("%w: %s missing and no URL configured", types.ErrSourceUnavailable, path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: creating request: %v", types.ErrSourceUnavailable, err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return fmt.Errorf("%w: fetching %s: %v", types.ErrSourceUnavailable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d from %s", types.ErrSourceUnavailable, resp.StatusCode, url)
	}

	if _, err := cache.WriteAtomic(path, resp.Body); err != nil {
		if errors.Is(err, cache.ErrEmpty) {
			return fmt.Errorf("%w: empty response from %s", types.ErrSourceUnavailable, url)
		}
		return fmt.Errorf("%w: saving %s: %v", types.ErrSourceUnavailable, path, err)
	}
	return nil
}
