// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package acquire downloads paper PDFs into the content cache with a
// bounded worker pool. Manually supplied PDFs in the override folder take
// precedence over downloads.
package acquire

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/internal/httputil"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// DefaultWorkers is the download pool size when none is configured.
const DefaultWorkers = 4

var pdfMagic = []byte("%PDF-")

// Origin records how a paper's PDF came to be in the cache.
type Origin string

const (
	OriginCached   Origin = "cached"
	OriginOverride Origin = "override"
	OriginDownload Origin = "download"
)

// Result is the outcome of fetching one paper.
type Result struct {
	ID     string
	Origin Origin
	URL    string
	Path   string
	Hash   string
	Pages  int
	// Repaired is set when the PDF only validated after a repair pass.
	Repaired bool
	Err      error
}

// BatchResult holds the outcome of a batch fetch.
type BatchResult struct {
	Downloaded int
	Skipped    int
	Overridden int
	Failed     int
	// Results are in input order.
	Results []Result
}

// Total returns the total number of papers processed.
func (r BatchResult) Total() int {
	return r.Downloaded + r.Skipped + r.Overridden + r.Failed
}

// HasFailures reports whether any paper failed.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// Fetcher places paper PDFs in the cache.
type Fetcher struct {
	Client *http.Client
	Store  *cache.Store
	Config types.AcquisitionConfig

	// Mailto joins the OpenAlex polite pool when resolving DOIs.
	Mailto string

	// Validator checks a PDF and counts its pages, repairing it in place
	// when needed; Validate when nil.
	Validator func(path string) (pages int, repaired bool, err error)

	Logger *slog.Logger
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

// FetchPaper makes sure the paper's PDF is in the cache and valid. Failures
// wrap types.ErrFetchFailure. Downloads and overrides are validated, and
// repaired if needed, before they are moved into the cache, so the cache
// only ever holds readable PDFs. A cached PDF that no longer reads is
// purged.
func (f *Fetcher) FetchPaper(ctx context.Context, entry types.BibEntry) Result {
	res := Result{ID: entry.ID, Path: f.Store.Path(entry.ID, cache.KindPDF)}
	log := f.logger().With("paper", entry.ID, "stage", "fetch")
	fail := func(err error) Result {
		res.Err = types.NewStageError(entry.ID, "fetch", fmt.Errorf("%w: %w", types.ErrFetchFailure, err))
		log.Warn("fetch failed", "error", err)
		return res
	}

	staged, err := f.place(ctx, entry, &res)
	if err != nil {
		return fail(err)
	}

	validate := f.Validator
	if validate == nil {
		validate = Validate
	}
	if staged == "" {
		pages, repaired, err := validate(res.Path)
		if err != nil {
			f.Store.Purge(entry.ID, cache.KindPDF)
			return fail(fmt.Errorf("cached PDF unreadable: %w", err))
		}
		res.Pages, res.Repaired = pages, repaired
	} else {
		defer os.Remove(staged)
		pages, repaired, err := validate(staged)
		if err != nil {
			return fail(err)
		}
		if err := os.Rename(staged, res.Path); err != nil {
			return fail(fmt.Errorf("moving PDF into the cache: %w", err))
		}
		res.Pages, res.Repaired = pages, repaired
	}
	if res.Repaired {
		log.Info("repaired malformed PDF")
	}

	hash, err := HashFile(res.Path)
	if err != nil {
		return fail(err)
	}
	res.Hash = hash
	log.Debug("PDF ready", "origin", res.Origin, "url", res.URL, "pages", res.Pages)
	return res
}

// place finds the PDF in the override folder, an existing cache entry, or
// a download, in that order of precedence. It returns the staged file to
// validate, or "" when the cache entry already holds the PDF.
func (f *Fetcher) place(ctx context.Context, entry types.BibEntry, res *Result) (string, error) {
	if override := f.overridePath(entry.ID); override != "" {
		res.Origin = OriginOverride
		res.URL = override
		same, err := sameContent(override, res.Path)
		if err != nil || same {
			return "", err
		}
		src, err := os.Open(override)
		if err != nil {
			return "", fmt.Errorf("opening override %s: %w", override, err)
		}
		defer src.Close()
		return f.stage(res.Path, src)
	}

	if f.Store.Exists(entry.ID, cache.KindPDF) {
		res.Origin = OriginCached
		return "", nil
	}

	pdfURL, source := f.ResolvePDFURL(ctx, entry)
	if pdfURL == "" {
		return "", errors.New("no PDF URL or DOI in bibliography entry")
	}
	res.Origin = OriginDownload
	res.URL = pdfURL
	f.logger().Debug("downloading", "paper", entry.ID, "source", source, "url", pdfURL)
	return f.download(ctx, res.Path, pdfURL)
}

// stage copies r into a hidden file beside dst, on the same filesystem so
// the final rename is atomic.
func (f *Fetcher) stage(dst string, r io.Reader) (string, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".fetch-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating staging file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	if _, err := cache.WriteAtomic(path, r); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// overridePath returns the manual PDF for id, or "" when there is none.
func (f *Fetcher) overridePath(id string) string {
	if f.Config.OverrideDir == "" {
		return ""
	}
	p := filepath.Join(f.Config.OverrideDir, id+".pdf")
	if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		return p
	}
	return ""
}

// download streams url into a staging file beside dst. The body must start
// with the PDF signature; HTML landing pages and empty bodies are failures.
func (f *Fetcher) download(ctx context.Context, dst, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.Config.UserAgent)
	req.Header.Set("Accept", "application/pdf")

	resp, err := httputil.DoWithRetry(ctx, f.Client, req, 0)
	if err != nil {
		return "", fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	br := bufio.NewReader(resp.Body)
	head, _ := br.Peek(len(pdfMagic))
	if len(head) == 0 {
		return "", fmt.Errorf("zero-byte download from %s", url)
	}
	if !bytes.Equal(head, pdfMagic) {
		return "", fmt.Errorf("not a PDF (Content-Type %q) from %s", resp.Header.Get("Content-Type"), url)
	}
	return f.stage(dst, br)
}

// FetchBatch fetches every entry with at most Config.Workers concurrent
// downloads, printing per-paper status to w. Each worker only writes its
// own paper's cache path. Per-paper failures do not stop the batch.
func (f *Fetcher) FetchBatch(ctx context.Context, entries []types.BibEntry, w io.Writer) BatchResult {
	workers := f.Config.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	results := make([]Result, len(entries))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, e := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{ID: e.ID, Err: types.NewStageError(e.ID, "fetch", err)}
				return nil
			}
			results[i] = f.FetchPaper(ctx, e)
			return nil
		})
	}
	g.Wait()

	batch := BatchResult{Results: results}
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(w, "failed:  %s (%v)\n", r.ID, r.Err)
			batch.Failed++
		case r.Origin == OriginCached:
			batch.Skipped++
		case r.Origin == OriginOverride:
			fmt.Fprintf(w, "override: %s\n", r.ID)
			batch.Overridden++
		default:
			fmt.Fprintf(w, "downloaded: %s\n", r.ID)
			batch.Downloaded++
		}
	}
	fmt.Fprintf(w, "\nFetch summary: %d downloaded, %d override, %d skipped, %d failed (total: %d)\n",
		batch.Downloaded, batch.Overridden, batch.Skipped, batch.Failed, batch.Total())
	return batch
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sameContent reports whether dst exists with the same bytes as src.
func sameContent(src, dst string) (bool, error) {
	if _, err := os.Stat(dst); err != nil {
		return false, nil
	}
	a, err := HashFile(src)
	if err != nil {
		return false, err
	}
	b, err := HashFile(dst)
	if err != nil {
		return false, nil
	}
	return a == b, nil
}
