// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline drives every paper through the stage state machine
// Pending → Fetched → Extracted → Enriched → Assembled and writes the
// export table. Each stage consults the content cache first, so a rerun
// only repeats the work a previous run could not finish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/pdiddy/proceedings-engine/internal/acquire"
	"github.com/pdiddy/proceedings-engine/internal/assemble"
	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/internal/export"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// Fetcher places paper PDFs in the cache.
type Fetcher interface {
	FetchBatch(ctx context.Context, entries []types.BibEntry, w io.Writer) acquire.BatchResult
}

// Extractor produces the extraction fragment of a fetched paper.
type Extractor interface {
	Extract(ctx context.Context, entry types.BibEntry, pdfHash string, pages int) (types.Extraction, error)
	WebNative(year int) bool
}

// AuthorResolver produces the author fragment of an extracted paper.
type AuthorResolver interface {
	Resolve(ctx context.Context, entry types.BibEntry, ext types.Extraction) ([]types.Author, error)
}

// CitationEnricher produces the citation fragment of a paper.
type CitationEnricher interface {
	Enrich(ctx context.Context, entry types.BibEntry) (types.CitationRecord, error)
}

// Flusher persists a side table at the end of a run.
type Flusher interface {
	Flush() error
}

// Pipeline holds the stages of one run. Every store is opened by the
// caller and outlives the run.
type Pipeline struct {
	Store  *cache.Store
	Export *export.Store

	Fetcher   Fetcher
	Extractor Extractor
	Authors   AuthorResolver

	// Citations is nil when citation lookups are disabled; cached records
	// are still exported.
	Citations CitationEnricher

	Assembler *assemble.Assembler

	// Flushers are flushed after every stored row and once more at the
	// end of the run, even on interruption.
	Flushers []Flusher

	// RefreshCitations and ForceExtraction recompute rows that are
	// already complete. Only the forced stage repeats its work; the other
	// stages answer from the cache.
	RefreshCitations bool
	ForceExtraction  bool

	// Limit processes only the first Limit papers when positive.
	Limit int

	// Formats lists extra export formats besides CSV.
	Formats []string

	Logger *slog.Logger

	// Out receives per-paper status lines and the batch summary.
	Out io.Writer
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Pipeline) out() io.Writer {
	if p.Out == nil {
		return io.Discard
	}
	return p.Out
}

// Summary counts the outcome of a run.
type Summary struct {
	Total int
	// Skipped rows were already complete and not recomputed.
	Skipped    int
	Processed  int
	Complete   int
	Incomplete int

	// Failures counts per-paper failures by stage name.
	Failures map[string]int

	// QuotaExceeded counts papers degraded by a service quota.
	QuotaExceeded int

	Interrupted bool
}

// Run processes entries in bibliography order. Per-paper failures are
// logged and leave the row incomplete for the next run; only a storage
// failure or interruption ends the run early. The export files are
// rendered in every case.
func (p *Pipeline) Run(ctx context.Context, entries []types.BibEntry) (Summary, error) {
	log := p.logger()
	w := p.out()
	if p.Limit > 0 && len(entries) > p.Limit {
		entries = entries[:p.Limit]
	}
	sum := Summary{Total: len(entries), Failures: make(map[string]int)}

	// Storage writes must land even after an interrupt.
	persist := context.WithoutCancel(ctx)

	var pending []types.BibEntry
	var orders []int
	for i, e := range entries {
		done, err := p.Export.Complete(persist, e.ID)
		if err != nil {
			return sum, err
		}
		if done && !p.RefreshCitations && !p.ForceExtraction {
			sum.Skipped++
			continue
		}
		pending = append(pending, e)
		orders = append(orders, i)
	}
	log.Info("run started", "papers", len(entries), "pending", len(pending), "complete", sum.Skipped)

	var runErr error
	if len(pending) > 0 {
		fetched := p.Fetcher.FetchBatch(ctx, pending, w)
		for i, e := range pending {
			if ctx.Err() != nil {
				sum.Interrupted = true
				break
			}
			row, errs := p.process(ctx, orders[i], e, fetched.Results[i])
			if err := p.Export.Upsert(persist, row); err != nil {
				runErr = err
				break
			}
			body := ""
			if row.Extraction.Status == types.ExtractionOK {
				body = row.Extraction.Body
			}
			if err := p.Export.WriteText(e.ID, body); err != nil {
				runErr = err
				break
			}
			p.record(&sum, row, errs)
			if err := p.flush(); err != nil {
				log.Warn("side tables not persisted", "paper", e.ID, "error", err)
			}
		}
	}
	if ctx.Err() != nil {
		sum.Interrupted = true
	}

	var flushErrs []error
	if err := p.flush(); err != nil {
		flushErrs = append(flushErrs, err)
	}
	if err := p.Export.Render(persist, p.Formats); err != nil {
		flushErrs = append(flushErrs, err)
	}

	p.printSummary(w, sum)
	log.Info("run finished",
		"processed", sum.Processed, "complete", sum.Complete, "incomplete", sum.Incomplete,
		"skipped", sum.Skipped, "interrupted", sum.Interrupted)

	if runErr == nil && sum.Interrupted {
		runErr = ctx.Err()
	}
	return sum, errors.Join(append([]error{runErr}, flushErrs...)...)
}

// process advances one paper as far as its stages allow and assembles
// the row. The returned errors are the per-paper failures; any of them
// marks the row incomplete.
func (p *Pipeline) process(ctx context.Context, order int, entry types.BibEntry, fetched acquire.Result) (types.Paper, []error) {
	log := p.logger().With("paper", entry.ID)
	f := assemble.Fragments{
		Entry:     entry,
		Order:     order,
		WebNative: p.Extractor.WebNative(entry.Year),
	}
	state := types.StagePending
	var errs []error

	if fetched.Err != nil {
		errs = append(errs, fetched.Err)
		f.Extraction = types.Extraction{Status: types.ExtractionFailed}
	} else {
		state = types.StageFetched
		ext, err := p.Extractor.Extract(ctx, entry, fetched.Hash, fetched.Pages)
		if err != nil {
			errs = append(errs, err)
			f.Extraction = types.Extraction{Status: types.ExtractionFailed, PDFHash: fetched.Hash}
		} else {
			state = types.StageExtracted
			f.Extraction = ext
		}
	}

	// Enrichment needs the extraction output for author queries.
	if state == types.StageExtracted {
		if p.ForceExtraction {
			// Authors derive from the new extraction; locations still come
			// from the memo.
			if err := p.Store.Purge(entry.ID, cache.KindAuthors); err != nil {
				log.Warn("stale author fragment kept", "error", err)
			}
		}
		authors, aerr := p.Authors.Resolve(ctx, entry, f.Extraction)
		f.Authors = authors
		rec, cerr := p.citations(ctx, entry)
		f.Citations = rec
		if aerr != nil {
			errs = append(errs, aerr)
		}
		if cerr != nil {
			errs = append(errs, cerr)
		}
		if aerr == nil && cerr == nil {
			state = types.StageEnriched
		}
	}

	row, err := p.Assembler.Assemble(ctx, f)
	if err != nil {
		errs = append(errs, err)
	} else if state == types.StageEnriched {
		state = types.StageAssembled
	}
	row.Stage = state
	row.Complete = row.Complete && len(errs) == 0

	for _, err := range errs {
		log.Warn("paper incomplete", "error", err)
	}
	log.Debug("paper processed", "stage", state, "complete", row.Complete)
	return row, errs
}

// flush persists every side table. The tables skip the write when nothing
// changed.
func (p *Pipeline) flush() error {
	var errs []error
	for _, f := range p.Flushers {
		if err := f.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// citations returns the citation fragment, falling back to a cached record
// when lookups are disabled.
func (p *Pipeline) citations(ctx context.Context, entry types.BibEntry) (types.CitationRecord, error) {
	if p.Citations != nil {
		return p.Citations.Enrich(ctx, entry)
	}
	var rec types.CitationRecord
	if err := p.Store.ReadJSON(entry.ID, cache.KindCitations, &rec); err != nil {
		return types.CitationRecord{Status: types.CitationPending}, nil
	}
	return rec, nil
}

func (p *Pipeline) record(sum *Summary, row types.Paper, errs []error) {
	sum.Processed++
	if row.Complete {
		sum.Complete++
	} else {
		sum.Incomplete++
	}
	quota := false
	for _, err := range errs {
		stage := "unknown"
		var se *types.StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		sum.Failures[stage]++
		if errors.Is(err, types.ErrQuotaExceeded) {
			quota = true
		}
	}
	if quota {
		sum.QuotaExceeded++
	}
}

func (p *Pipeline) printSummary(w io.Writer, sum Summary) {
	fmt.Fprintf(w, "\nBatch summary: %d processed, %d complete, %d incomplete, %d skipped (total: %d)\n",
		sum.Processed, sum.Complete, sum.Incomplete, sum.Skipped, sum.Total)
	if len(sum.Failures) > 0 {
		parts := make([]string, 0, len(sum.Failures))
		for _, stage := range slices.Sorted(maps.Keys(sum.Failures)) {
			parts = append(parts, fmt.Sprintf("%s %d", stage, sum.Failures[stage]))
		}
		fmt.Fprintf(w, "Failures by stage: %s\n", strings.Join(parts, ", "))
	}
	if sum.QuotaExceeded > 0 {
		fmt.Fprintf(w, "Quota exceeded for %d paper(s); rerun tomorrow to resolve them.\n", sum.QuotaExceeded)
	}
	if sum.Interrupted {
		fmt.Fprintln(w, "Run interrupted; rerun to continue.")
	}
}
