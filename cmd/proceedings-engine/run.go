// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/proceedings-engine/internal/customize"
	"github.com/pdiddy/proceedings-engine/internal/pipeline"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the proceedings and write the export table",
	Long: `Run loads the bibliography and drives every paper through download,
text extraction, author resolution, citation lookup, and assembly. Each
result is cached; papers whose row is already complete are skipped, so
rerunning after an interruption or a failed download only repeats the
missing work.

Interrupt with Ctrl-C, or send SIGTERM, to stop after the current paper.
The export files reflect everything finished so far; the geocoder quota
ledger, the location memo, and the author registry are saved after every
paper.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	addStoreFlags(runCmd)
	f.BoolP("verbose", "v", false, "also print the run log to stderr")
	f.BoolP(keyCitations, "c", false, "bypass cached citation records")
	f.BoolP(keyGrobid, "g", false, "force re-extraction of text and affiliations")
	f.BoolP(keyRedo, "r", false, "wipe the cache and the export table before running")
	f.Bool(keyKeepPDFs, false, "keep downloaded PDFs when --redo wipes the cache")
	f.BoolP(keyNIME, "n", false, "apply the manual corrections table")
	f.BoolP(keyPDF, "p", false, "extract text from supplied PDFs for web-native years")
	f.String(keyOCKey, "", "OpenCage geocoder API key")
	f.String(keySSKey, "", "Semantic Scholar API key")
	f.String(keyMailto, "", "contact email for the OpenAlex polite pool")
	f.Float64P(keySleep, "s", 0, "seconds between citation requests (default 3, 1 with an API key)")
	f.IntP(keyWorkers, "w", 0, "concurrent PDF downloads (default 4)")
	f.Int(keyLimit, 0, "process only the first N papers")
	f.String(keyCustom, "resources/custom.csv", "customization CSV (years, keywords, ignore, merge)")
	f.String(keyBib, "resources/nime_papers.bib", "local bibliography, downloaded when missing")
	f.String(keyBibURL, "", "bibliography download URL")
	f.String(keyUnidomains, "resources/world_universities_and_domains.json", "university domains list, downloaded when missing")
	f.String(keyPDFDir, "resources/pdfs", "manually supplied PDFs named <paper id>.pdf")
	f.String(keyConfTable, "", "conference location table (YAML, default built in)")
	f.String(keyOverrides, "", "manual corrections table (YAML, default built in)")
	f.String(keyGrobidURL, "", "GROBID service URL (default http://localhost:8070)")
	f.String(keyFallback, string(types.BackendPdftext), "plain-text extractor: pdftext, markitdown, none")
	f.String(keyGenderURL, "", "genderize-compatible classifier URL (default https://api.genderize.io, none disables)")
	f.String(keyGenderKey, "", "classifier response field holding the label (default gender)")
	f.StringSlice(keyNeutral, nil, "classifier labels read as non-binary (default n, neutral, nonbinary, non-binary, x)")
	f.String(keyMerge, string(types.MergeNormalizedName), "author identity: normalized-name, name-and-affiliation, none")
	f.Int(keyQuota, 0, "geocoder requests per UTC day (default 2500)")
	f.Duration(keyTimeout, 0, "HTTP request timeout (default 60s)")
	f.StringSlice(keyFormats, nil, "extra export formats besides csv: json, yaml")

	rootCmd.AddCommand(runCmd)
}

// addStoreFlags adds the directory flags every command shares.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String(keyCacheDir, "cache", "content cache directory")
	cmd.Flags().String(keyOutputDir, "output", "export directory")
}

func runRun(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger, closer, err := openRunLog(runLogFile, verbose, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	cfg := pipelineConfig(viper.GetViper())
	custom, err := customize.Load(viper.GetString(keyCustom))
	if err != nil {
		return err
	}
	pipeline.ApplyCustomization(&cfg, custom)
	logger.Info("configuration resolved",
		"years", cfg.Source.Years, "redo", cfg.Redo, "corrections", cfg.Authors.Corrections,
		"refresh_citations", cfg.Citations.Refresh, "force_extraction", cfg.Conversion.Force,
		"keywords", len(custom.Keywords), "merge_groups", len(custom.Merge))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := pipeline.Build(ctx, cfg, logger, os.Stdout)
	if err != nil {
		return err
	}
	defer runner.Close()

	entries, err := runner.Load(ctx)
	if err != nil {
		logger.Error("bibliography unavailable", "error", err)
		return err
	}

	sum, err := runner.Run(ctx, entries)
	if errors.Is(err, context.Canceled) {
		// The summary already tells the user to rerun.
		return nil
	}
	if err != nil {
		return err
	}
	if sum.Incomplete > 0 {
		fmt.Fprintf(os.Stdout, "%d paper(s) incomplete; see %s and rerun to retry them.\n", sum.Incomplete, runLogFile)
	}
	return nil
}
