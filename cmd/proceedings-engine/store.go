// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/internal/export"
)

// --- purge subcommand ---

var purgeCmd = &cobra.Command{
	Use:   "purge [paper-ids...]",
	Short: "Remove cached artifacts",
	Long: `Purge removes cached artifacts so the next run recomputes them. With
paper ids it removes every artifact and the export row of those papers;
without, it wipes the cache. The geocoder quota ledger is kept in both
cases.`,
	RunE: runPurge,
}

func init() {
	addStoreFlags(purgeCmd)
	purgeCmd.Flags().Bool(keyKeepPDFs, false, "keep downloaded PDFs")
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	store, err := cache.Open(viper.GetString(keyCacheDir))
	if err != nil {
		return err
	}
	keepPDFs := viper.GetBool(keyKeepPDFs)

	if len(args) == 0 {
		var keep []cache.Kind
		if keepPDFs {
			keep = append(keep, cache.KindPDF)
		}
		if err := store.PurgeAll(keep...); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Purged %s\n", store.Root())
		return nil
	}
	exp, err := export.Open(viper.GetString(keyOutputDir))
	if err != nil {
		return err
	}
	defer exp.Close()

	for _, id := range args {
		if err := exp.Delete(context.Background(), id); err != nil {
			return err
		}
		for _, k := range cache.Kinds {
			if keepPDFs && k == cache.KindPDF {
				continue
			}
			if err := store.Purge(id, k); err != nil {
				return err
			}
		}
		fmt.Fprintf(os.Stdout, "Purged %s\n", id)
	}
	return nil
}

// --- status subcommand ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the export table",
	Long:  `Status counts the rows of the export table by completeness and stage.`,
	RunE:  runStatus,
}

func init() {
	addStoreFlags(statusCmd)
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	exp, err := export.Open(viper.GetString(keyOutputDir))
	if err != nil {
		return err
	}
	defer exp.Close()

	sum, err := exp.Status(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%d paper(s), %d complete, %d incomplete\n", sum.Rows, sum.Complete, sum.Rows-sum.Complete)
	for _, stage := range slices.Sorted(maps.Keys(sum.ByStage)) {
		fmt.Fprintf(os.Stdout, "  %-10s %d\n", stage, sum.ByStage[stage])
	}
	return nil
}

// --- export subcommand ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Rewrite the export files from the export table",
	Long: `Export renders export.csv, and any extra formats, from the rows stored by
previous runs without contacting any service.`,
	RunE: runExport,
}

func init() {
	addStoreFlags(exportCmd)
	exportCmd.Flags().StringSlice(keyFormats, nil, "extra export formats besides csv: json, yaml")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	exp, err := export.Open(viper.GetString(keyOutputDir))
	if err != nil {
		return err
	}
	defer exp.Close()

	if err := exp.Render(context.Background(), viper.GetStringSlice(keyFormats)); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Wrote %s\n", exp.Dir())
	return nil
}
