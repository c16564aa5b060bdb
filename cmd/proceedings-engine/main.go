// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the proceedings-engine CLI.
// The run command drives the NIME proceedings through acquisition,
// extraction, author and citation enrichment, and export.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/proceedings-engine/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/, .env and the
// environment at startup.
var loadedSecrets map[string]string

// secretDefault returns fallback when it is set, or the loaded secret for key.
func secretDefault(key, fallback string) string {
	if fallback != "" {
		return fallback
	}
	return loadedSecrets[key]
}

// rootCmd is the base command for the proceedings-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "proceedings-engine",
	Short: "Build an analysis-ready table of the NIME proceedings",
	Long: `proceedings-engine downloads every paper of the NIME proceedings, extracts
its text and author affiliations, resolves author genders and locations,
looks up citation counts, and writes one row per paper to output/export.csv.

Every stage caches its result, so an interrupted or partially failed run is
resumed by running the same command again.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		s, err := secrets.LoadAll(".secrets/", ".env")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./proceedings-engine.yaml or ~/.config/proceedings-engine/proceedings-engine.yaml)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("proceedings-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "proceedings-engine"))
		}
	}

	viper.SetEnvPrefix("PROCEEDINGS_ENGINE")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
