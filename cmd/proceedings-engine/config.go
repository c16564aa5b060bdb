// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pdiddy/proceedings-engine/internal/secrets"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

const defaultUserAgent = "proceedings-engine/0.1"

// envKeyReplacer maps flag-style keys to PROCEEDINGS_ENGINE_* variables.
var envKeyReplacer = strings.NewReplacer("-", "_", ".", "_")

// Viper keys shared by the commands. Each matches a flag name, so a config
// file uses the same names as the command line.
const (
	keyCacheDir   = "cache-dir"
	keyOutputDir  = "output-dir"
	keyBib        = "bib"
	keyBibURL     = "bib-url"
	keyUnidomains = "unidomains"
	keyPDFDir     = "pdf-dir"
	keyCustom     = "custom"
	keyGrobidURL  = "grobid-url"
	keyFallback   = "fallback"
	keyFormats    = "formats"
	keyTimeout    = "timeout"
	keyWorkers    = "workers"
	keyLimit      = "limit"
	keyRedo       = "redo"
	keyKeepPDFs   = "keep-pdfs"
	keyCitations  = "citations"
	keyGrobid     = "grobid"
	keyNIME       = "nime"
	keyPDF        = "pdf"
	keyOCKey      = "ockey"
	keySSKey      = "sskey"
	keySleep      = "sleep"
	keyQuota      = "geocode-quota"
	keyGenderURL  = "gender-url"
	keyGenderKey  = "gender-label-field"
	keyNeutral    = "gender-neutral-labels"
	keyMerge      = "merge-strategy"
	keyOverrides  = "overrides"
	keyConfTable  = "conferences"
	keyMailto     = "mailto"
)

// pipelineConfig resolves the pipeline configuration from v once, before
// any stage runs. API keys fall back to the loaded secrets.
func pipelineConfig(v *viper.Viper) types.PipelineConfig {
	httpCfg := types.HTTPConfig{
		Timeout:   v.GetDuration(keyTimeout),
		UserAgent: defaultUserAgent,
	}
	ssKey := secretDefault(secrets.SemanticScholarAPIKey, v.GetString(keySSKey))
	mailto := secretDefault(secrets.OpenAlexEmail, v.GetString(keyMailto))

	cfg := types.PipelineConfig{
		Source: types.SourceConfig{
			HTTPConfig:     httpCfg,
			BibURL:         v.GetString(keyBibURL),
			BibPath:        v.GetString(keyBib),
			UnidomainsPath: v.GetString(keyUnidomains),
		},
		Acquisition: types.AcquisitionConfig{
			HTTPConfig:  httpCfg,
			Workers:     v.GetInt(keyWorkers),
			OverrideDir: v.GetString(keyPDFDir),
		},
		Conversion: types.ConversionConfig{
			HTTPConfig:    httpCfg,
			GrobidURL:     v.GetString(keyGrobidURL),
			Fallback:      types.ConversionBackend(v.GetString(keyFallback)),
			Force:         v.GetBool(keyGrobid),
			PDFPrecedence: v.GetBool(keyPDF),
		},
		Authors: types.AuthorConfig{
			HTTPConfig:    httpCfg,
			Corrections:   v.GetBool(keyNIME),
			OverridesPath: v.GetString(keyOverrides),
			MergeStrategy: types.MergeStrategy(v.GetString(keyMerge)),
			GenderAPIURL:  v.GetString(keyGenderURL),
			GenderAPIKey:  secretDefault(secrets.GenderizeAPIKey, ""),

			GenderLabelField:    v.GetString(keyGenderKey),
			GenderNeutralLabels: v.GetStringSlice(keyNeutral),
		},
		Geocode: types.GeocodeConfig{
			HTTPConfig: httpCfg,
			APIKey:     secretDefault(secrets.OpenCageAPIKey, v.GetString(keyOCKey)),
			DailyQuota: v.GetInt(keyQuota),
		},
		Citations: types.CitationConfig{
			HTTPConfig:            httpCfg,
			SemanticScholarAPIKey: ssKey,
			OpenAlexEmail:         mailto,
			Sleep:                 seconds(v.GetFloat64(keySleep)),
			Refresh:               v.GetBool(keyCitations),
		},
		Export: types.ExportConfig{
			OutputDir:       v.GetString(keyOutputDir),
			ConferencesPath: v.GetString(keyConfTable),
			Formats:         v.GetStringSlice(keyFormats),
		},
		CacheDir: v.GetString(keyCacheDir),
		Redo:     v.GetBool(keyRedo),
		KeepPDFs: v.GetBool(keyKeepPDFs),
		Limit:    v.GetInt(keyLimit),
	}
	return cfg
}

// seconds converts a fractional number of seconds; zero or less selects
// the stage default.
func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
