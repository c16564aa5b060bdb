// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/proceedings-engine/internal/secrets"
)

func TestPipelineConfig_FlagsAndSecrets(t *testing.T) {
	loadedSecrets = map[string]string{
		secrets.OpenCageAPIKey:        "oc-secret",
		secrets.SemanticScholarAPIKey: "ss-secret",
		secrets.GenderizeAPIKey:       "gz-secret",
	}
	t.Cleanup(func() { loadedSecrets = nil })

	v := viper.New()
	v.Set(keyCacheDir, "c")
	v.Set(keyOutputDir, "o")
	v.Set(keyBib, "nime.bib")
	v.Set(keyCitations, true)
	v.Set(keyGrobid, true)
	v.Set(keyRedo, true)
	v.Set(keyNIME, true)
	v.Set(keyPDF, true)
	v.Set(keySSKey, "ss-flag")
	v.Set(keySleep, 1.5)
	v.Set(keyWorkers, 1)
	v.Set(keyLimit, 10)
	v.Set(keyFormats, []string{"json"})
	v.Set(keyGenderKey, "label")
	v.Set(keyNeutral, []string{"nb"})

	cfg := pipelineConfig(v)

	assert.Equal(t, "c", cfg.CacheDir)
	assert.Equal(t, "o", cfg.Export.OutputDir)
	assert.Equal(t, "nime.bib", cfg.Source.BibPath)
	assert.True(t, cfg.Citations.Refresh)
	assert.True(t, cfg.Conversion.Force)
	assert.True(t, cfg.Redo)
	assert.True(t, cfg.Authors.Corrections)
	assert.True(t, cfg.Conversion.PDFPrecedence)
	assert.Equal(t, 1500*time.Millisecond, cfg.Citations.Sleep)
	assert.Equal(t, 1, cfg.Acquisition.Workers)
	assert.Equal(t, 10, cfg.Limit)
	assert.Equal(t, []string{"json"}, cfg.Export.Formats)
	assert.Equal(t, "label", cfg.Authors.GenderLabelField)
	assert.Equal(t, []string{"nb"}, cfg.Authors.GenderNeutralLabels)
	assert.Empty(t, cfg.Authors.GenderAPIURL, "the model classifier default is chosen at build time")

	assert.Equal(t, "ss-flag", cfg.Citations.SemanticScholarAPIKey, "a flag wins over a stored secret")
	assert.Equal(t, "oc-secret", cfg.Geocode.APIKey)
	assert.Equal(t, "gz-secret", cfg.Authors.GenderAPIKey)
	assert.Equal(t, defaultUserAgent, cfg.Citations.UserAgent)
}

func TestSeconds(t *testing.T) {
	assert.Zero(t, seconds(0))
	assert.Zero(t, seconds(-2))
	assert.Equal(t, 3*time.Second, seconds(3))
}

func TestOpenRunLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), runLogFile)
	require.NoError(t, os.WriteFile(path, []byte("previous run\n"), 0o644))

	var stderr bytes.Buffer
	logger, closer, err := openRunLog(path, false, &stderr)
	require.NoError(t, err)
	logger.Info("paper processed", "paper", "nime2014_1")
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "previous run", "the log is overwritten per invocation")
	assert.Contains(t, string(data), "paper=nime2014_1")
	assert.Contains(t, string(data), "run=")
	assert.NotContains(t, string(data), "hidden")
	assert.Empty(t, stderr.String())

	logger, closer, err = openRunLog(path, true, &stderr)
	require.NoError(t, err)
	logger.Debug("detail")
	require.NoError(t, closer.Close())
	assert.Contains(t, stderr.String(), "msg=detail")
}
