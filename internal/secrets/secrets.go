// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value. Keys missing from the directory may also come
// from a dotenv file or the process environment under their upper-case names.
//
// Supported key files: opencage-api-key, semantic-scholar-api-key, genderize-api-key, openalex-email.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Key file names.
const (
	OpenCageAPIKey        = "opencage-api-key"
	SemanticScholarAPIKey = "semantic-scholar-api-key"
	GenderizeAPIKey       = "genderize-api-key"
	OpenAlexEmail         = "openalex-email"
)

// Known lists the keys looked up in the environment.
var Known = []string{OpenCageAPIKey, SemanticScholarAPIKey, GenderizeAPIKey, OpenAlexEmail}

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files produce a warning on stderr but do not abort.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read secret %s: %v\n", name, err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// EnvName returns the environment variable for a key file name
// ("opencage-api-key" becomes "OPENCAGE_API_KEY").
func EnvName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// LoadAll reads dir, then fills the Known keys it lacks from envFile and
// finally from the process environment. A missing envFile is not an error.
func LoadAll(dir, envFile string) (map[string]string, error) {
	secrets, err := Load(dir)
	if err != nil {
		return nil, err
	}

	env := map[string]string{}
	if envFile != "" {
		env, err = godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", envFile, err)
		}
	}

	for _, key := range Known {
		if _, ok := secrets[key]; ok {
			continue
		}
		name := EnvName(key)
		value := strings.TrimSpace(env[name])
		if value == "" {
			value = strings.TrimSpace(os.Getenv(name))
		}
		if value != "" {
			secrets[key] = value
		}
	}
	return secrets, nil
}
