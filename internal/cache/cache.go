// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache implements the per-paper content cache: a fixed directory
// taxonomy under one root with atomic writes, so that any artifact reported
// present is complete.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrEmpty is returned when a write would produce a zero-byte artifact.
var ErrEmpty = errors.New("empty artifact")

// Kind identifies one artifact type and where it lives in the taxonomy.
type Kind struct {
	Name string
	Dir  string
	Ext  string
}

var (
	KindPDF        = Kind{Name: "pdf", Dir: "pdf", Ext: ".pdf"}
	KindTEI        = Kind{Name: "tei", Dir: "xml", Ext: ".tei.xml"}
	KindGrobidText = Kind{Name: "grobid-text", Dir: filepath.Join("text", "grobid"), Ext: ".txt"}
	KindMinerText  = Kind{Name: "miner-text", Dir: filepath.Join("text", "miner"), Ext: ".txt"}
	KindExtraction = Kind{Name: "extraction", Dir: filepath.Join("json", "extraction"), Ext: ".json"}
	KindAuthors    = Kind{Name: "authors", Dir: filepath.Join("json", "authors"), Ext: ".json"}
	KindCitations  = Kind{Name: "citations", Dir: filepath.Join("json", "citations"), Ext: ".json"}
	KindTopics     = Kind{Name: "topics", Dir: "topics", Ext: ".txt"}
)

// Kinds lists every artifact kind in the taxonomy.
var Kinds = []Kind{
	KindPDF, KindTEI, KindGrobidText, KindMinerText,
	KindExtraction, KindAuthors, KindCitations, KindTopics,
}

const (
	// tableDir holds side tables that are not keyed by paper id.
	tableDir = "json"
	// stateDir holds tables that outlive a full purge.
	stateDir = "state"
)

// Store is the content cache rooted at one directory. It holds no in-memory
// state; everything it reports comes from the filesystem.
type Store struct {
	root string
}

// Open creates the taxonomy under root and returns a Store.
func Open(root string) (*Store, error) {
	for _, k := range Kinds {
		dir := filepath.Join(root, k.Dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

// Path returns the artifact path for (id, kind). The file may not exist.
func (s *Store) Path(id string, k Kind) string {
	return filepath.Join(s.root, k.Dir, id+k.Ext)
}

// TablePath returns the path of a named side table under json/.
func (s *Store) TablePath(name string) string {
	return filepath.Join(s.root, tableDir, name+".json")
}

// StatePath returns the path of a named table under state/. State tables
// such as the geocoder quota ledger are never purged.
func (s *Store) StatePath(name string) string {
	return filepath.Join(s.root, stateDir, name+".json")
}

// Exists reports whether a non-empty artifact exists for (id, kind).
// Zero-byte files are treated as absent.
func (s *Store) Exists(id string, k Kind) bool {
	info, err := os.Stat(s.Path(id, k))
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// Read returns the artifact bytes. A missing or empty artifact yields an
// error wrapping os.ErrNotExist.
func (s *Store) Read(id string, k Kind) ([]byte, error) {
	data, err := os.ReadFile(s.Path(id, k))
	if err != nil {
		return nil, fmt.Errorf("reading %s %s: %w", k.Name, id, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("reading %s %s: %w", k.Name, id, os.ErrNotExist)
	}
	return data, nil
}

// ReadJSON decodes the artifact into v.
func (s *Store) ReadJSON(id string, k Kind, v any) error {
	data, err := s.Read(id, k)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s %s: %w", k.Name, id, err)
	}
	return nil
}

// Write stores data as the artifact for (id, kind), replacing any previous
// version atomically.
func (s *Store) Write(id string, k Kind, data []byte) error {
	_, err := s.WriteFrom(id, k, bytes.NewReader(data))
	return err
}

// WriteJSON encodes v as indented JSON and writes it atomically.
func (s *Store) WriteJSON(id string, k Kind, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s %s: %w", k.Name, id, err)
	}
	return s.Write(id, k, data)
}

// WriteFrom streams r into the artifact for (id, kind). An empty stream is
// rejected with ErrEmpty and leaves any previous artifact untouched.
func (s *Store) WriteFrom(id string, k Kind, r io.Reader) (int64, error) {
	n, err := WriteAtomic(s.Path(id, k), r)
	if err != nil {
		return n, fmt.Errorf("writing %s %s: %w", k.Name, id, err)
	}
	return n, nil
}

// Purge removes the artifact for (id, kind). Removing a missing artifact is
// not an error.
func (s *Store) Purge(id string, k Kind) error {
	if err := os.Remove(s.Path(id, k)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("purging %s %s: %w", k.Name, id, err)
	}
	return nil
}

// PurgeAll wipes every artifact kind and side table except for the kinds
// listed in keep, then recreates the empty taxonomy. Files under state/
// survive.
func (s *Store) PurgeAll(keep ...Kind) error {
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[k.Dir] = true
	}

	for _, k := range Kinds {
		if kept[k.Dir] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, k.Dir)); err != nil {
			return fmt.Errorf("purging %s: %w", k.Name, err)
		}
	}
	// Side tables live directly under json/ next to per-paper kinds.
	matches, _ := filepath.Glob(filepath.Join(s.root, tableDir, "*.json"))
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return fmt.Errorf("purging table %s: %w", m, err)
		}
	}

	for _, k := range Kinds {
		if err := os.MkdirAll(filepath.Join(s.root, k.Dir), 0o755); err != nil {
			return fmt.Errorf("recreating cache directory: %w", err)
		}
	}
	return nil
}

// WriteAtomic copies r to path through a temporary file in the same
// directory, syncs it, and renames it into place. A reader never observes a
// partially written file. Empty input returns ErrEmpty.
func WriteAtomic(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".cache-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	n, copyErr := io.Copy(tmpFile, r)
	var syncErr error
	if copyErr == nil {
		syncErr = tmpFile.Sync()
	}
	closeErr := tmpFile.Close()

	switch {
	case copyErr != nil:
		os.Remove(tmpPath)
		return n, fmt.Errorf("writing temp file: %w", copyErr)
	case syncErr != nil:
		os.Remove(tmpPath)
		return n, fmt.Errorf("syncing temp file: %w", syncErr)
	case closeErr != nil:
		os.Remove(tmpPath)
		return n, fmt.Errorf("closing temp file: %w", closeErr)
	case n == 0:
		os.Remove(tmpPath)
		return 0, ErrEmpty
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return n, fmt.Errorf("renaming temp file: %w", err)
	}
	return n, nil
}
