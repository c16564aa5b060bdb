// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package overrides holds manual corrections for known-problematic raw
// values: author names, genders, affiliation strings. A nil *Table is valid
// and corrects nothing, which is how correction mode is switched off.
package overrides

import (
	_ "embed"
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/proceedings-engine/pkg/types"
)

//go:embed nime.yaml
var builtinNIME []byte

// Name is a normalized first/last name pair.
type Name struct {
	First string `yaml:"first"`
	Last  string `yaml:"last"`
}

// NameRule replaces one normalized name with another.
type NameRule struct {
	From Name `yaml:"from"`
	To   Name `yaml:"to"`
}

// GenderRule forces the gender of one normalized name.
type GenderRule struct {
	First  string       `yaml:"first"`
	Last   string       `yaml:"last"`
	Gender types.Gender `yaml:"gender"`
}

// Table is a finite mapping of raw values to corrected values.
type Table struct {
	Names   []NameRule   `yaml:"names"`
	Genders []GenderRule `yaml:"genders"`

	// Affiliations maps a raw affiliation/location query to the string that
	// is geocoded instead.
	Affiliations map[string]string `yaml:"affiliations"`

	// RawNames maps an author string as written in the bibliography to a
	// corrected one, applied by the loader.
	RawNames map[string]string `yaml:"raw_names"`

	// CitationAuthors maps a paper title to the author token used in
	// citation queries when the title alone matches other papers.
	CitationAuthors map[string]string `yaml:"citation_authors"`

	names   map[Name]Name
	genders map[Name]types.Gender
}

// Builtin returns the embedded NIME correction table.
func Builtin() (*Table, error) {
	return parse(builtinNIME, "builtin")
}

// Load reads a correction table from a YAML file. An empty path selects
// the built-in table.
func Load(path string) (*Table, error) {
	if path == "" {
		return Builtin()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading overrides %s: %w", path, err)
	}
	return parse(data, path)
}

func parse(data []byte, origin string) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing overrides %s: %w", origin, err)
	}
	t.index()
	return &t, nil
}

func (t *Table) index() {
	t.names = make(map[Name]Name, len(t.Names))
	for _, r := range t.Names {
		t.names[r.From] = r.To
	}
	t.genders = make(map[Name]types.Gender, len(t.Genders))
	for _, r := range t.Genders {
		t.genders[Name{First: r.First, Last: r.Last}] = r.Gender
	}
}

// Name returns the corrected name for first/last.
func (t *Table) Name(first, last string) (string, string, bool) {
	if t == nil {
		return first, last, false
	}
	to, ok := t.names[Name{First: first, Last: last}]
	if !ok {
		return first, last, false
	}
	return to.First, to.Last, true
}

// Gender returns a forced gender for the corrected name.
func (t *Table) Gender(first, last string) (types.Gender, bool) {
	if t == nil {
		return "", false
	}
	g, ok := t.genders[Name{First: first, Last: last}]
	return g, ok
}

// Affiliation returns the corrected geocoding query for raw.
func (t *Table) Affiliation(raw string) (string, bool) {
	if t == nil {
		return raw, false
	}
	v, ok := t.Affiliations[raw]
	if !ok {
		return raw, false
	}
	return v, true
}

// RawName returns the corrected bibliography author string for raw.
func (t *Table) RawName(raw string) (string, bool) {
	if t == nil {
		return raw, false
	}
	v, ok := t.RawNames[raw]
	if !ok {
		return raw, false
	}
	return v, true
}

// CitationAuthor returns the forced citation-query author for a title.
func (t *Table) CitationAuthor(title string) (string, bool) {
	if t == nil {
		return "", false
	}
	v, ok := t.CitationAuthors[title]
	return v, ok
}
