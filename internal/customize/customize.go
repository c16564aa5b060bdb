// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package customize reads the user customization file: a CSV with a
// header row whose first column names the setting (years, keywords,
// ignore, merge) and whose remaining columns hold its values.
package customize

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Settings is the parsed customization file.
type Settings struct {
	// Years restricts processing to these publication years; empty means all.
	Years []int

	// Keywords are search terms for downstream keyword analyses.
	Keywords []string

	// Ignore are words dropped from topic models.
	Ignore []string

	// Merge groups words that downstream tools treat as one term.
	Merge [][]string
}

// Load reads the customization file at path. A missing file yields empty
// settings.
func Load(path string) (Settings, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("opening customization file: %w", err)
	}
	defer f.Close()
	s, err := Parse(f)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse reads customization settings from r. The first row is a header.
// A years row with one value selects that year; with two values it
// selects the inclusive range.
func Parse(r io.Reader) (Settings, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return Settings{}, fmt.Errorf("reading CSV: %w", err)
	}

	var s Settings
	for i, rec := range records {
		if i == 0 || len(rec) == 0 {
			continue
		}
		values := nonEmpty(rec[1:])
		switch strings.ToLower(strings.TrimSpace(rec[0])) {
		case "keywords":
			s.Keywords = append(s.Keywords, values...)
		case "ignore":
			s.Ignore = append(s.Ignore, values...)
		case "merge":
			if len(values) > 0 {
				s.Merge = append(s.Merge, values)
			}
		case "years":
			years, err := yearSpan(values)
			if err != nil {
				return Settings{}, fmt.Errorf("line %d: %w", i+1, err)
			}
			for _, y := range years {
				if !slices.Contains(s.Years, y) {
					s.Years = append(s.Years, y)
				}
			}
		}
	}
	slices.Sort(s.Years)
	return s, nil
}

func yearSpan(values []string) ([]int, error) {
	if len(values) == 0 {
		return nil, nil
	}
	from, err := strconv.Atoi(values[0])
	if err != nil {
		return nil, fmt.Errorf("invalid year %q", values[0])
	}
	if len(values) == 1 {
		return []int{from}, nil
	}
	to, err := strconv.Atoi(values[1])
	if err != nil {
		return nil, fmt.Errorf("invalid year %q", values[1])
	}
	if to < from {
		return nil, fmt.Errorf("year range %d-%d is reversed", from, to)
	}
	years := make([]int, 0, to-from+1)
	for y := from; y <= to; y++ {
		years = append(years, y)
	}
	return years, nil
}

func nonEmpty(cells []string) []string {
	var out []string
	for _, c := range cells {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// MergeMap maps every word of a merge group to the group's first word.
func (s Settings) MergeMap() map[string]string {
	m := make(map[string]string)
	for _, group := range s.Merge {
		for _, w := range group[1:] {
			m[strings.ToLower(w)] = group[0]
		}
	}
	return m
}
