// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package assemble merges the per-stage fragments of a paper into one
// export row, joins the conference site, and computes author travel.
package assemble

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/proceedings-engine/pkg/types"
)

//go:embed conferences.yaml
var builtinConferences []byte

// Conferences is the conference-site reference table keyed by year.
type Conferences struct {
	byYear map[int]types.ConferenceSite
}

// LoadConferences reads a YAML list of conference sites. An empty path
// selects the built-in table.
func LoadConferences(path string) (*Conferences, error) {
	data := builtinConferences
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("reading conference table: %w", err)
		}
	}
	var sites []types.ConferenceSite
	if err := yaml.Unmarshal(data, &sites); err != nil {
		return nil, fmt.Errorf("parsing conference table: %w", err)
	}
	c := &Conferences{byYear: make(map[int]types.ConferenceSite, len(sites))}
	for _, s := range sites {
		c.byYear[s.Year] = s
	}
	return c, nil
}

// Site returns the conference site for year.
func (c *Conferences) Site(year int) (types.ConferenceSite, bool) {
	if c == nil {
		return types.ConferenceSite{}, false
	}
	s, ok := c.byYear[year]
	return s, ok
}

// Geocoder resolves a free-text location query.
type Geocoder interface {
	Locate(ctx context.Context, query string) (types.Location, error)
}

// Fragments are the stage outputs of one paper.
type Fragments struct {
	Entry      types.BibEntry
	Order      int
	WebNative  bool
	Extraction types.Extraction
	Authors    []types.Author
	Citations  types.CitationRecord
}

// Assembler builds export rows.
type Assembler struct {
	Conferences *Conferences

	// Geocoder resolves the bibliography address for years missing from
	// the conference table; nil leaves those conferences unresolved.
	Geocoder Geocoder
}

// Assemble merges f into one row. The returned error reports a conference
// lookup that should be retried; the row is still usable and marked
// incomplete.
func (a *Assembler) Assemble(ctx context.Context, f Fragments) (types.Paper, error) {
	p := types.Paper{
		Bib:        f.Entry,
		Order:      f.Order,
		Stage:      types.StageAssembled,
		WebNative:  f.WebNative,
		Extraction: f.Extraction,
		Citations:  f.Citations,
		Authors:    make([]types.Author, len(f.Authors)),
	}
	copy(p.Authors, f.Authors)
	if p.Extraction.Status == "" {
		p.Extraction.Status = types.ExtractionPending
	}
	if p.Citations.Status == "" {
		p.Citations.Status = types.CitationPending
	}

	site, settled, err := a.conference(ctx, f.Entry)
	p.Conference = site
	for i := range p.Authors {
		travel(&p.Authors[i], site)
	}
	p.Complete = settled && Complete(p)
	return p, err
}

// conference resolves the site for entry. settled is false when the
// answer may change on a later run.
func (a *Assembler) conference(ctx context.Context, entry types.BibEntry) (*types.ConferenceSite, bool, error) {
	if s, ok := a.Conferences.Site(entry.Year); ok {
		return &s, true, nil
	}
	address := strings.TrimSpace(entry.Address)
	if address == "" {
		return nil, true, nil
	}
	if a.Geocoder == nil {
		return nil, false, nil
	}
	loc, err := a.Geocoder.Locate(ctx, address)
	if err != nil {
		return nil, false, types.NewStageError(entry.ID, "assemble", fmt.Errorf("conference location: %w", err))
	}
	if !loc.Resolved() {
		return nil, loc.Settled(), nil
	}
	return &types.ConferenceSite{
		Year:    entry.Year,
		City:    address,
		Country: loc.Country,
		Lat:     loc.Lat,
		Lng:     loc.Lng,
	}, true, nil
}

// travel sets the distance and footprint of a to site. Online conferences
// have a zero footprint.
func travel(a *types.Author, site *types.ConferenceSite) {
	a.DistanceKm, a.FootprintT = nil, nil
	if site == nil || !a.Location.Resolved() {
		return
	}
	d := DistanceKm(a.Location.Lat, a.Location.Lng, site.Lat, site.Lng)
	fp := FootprintT(d)
	if site.Online {
		fp = 0
	}
	a.DistanceKm, a.FootprintT = &d, &fp
}

// Complete reports whether every required field of p holds a value or an
// explicit unavailable marker.
func Complete(p types.Paper) bool {
	if p.Bib.ID == "" || p.Bib.Title == "" {
		return false
	}
	if p.Extraction.Status != types.ExtractionOK && p.Extraction.Status != types.ExtractionFailed {
		return false
	}
	if p.Citations.Status != types.CitationOK && p.Citations.Status != types.CitationNotFound {
		return false
	}
	if len(p.Authors) != len(p.Bib.Authors) {
		return false
	}
	for _, au := range p.Authors {
		if au.Gender == "" || !au.Location.Settled() || au.Location.Source == "" {
			return false
		}
	}
	return true
}
