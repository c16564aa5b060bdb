// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// Output file names inside the output directory.
const (
	CSVFile  = "export.csv"
	JSONFile = "export.json"
	YAMLFile = "export.yaml"
)

// Extra export formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// listSep joins per-author values inside one CSV cell.
const listSep = "; "

// Columns is the CSV header. The order is part of the output contract.
var Columns = []string{
	"id", "key", "year", "title", "authors", "author_count",
	"booktitle", "doi", "url", "address", "pages", "articleno", "page_count",
	"web_native", "extraction_status", "pdf_hash", "body_source", "word_count", "problems",
	"author_genders", "author_affiliations", "author_countries", "author_location_sources",
	"author_distances_km", "footprint_t",
	"conference_city", "conference_country", "conference_online",
	"citation_status", "citation_backend", "citation_count", "key_citation_count",
	"reference_count", "key_citing_works",
	"stage", "complete",
}

// Record flattens p into one CSV record matching Columns.
func Record(p types.Paper) []string {
	n := len(p.Authors)
	genders := make([]string, n)
	affiliations := make([]string, n)
	countries := make([]string, n)
	sources := make([]string, n)
	distances := make([]string, n)
	var footprint float64
	var haveFootprint bool
	for i, a := range p.Authors {
		genders[i] = string(a.Gender)
		affiliations[i] = a.Affiliation
		countries[i] = a.Location.Country
		sources[i] = string(a.Location.Source)
		if a.DistanceKm != nil {
			distances[i] = strconv.FormatFloat(*a.DistanceKm, 'f', 1, 64)
		}
		if a.FootprintT != nil {
			footprint += *a.FootprintT
			haveFootprint = true
		}
	}

	var city, country, online string
	if c := p.Conference; c != nil {
		city, country, online = c.City, c.Country, strconv.FormatBool(c.Online)
	}

	citingTitles := make([]string, len(p.Citations.KeyCitingWorks))
	for i, w := range p.Citations.KeyCitingWorks {
		citingTitles[i] = w.Title
	}

	// Counts are only meaningful once the citation lookup succeeded.
	var citations, keyCitations, references string
	if p.Citations.Status == types.CitationOK {
		citations = strconv.Itoa(p.Citations.CitationCount)
		keyCitations = strconv.Itoa(p.Citations.KeyCitationCount)
		references = strconv.Itoa(len(p.Citations.References))
	}

	var footprintCell string
	if haveFootprint {
		footprintCell = strconv.FormatFloat(footprint, 'f', 4, 64)
	}

	return []string{
		p.Bib.ID, p.Bib.Key, strconv.Itoa(p.Bib.Year), p.Bib.Title,
		strings.Join(p.Bib.Authors, listSep), strconv.Itoa(len(p.Bib.Authors)),
		p.Bib.Booktitle, p.Bib.DOI, p.Bib.URL, p.Bib.Address, p.Bib.Pages, p.Bib.ArticleNo,
		strconv.Itoa(p.Extraction.PageCount),
		strconv.FormatBool(p.WebNative), string(p.Extraction.Status), p.Extraction.PDFHash,
		p.Extraction.BodySource, strconv.Itoa(p.Extraction.WordCount),
		strings.Join(p.Extraction.Problems, listSep),
		strings.Join(genders, listSep), strings.Join(affiliations, listSep),
		strings.Join(countries, listSep), strings.Join(sources, listSep),
		strings.Join(distances, listSep), footprintCell,
		city, country, online,
		string(p.Citations.Status), p.Citations.Backend, citations, keyCitations,
		references, strings.Join(citingTitles, listSep),
		p.Stage.String(), strconv.FormatBool(p.Complete),
	}
}

// Render writes export.csv and any extra formats from the stored rows.
// Every file is replaced atomically.
func (s *Store) Render(ctx context.Context, formats []string) error {
	papers, err := s.Rows(ctx)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, p := range papers {
		if err := w.Write(Record(p)); err != nil {
			return fmt.Errorf("writing CSV row %s: %w", p.ID(), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing CSV: %w", err)
	}
	if _, err := cache.WriteAtomic(filepath.Join(s.dir, CSVFile), &buf); err != nil {
		return fmt.Errorf("writing %s: %w", CSVFile, err)
	}

	if papers == nil {
		papers = []types.Paper{}
	}
	for _, f := range formats {
		var data []byte
		var name string
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "", "csv":
			continue
		case FormatJSON:
			name = JSONFile
			data, err = json.MarshalIndent(papers, "", "  ")
		case FormatYAML:
			name = YAMLFile
			data, err = yaml.Marshal(papers)
		default:
			return fmt.Errorf("unknown export format %q", f)
		}
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", name, err)
		}
		if _, err := cache.WriteAtomic(filepath.Join(s.dir, name), bytes.NewReader(data)); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}
