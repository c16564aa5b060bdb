// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"strconv"
	"strings"
)

// ExtractionStatus records the outcome of text extraction for a paper.
// A word count of zero is only meaningful together with this status.
type ExtractionStatus string

const (
	ExtractionPending ExtractionStatus = "pending"
	ExtractionOK      ExtractionStatus = "ok"
	ExtractionFailed  ExtractionStatus = "failed"
)

// CitationStatus distinguishes a confirmed citation count from one that
// has not been fetched yet or could not be fetched.
type CitationStatus string

const (
	CitationPending CitationStatus = "pending"
	CitationOK      CitationStatus = "ok"
	// CitationNotFound means every backend answered and none matched the paper.
	CitationNotFound CitationStatus = "not_found"
	// CitationUnknown means the lookup failed; it is retried on the next run.
	CitationUnknown CitationStatus = "unknown"
)

// Stage is a paper's position in the processing state machine.
type Stage int

const (
	StagePending Stage = iota
	StageFetched
	StageExtracted
	StageEnriched
	StageAssembled
)

func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageFetched:
		return "fetched"
	case StageExtracted:
		return "extracted"
	case StageEnriched:
		return "enriched"
	case StageAssembled:
		return "assembled"
	default:
		return "unknown"
	}
}

// BibEntry is a bibliographic record as produced by the source loader.
type BibEntry struct {
	// ID is the stable paper id: venue prefix, year, and article number
	// (e.g. "nime2014_123").
	ID string `json:"id" yaml:"id"`

	// Key is the BibTeX citation key.
	Key string `json:"key" yaml:"key"`

	// Type is the BibTeX entry type (e.g. "inproceedings").
	Type string `json:"type" yaml:"type"`

	Title   string   `json:"title" yaml:"title"`
	Year    int      `json:"year" yaml:"year"`
	Authors []string `json:"authors" yaml:"authors"`

	// Booktitle is the venue name from the BibTeX record.
	Booktitle string `json:"booktitle,omitempty" yaml:"booktitle,omitempty"`
	DOI       string `json:"doi,omitempty" yaml:"doi,omitempty"`
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`

	// Address is the conference location as written in the bibliography.
	Address   string `json:"address,omitempty" yaml:"address,omitempty"`
	Pages     string `json:"pages,omitempty" yaml:"pages,omitempty"`
	ArticleNo string `json:"articleno,omitempty" yaml:"articleno,omitempty"`

	// Fields holds every raw field of the entry, lowercased keys.
	Fields map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// PageCount derives the page count from the "pages" field ("12--17").
// It returns 0 when the field is missing or malformed.
func (b BibEntry) PageCount() int {
	parts := strings.FieldsFunc(b.Pages, func(r rune) bool { return r == '-' })
	if len(parts) != 2 {
		return 0
	}
	first, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	last, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || last < first {
		return 0
	}
	return last - first + 1
}

// Location is a resolved physical location for an affiliation string.
type Location struct {
	// Query is the raw string that was geocoded.
	Query string `json:"query" yaml:"query"`

	Formatted string  `json:"formatted,omitempty" yaml:"formatted,omitempty"`
	Country   string  `json:"country,omitempty" yaml:"country,omitempty"`
	Continent string  `json:"continent,omitempty" yaml:"continent,omitempty"`
	Lat       float64 `json:"lat,omitempty" yaml:"lat,omitempty"`
	Lng       float64 `json:"lng,omitempty" yaml:"lng,omitempty"`

	// Confidence is the geocoder's 1 (>25km) to 10 (<0.25km) score.
	Confidence int `json:"confidence,omitempty" yaml:"confidence,omitempty"`

	Source LocationSource `json:"source" yaml:"source"`
}

// Resolved reports whether the location carries coordinates.
func (l Location) Resolved() bool {
	switch l.Source {
	case LocationGeocoder, LocationOverride:
		return true
	}
	return false
}

// Settled reports whether the location is a final answer that does not
// need another lookup on the next run.
func (l Location) Settled() bool {
	return l.Source != LocationUnknown
}

// LocationSource records where a Location came from.
type LocationSource string

const (
	LocationGeocoder LocationSource = "geocoder"
	LocationOverride LocationSource = "override"
	// LocationNotFound is a confirmed geocoder miss; it is cached.
	LocationNotFound LocationSource = "not_found"
	// LocationUnknown is a degraded result (quota, service error); not cached.
	LocationUnknown LocationSource = "unknown"
	// LocationNone means no query string could be built for the author.
	LocationNone LocationSource = "none"
)

// Gender is the combined categorical gender estimate for an author.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// Author is one author of a paper with resolved attributes.
type Author struct {
	// Raw is the name as written in the bibliography.
	Raw string `json:"raw" yaml:"raw"`

	First string `json:"first" yaml:"first"`
	Last  string `json:"last" yaml:"last"`

	// Key is the normalized identity key used to merge authors across papers.
	Key string `json:"key" yaml:"key"`

	Gender    Gender `json:"gender" yaml:"gender"`
	NonBinary bool   `json:"non_binary,omitempty" yaml:"non_binary,omitempty"`

	// GenderDictionary and GenderModel keep the raw outputs of both classifiers.
	GenderDictionary string `json:"gender_dictionary,omitempty" yaml:"gender_dictionary,omitempty"`
	GenderModel      string `json:"gender_model,omitempty" yaml:"gender_model,omitempty"`

	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
	Affiliation string `json:"affiliation,omitempty" yaml:"affiliation,omitempty"`

	// LocationQuery is the string sent to the geocoder and QueryOrigin names
	// which source produced it (e.g. "grobid uni", "raw author block").
	LocationQuery string `json:"location_query,omitempty" yaml:"location_query,omitempty"`
	QueryOrigin   string `json:"query_origin,omitempty" yaml:"query_origin,omitempty"`

	Location Location `json:"location" yaml:"location"`

	// DistanceKm and FootprintT are the travel distance to the conference and
	// the estimated round-trip footprint in tCO2e; nil when unavailable.
	DistanceKm *float64 `json:"distance_km,omitempty" yaml:"distance_km,omitempty"`
	FootprintT *float64 `json:"footprint_t,omitempty" yaml:"footprint_t,omitempty"`
}

// CitedWork is a reference or citing work reported by a citation backend.
type CitedWork struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
}

// CitationRecord is the cached output of the citation enrichment stage.
type CitationRecord struct {
	Status CitationStatus `json:"status" yaml:"status"`

	// Backend names the service that answered (e.g. "semantic_scholar").
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`

	// Query is the query string that produced the match.
	Query string `json:"query,omitempty" yaml:"query,omitempty"`

	ExternalID       string      `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	CitationCount    int         `json:"citation_count" yaml:"citation_count"`
	KeyCitationCount int         `json:"key_citation_count" yaml:"key_citation_count"`
	References       []CitedWork `json:"references,omitempty" yaml:"references,omitempty"`
	KeyCitingWorks   []CitedWork `json:"key_citing_works,omitempty" yaml:"key_citing_works,omitempty"`
}

// Extraction is the normalized output of the fetch and extraction stage.
type Extraction struct {
	Status ExtractionStatus `json:"status" yaml:"status"`

	PDFPath string `json:"pdf_path,omitempty" yaml:"pdf_path,omitempty"`
	PDFHash string `json:"pdf_hash,omitempty" yaml:"pdf_hash,omitempty"`

	// Title and Abstract come from the structured extraction.
	Title    string `json:"title,omitempty" yaml:"title,omitempty"`
	Abstract string `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	Body      string `json:"-" yaml:"-"`
	WordCount int    `json:"word_count" yaml:"word_count"`
	PageCount int    `json:"page_count" yaml:"page_count"`

	// BodySource is "grobid" or "miner" depending on which text was used.
	BodySource string `json:"body_source,omitempty" yaml:"body_source,omitempty"`

	// Authors holds what the structured extraction found in the header,
	// in document order.
	Authors []ExtractedAuthor `json:"authors,omitempty" yaml:"authors,omitempty"`

	// AuthorBlocks are raw author blocks scraped from the plain text.
	AuthorBlocks []string `json:"author_blocks,omitempty" yaml:"author_blocks,omitempty"`

	// Problems lists quality flags such as "non alpha" or "poor decoding".
	Problems []string `json:"problems,omitempty" yaml:"problems,omitempty"`
}

// ExtractedAuthor is an author entry found in a TEI header.
type ExtractedAuthor struct {
	First        string `json:"first,omitempty" yaml:"first,omitempty"`
	Middle       string `json:"middle,omitempty" yaml:"middle,omitempty"`
	Surname      string `json:"surname,omitempty" yaml:"surname,omitempty"`
	Email        string `json:"email,omitempty" yaml:"email,omitempty"`
	Organisation string `json:"organisation,omitempty" yaml:"organisation,omitempty"`
	Address      string `json:"address,omitempty" yaml:"address,omitempty"`
}

// ConferenceSite is one entry of the conference-location reference table.
type ConferenceSite struct {
	Year    int     `json:"year" yaml:"year"`
	City    string  `json:"city" yaml:"city"`
	Country string  `json:"country" yaml:"country"`
	Lat     float64 `json:"lat" yaml:"lat"`
	Lng     float64 `json:"lng" yaml:"lng"`
	Online  bool    `json:"online,omitempty" yaml:"online,omitempty"`
}

// Paper is the assembled, denormalized record for one paper: one row of
// the export table.
type Paper struct {
	Bib BibEntry `json:"bib" yaml:"bib"`

	// Order is the paper's position in the bibliography; rows are exported
	// in this order.
	Order int `json:"order" yaml:"order"`

	Stage Stage `json:"stage" yaml:"stage"`

	// WebNative marks papers from years published through a web-native system.
	WebNative bool `json:"web_native" yaml:"web_native"`

	Extraction Extraction     `json:"extraction" yaml:"extraction"`
	Authors    []Author       `json:"authors" yaml:"authors"`
	Citations  CitationRecord `json:"citations" yaml:"citations"`

	Conference *ConferenceSite `json:"conference,omitempty" yaml:"conference,omitempty"`

	// Complete is set when every required field holds a value or an explicit
	// "unavailable" marker; complete rows are not recomputed.
	Complete bool `json:"complete" yaml:"complete"`
}

// ID returns the paper id.
func (p *Paper) ID() string { return p.Bib.ID }
