// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "proceedings-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// SourceConfig locates the bibliography and the university-domains list.
type SourceConfig struct {
	HTTPConfig `yaml:",inline"`

	// BibURL is the upstream bibliography, fetched when BibPath does not exist.
	BibURL string `json:"bib_url" yaml:"bib_url"`

	// BibPath is the local copy of the bibliography.
	BibPath string `json:"bib_path" yaml:"bib_path"`

	// VenuePrefix prefixes paper ids (default "nime").
	VenuePrefix string `json:"venue_prefix" yaml:"venue_prefix"`

	// UnidomainsURL and UnidomainsPath locate the university email-domain list.
	UnidomainsURL  string `json:"unidomains_url" yaml:"unidomains_url"`
	UnidomainsPath string `json:"unidomains_path" yaml:"unidomains_path"`

	// Years restricts the run to these publication years when non-empty.
	Years []int `json:"years,omitempty" yaml:"years,omitempty"`
}

// AcquisitionConfig holds settings for the PDF download sub-stage.
type AcquisitionConfig struct {
	HTTPConfig `yaml:",inline"`

	// Workers is the download pool size (default 4). Set to 1 when concurrent
	// downloads from the archive come back corrupted.
	Workers int `json:"workers" yaml:"workers"`

	// OverrideDir holds manually supplied PDFs named <paper id>.pdf.
	OverrideDir string `json:"override_dir" yaml:"override_dir"`
}

// ConversionBackend identifies the plain-text fallback extractor.
type ConversionBackend string

const (
	BackendPdftext    ConversionBackend = "pdftext"
	BackendMarkitdown ConversionBackend = "markitdown"
	BackendNone       ConversionBackend = "none"
)

// ConversionConfig holds settings for structured and plain-text extraction.
type ConversionConfig struct {
	HTTPConfig `yaml:",inline"`

	// GrobidURL is the base URL of the GROBID service (e.g. "http://localhost:8070").
	GrobidURL string `json:"grobid_url" yaml:"grobid_url"`

	// Fallback selects the plain-text extractor.
	Fallback ConversionBackend `json:"fallback" yaml:"fallback"`

	// Force re-runs extraction even when cached output exists.
	Force bool `json:"force" yaml:"force"`

	// WebNativeYears are proceedings years published through a web-native
	// system whose PDFs are only a fallback rendering.
	WebNativeYears []int `json:"web_native_years" yaml:"web_native_years"`

	// PDFPrecedence runs the plain-text extractor for web-native years too,
	// using manually supplied PDFs.
	PDFPrecedence bool `json:"pdf_precedence" yaml:"pdf_precedence"`
}

// MergeStrategy selects how authors are identified across papers.
type MergeStrategy string

const (
	MergeNormalizedName     MergeStrategy = "normalized-name"
	MergeNameAndAffiliation MergeStrategy = "name-and-affiliation"
	MergeNone               MergeStrategy = "none"
)

// AuthorConfig holds settings for the author resolution stage.
type AuthorConfig struct {
	HTTPConfig `yaml:",inline"`

	// Corrections enables the manual override table.
	Corrections bool `json:"corrections" yaml:"corrections"`

	// OverridesPath is an optional YAML override table; the built-in NIME
	// table is used when empty.
	OverridesPath string `json:"overrides_path,omitempty" yaml:"overrides_path,omitempty"`

	MergeStrategy MergeStrategy `json:"merge_strategy" yaml:"merge_strategy"`

	// GenderDictionaryPath is an optional name dictionary for the binary-leaning
	// classifier; the built-in dictionary is used when empty.
	GenderDictionaryPath string `json:"gender_dictionary_path,omitempty" yaml:"gender_dictionary_path,omitempty"`

	// GenderAPIURL is the non-binary-aware classifier endpoint. Empty selects
	// genderize.io; "none" disables the classifier.
	GenderAPIURL string `json:"gender_api_url,omitempty" yaml:"gender_api_url,omitempty"`
	GenderAPIKey string `json:"gender_api_key,omitempty" yaml:"gender_api_key,omitempty"`

	// GenderLabelField is the response field holding the classifier label
	// (default "gender"). GenderNeutralLabels are the values read as an
	// explicit non-binary answer.
	GenderLabelField    string   `json:"gender_label_field,omitempty" yaml:"gender_label_field,omitempty"`
	GenderNeutralLabels []string `json:"gender_neutral_labels,omitempty" yaml:"gender_neutral_labels,omitempty"`

	// GenderThreshold is the confidence at which the model classifier wins (default 0.8).
	GenderThreshold float64 `json:"gender_threshold" yaml:"gender_threshold"`
}

// GeocodeConfig holds settings for the geocoding service.
type GeocodeConfig struct {
	HTTPConfig `yaml:",inline"`

	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// DailyQuota is the provider's request allowance per UTC day (default 2500).
	DailyQuota int `json:"daily_quota" yaml:"daily_quota"`

	// Interval is the minimum spacing between geocoding requests (default 1s).
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// CitationConfig holds settings for the citation enrichment stage.
type CitationConfig struct {
	HTTPConfig `yaml:",inline"`

	// SemanticScholarAPIKey is an optional API key for higher rate limits.
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty"`

	// OpenAlexEmail joins the OpenAlex polite pool when set.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty"`

	// Sleep is the fixed delay between citation requests (default 3s, 1s with an API key).
	Sleep time.Duration `json:"sleep" yaml:"sleep"`

	// Refresh bypasses cached citation records.
	Refresh bool `json:"refresh" yaml:"refresh"`

	// Backends lists citation backends in order of preference.
	Backends []string `json:"backends" yaml:"backends"`
}

// ExportConfig holds settings for the export writer.
type ExportConfig struct {
	// OutputDir receives export.csv, the SQLite table, and text bodies.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// ConferencesPath optionally replaces the built-in conference table.
	ConferencesPath string `json:"conferences_path,omitempty" yaml:"conferences_path,omitempty"`

	// Formats lists extra export formats besides csv ("json", "yaml").
	Formats []string `json:"formats,omitempty" yaml:"formats,omitempty"`
}

// PipelineConfig groups all stage configurations for the pipeline. It is
// resolved once before any stage runs.
type PipelineConfig struct {
	Source      SourceConfig      `json:"source" yaml:"source"`
	Acquisition AcquisitionConfig `json:"acquisition" yaml:"acquisition"`
	Conversion  ConversionConfig  `json:"conversion" yaml:"conversion"`
	Authors     AuthorConfig      `json:"authors" yaml:"authors"`
	Geocode     GeocodeConfig     `json:"geocode" yaml:"geocode"`
	Citations   CitationConfig    `json:"citations" yaml:"citations"`
	Export      ExportConfig      `json:"export" yaml:"export"`

	// CacheDir is the root of the content cache.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// Redo wipes the cache and the export table before the run.
	Redo bool `json:"redo" yaml:"redo"`

	// KeepPDFs preserves downloaded PDFs when Redo wipes the cache.
	KeepPDFs bool `json:"keep_pdfs" yaml:"keep_pdfs"`

	// Limit processes only the first N papers when positive.
	Limit int `json:"limit,omitempty" yaml:"limit,omitempty"`
}
