// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package authors

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/internal/httputil"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// Dictionary classifier categories.
const (
	CategoryMale         = "male"
	CategoryMostlyMale   = "mostly_male"
	CategoryAndy         = "andy"
	CategoryMostlyFemale = "mostly_female"
	CategoryFemale       = "female"
	CategoryUnknown      = "unknown"
)

// Model classifier labels. LabelUnknown is the answer for names the
// service cannot place.
const (
	LabelMale    = "M"
	LabelFemale  = "F"
	LabelNeutral = "N"
	LabelUnknown = ""
)

// DefaultGenderURL is the model endpoint used when none is configured;
// GenderDisabled in its place turns the model classifier off.
const (
	DefaultGenderURL = "https://api.genderize.io"
	GenderDisabled   = "none"
)

// DefaultLabelField is the response field holding the model's label.
const DefaultLabelField = "gender"

// DefaultNeutralLabels are the service labels read as an explicit
// non-binary or neutral answer, compared case-insensitively.
var DefaultNeutralLabels = []string{"n", "neutral", "nonbinary", "non-binary", "x"}

// DefaultGenderThreshold is the model confidence at which its answer wins.
const DefaultGenderThreshold = 0.8

// GenderTable is the cache table name of the model classifier memo.
const GenderTable = "genders"

//go:embed genders.tsv
var builtinGenders []byte

// Dictionary is the binary-leaning classifier: a fixed first-name table.
type Dictionary struct {
	names map[string]string
}

// LoadDictionary reads a tab-separated "name<TAB>category" file. An empty
// path selects the built-in table.
func LoadDictionary(path string) (*Dictionary, error) {
	data := builtinGenders
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("reading gender dictionary: %w", err)
		}
	}
	d := &Dictionary{names: make(map[string]string)}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		name, cat, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, fmt.Errorf("gender dictionary line %d: want name<TAB>category", line)
		}
		d.names[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(cat)
	}
	return d, sc.Err()
}

// Classify returns the category for a first name. Hyphenated names fall
// back to their first part.
func (d *Dictionary) Classify(first string) string {
	name := strings.ToLower(Fold(strings.TrimSpace(first)))
	if cat, ok := d.names[name]; ok {
		return cat
	}
	if head, _, ok := strings.Cut(name, "-"); ok {
		if cat, ok := d.names[head]; ok {
			return cat
		}
	}
	return CategoryUnknown
}

// Estimate is a model classifier answer.
type Estimate struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// ModelClassifier queries a genderize-compatible HTTP service. Answers are
// memoized by lowercase first name in a persisted table.
type ModelClassifier struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	Client    *http.Client
	Memo      *cache.JSONTable[Estimate]

	// LabelField names the response field carrying the label; empty
	// selects DefaultLabelField.
	LabelField string

	// NeutralLabels are the label values mapped to LabelNeutral; nil
	// selects DefaultNeutralLabels.
	NeutralLabels []string
}

// Classify returns the model's label for first. A null or unrecognized
// label yields LabelUnknown; only an explicit neutral label yields
// LabelNeutral.
func (m *ModelClassifier) Classify(ctx context.Context, first string) (Estimate, error) {
	name := strings.ToLower(strings.TrimSpace(first))
	if name == "" {
		return Estimate{Label: LabelUnknown}, nil
	}
	if m.Memo != nil {
		if est, ok := m.Memo.Get(name); ok {
			return est, nil
		}
	}

	base := m.BaseURL
	if base == "" {
		base = DefaultGenderURL
	}
	q := url.Values{"name": {name}}
	if m.APIKey != "" {
		q.Set("apikey", m.APIKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return Estimate{}, fmt.Errorf("creating gender request: %w", err)
	}
	if m.UserAgent != "" {
		req.Header.Set("User-Agent", m.UserAgent)
	}

	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := httputil.DoWithRetry(ctx, client, req, 1)
	if err != nil {
		return Estimate{}, fmt.Errorf("%w: gender request: %w", types.ErrServiceError, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Estimate{}, fmt.Errorf("%w: gender service returned HTTP %d", types.ErrServiceError, resp.StatusCode)
	}

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return Estimate{}, fmt.Errorf("%w: decoding gender response: %w", types.ErrServiceError, err)
	}
	est := Estimate{Label: m.label(fields)}
	if raw, ok := fields["probability"]; ok {
		// A null probability leaves zero.
		_ = json.Unmarshal(raw, &est.Probability)
	}
	if m.Memo != nil {
		m.Memo.Put(name, est)
	}
	return est, nil
}

// label maps the label field of a response to a model label.
func (m *ModelClassifier) label(fields map[string]json.RawMessage) string {
	field := m.LabelField
	if field == "" {
		field = DefaultLabelField
	}
	var value *string
	if raw, ok := fields[field]; !ok || json.Unmarshal(raw, &value) != nil || value == nil {
		return LabelUnknown
	}
	v := strings.ToLower(strings.TrimSpace(*value))
	switch v {
	case "male", "m":
		return LabelMale
	case "female", "f":
		return LabelFemale
	}
	neutral := m.NeutralLabels
	if neutral == nil {
		neutral = DefaultNeutralLabels
	}
	for _, n := range neutral {
		if strings.EqualFold(v, strings.TrimSpace(n)) {
			return LabelNeutral
		}
	}
	return LabelUnknown
}

// CombineGender merges both classifier outputs. The model wins when its
// confidence reaches threshold; otherwise the dictionary category decides.
// Only a confident, explicit neutral label sets the non-binary flag; an
// unknown label always defers to the dictionary.
func CombineGender(category string, model *Estimate, threshold float64) (types.Gender, bool) {
	if model != nil && model.Probability >= threshold {
		switch model.Label {
		case LabelMale:
			return types.GenderMale, false
		case LabelFemale:
			return types.GenderFemale, false
		case LabelNeutral:
			return types.GenderUnknown, true
		}
	}
	switch category {
	case CategoryMale, CategoryMostlyMale:
		return types.GenderMale, false
	case CategoryFemale, CategoryMostlyFemale:
		return types.GenderFemale, false
	}
	return types.GenderUnknown, false
}
