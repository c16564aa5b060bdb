// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package authors

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/internal/httputil"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

func fastRetry(t *testing.T) {
	t.Helper()
	orig := httputil.RetryBaseDelay
	httputil.RetryBaseDelay = time.Millisecond
	t.Cleanup(func() { httputil.RetryBaseDelay = orig })
}

func TestDictionary_Builtin(t *testing.T) {
	d, err := LoadDictionary("")
	require.NoError(t, err)

	tests := []struct {
		first string
		want  string
	}{
		{"Jane", CategoryFemale},
		{"JOHN", CategoryMale},
		{"Andrea", CategoryMostlyFemale},
		{"Robin", CategoryAndy},
		{"Anna-Lena", CategoryFemale},
		{"Zyxw", CategoryUnknown},
		{"", CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.first, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Classify(tt.first))
		})
	}
}

func TestDictionary_FromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "names.tsv")
	require.NoError(t, os.WriteFile(p, []byte("# custom\nZyxw\tfemale\n"), 0o644))

	d, err := LoadDictionary(p)
	require.NoError(t, err)
	assert.Equal(t, CategoryFemale, d.Classify("zyxw"))
	assert.Equal(t, CategoryUnknown, d.Classify("Jane"))

	require.NoError(t, os.WriteFile(p, []byte("broken line\n"), 0o644))
	_, err = LoadDictionary(p)
	assert.Error(t, err)
}

func TestModelClassifier_Classify(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "k", r.URL.Query().Get("apikey"))
		switch r.URL.Query().Get("name") {
		case "jane":
			io.WriteString(w, `{"name":"jane","gender":"female","probability":0.98,"count":1000}`)
		case "zyxw":
			io.WriteString(w, `{"name":"zyxw","gender":null,"probability":0.0,"count":0}`)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer ts.Close()

	memo, err := cache.OpenTable[Estimate](filepath.Join(t.TempDir(), "genders.json"))
	require.NoError(t, err)
	m := &ModelClassifier{BaseURL: ts.URL, APIKey: "k", Client: ts.Client(), Memo: memo}
	ctx := context.Background()

	est, err := m.Classify(ctx, "Jane")
	require.NoError(t, err)
	assert.Equal(t, Estimate{Label: LabelFemale, Probability: 0.98}, est)

	_, err = m.Classify(ctx, "jane")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "memoized by lowercase name")

	est, err = m.Classify(ctx, "Zyxw")
	require.NoError(t, err)
	assert.Equal(t, LabelUnknown, est.Label, "a null gender is not a neutral answer")
	assert.Zero(t, est.Probability)

	fastRetry(t)
	_, err = m.Classify(ctx, "other")
	assert.ErrorIs(t, err, types.ErrServiceError)
	_, cached := memo.Get("other")
	assert.False(t, cached, "failures are not memoized")
}

func TestModelClassifier_NeutralLabels(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("name") {
		case "zyxw":
			io.WriteString(w, `{"name":"zyxw","gender":null,"probability":0,"count":0}`)
		case "alex":
			io.WriteString(w, `{"name":"alex","gender":"N","probability":0.91}`)
		case "sam":
			io.WriteString(w, `{"name":"sam","gender":"other","probability":0.99}`)
		case "robin":
			io.WriteString(w, `{"name":"robin","gender":"female","label":"nb","probability":0.85}`)
		}
	}))
	defer ts.Close()
	ctx := context.Background()

	tests := []struct {
		name      string
		m         *ModelClassifier
		first     string
		label     string
		nonBinary bool
	}{
		{"null gender", &ModelClassifier{}, "Zyxw", LabelUnknown, false},
		{"explicit neutral", &ModelClassifier{}, "Alex", LabelNeutral, true},
		{"unrecognized label", &ModelClassifier{}, "Sam", LabelUnknown, false},
		{"label field", &ModelClassifier{LabelField: "label", NeutralLabels: []string{"NB"}}, "Robin", LabelNeutral, true},
		{"missing label field", &ModelClassifier{LabelField: "class"}, "Robin", LabelUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.m.BaseURL, tt.m.Client = ts.URL, ts.Client()
			est, err := tt.m.Classify(ctx, tt.first)
			require.NoError(t, err)
			assert.Equal(t, tt.label, est.Label)

			_, nb := CombineGender(CategoryUnknown, &est, DefaultGenderThreshold)
			assert.Equal(t, tt.nonBinary, nb)
		})
	}
}

func TestCombineGender(t *testing.T) {
	tests := []struct {
		name      string
		category  string
		model     *Estimate
		want      types.Gender
		nonBinary bool
	}{
		{"dictionary only", CategoryMostlyFemale, nil, types.GenderFemale, false},
		{"dictionary andy", CategoryAndy, nil, types.GenderUnknown, false},
		{"confident model wins", CategoryMale, &Estimate{LabelFemale, 0.9}, types.GenderFemale, false},
		{"threshold is inclusive", CategoryFemale, &Estimate{LabelMale, 0.8}, types.GenderMale, false},
		{"unsure model defers", CategoryMale, &Estimate{LabelFemale, 0.6}, types.GenderMale, false},
		{"confident neutral", CategoryMale, &Estimate{LabelNeutral, 0.95}, types.GenderUnknown, true},
		{"unknown name", CategoryUnknown, &Estimate{LabelUnknown, 0}, types.GenderUnknown, false},
		{"confident unknown defers", CategoryFemale, &Estimate{LabelUnknown, 0.99}, types.GenderFemale, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, nb := CombineGender(tt.category, tt.model, DefaultGenderThreshold)
			assert.Equal(t, tt.want, g)
			assert.Equal(t, tt.nonBinary, nb)
		})
	}
}
