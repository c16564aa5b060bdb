// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/proceedings-engine/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(f float64) *float64 { return &f }

func samplePaper(id string, order int, complete bool) types.Paper {
	return types.Paper{
		Bib: types.BibEntry{
			ID: id, Key: "key_" + id, Title: "Title " + id, Year: 2014,
			Authors: []string{"Doe, Jane", "Roe, Rick"}, Pages: "1--4", ArticleNo: id,
		},
		Order: order,
		Stage: types.StageAssembled,
		Extraction: types.Extraction{
			Status: types.ExtractionOK, WordCount: 1200, PageCount: 4, BodySource: "grobid",
		},
		Authors: []types.Author{
			{Key: "jane doe", First: "Jane", Last: "Doe", Gender: types.GenderFemale,
				Affiliation: "MIT", Location: types.Location{Country: "United States", Lat: 42.36, Lng: -71.09, Source: types.LocationGeocoder},
				DistanceKm: ptr(5270.31), FootprintT: ptr(2.635)},
			{Key: "rick roe", First: "Rick", Last: "Roe", Gender: types.GenderUnknown,
				Location: types.Location{Source: types.LocationNone}},
		},
		Citations:  types.CitationRecord{Status: types.CitationOK, Backend: "semantic_scholar", CitationCount: 9, KeyCitationCount: 2},
		Conference: &types.ConferenceSite{Year: 2014, City: "London", Country: "United Kingdom"},
		Complete:   complete,
	}
}

func TestStore_UpsertAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ok, err := s.Complete(ctx, "nime2014_1")
	require.NoError(t, err)
	assert.False(t, ok, "missing row is not complete")

	p := samplePaper("nime2014_1", 0, false)
	require.NoError(t, s.Upsert(ctx, p))
	ok, err = s.Complete(ctx, "nime2014_1")
	require.NoError(t, err)
	assert.False(t, ok)

	p.Complete = true
	p.Citations.CitationCount = 10
	require.NoError(t, s.Upsert(ctx, p))
	ok, err = s.Complete(ctx, "nime2014_1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, found, err := s.Get(ctx, "nime2014_1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 10, got.Citations.CitationCount)
	require.Len(t, got.Authors, 2)
	assert.InDelta(t, 5270.31, *got.Authors[0].DistanceKm, 1e-9)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM authors WHERE paper_id = ?`, "nime2014_1").Scan(&n))
	assert.Equal(t, 2, n, "author rows are replaced, not appended")

	_, found, err = s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, samplePaper("nime2014_1", 0, true)))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	ok, err := s.Complete(ctx, "nime2014_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, filepath.Join(dir, DBFile))
}

func TestStore_RowsInBibliographyOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, samplePaper("c", 2, true)))
	require.NoError(t, s.Upsert(ctx, samplePaper("a", 0, true)))
	require.NoError(t, s.Upsert(ctx, samplePaper("b", 1, false)))

	rows, err := s.Rows(ctx)
	require.NoError(t, err)
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID()
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	sum, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Rows)
	assert.Equal(t, 2, sum.Complete)
	assert.Equal(t, 3, sum.ByStage["assembled"])
}

func TestStore_Render(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, samplePaper("nime2014_2", 1, true)))
	failed := samplePaper("nime2014_1", 0, false)
	failed.Extraction = types.Extraction{Status: types.ExtractionFailed, Problems: []string{"poor decoding"}}
	failed.Citations = types.CitationRecord{Status: types.CitationUnknown}
	require.NoError(t, s.Upsert(ctx, failed))

	require.NoError(t, s.Render(ctx, []string{"json", "yaml"}))

	f, err := os.Open(filepath.Join(s.Dir(), CSVFile))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, Columns, records[0])

	col := func(name string) int {
		for i, c := range Columns {
			if c == name {
				return i
			}
		}
		t.Fatalf("no column %s", name)
		return -1
	}
	first, second := records[1], records[2]
	assert.Equal(t, "nime2014_1", first[col("id")])
	assert.Equal(t, "failed", first[col("extraction_status")])
	assert.Equal(t, "0", first[col("word_count")])
	assert.Empty(t, first[col("citation_count")], "no count without a successful lookup")
	assert.Equal(t, "unknown", first[col("citation_status")])
	assert.Equal(t, "false", first[col("complete")])

	assert.Equal(t, "nime2014_2", second[col("id")])
	assert.Equal(t, "Doe, Jane; Roe, Rick", second[col("authors")])
	assert.Equal(t, "female; unknown", second[col("author_genders")])
	assert.Equal(t, "geocoder; none", second[col("author_location_sources")])
	assert.Equal(t, "5270.3; ", second[col("author_distances_km")])
	assert.Equal(t, "2.6350", second[col("footprint_t")])
	assert.Equal(t, "London", second[col("conference_city")])
	assert.Equal(t, "9", second[col("citation_count")])
	assert.Equal(t, "true", second[col("complete")])

	data, err := os.ReadFile(filepath.Join(s.Dir(), JSONFile))
	require.NoError(t, err)
	var fromJSON []types.Paper
	require.NoError(t, json.Unmarshal(data, &fromJSON))
	require.Len(t, fromJSON, 2)
	assert.Equal(t, "nime2014_1", fromJSON[0].ID())

	data, err = os.ReadFile(filepath.Join(s.Dir(), YAMLFile))
	require.NoError(t, err)
	var fromYAML []types.Paper
	require.NoError(t, yaml.Unmarshal(data, &fromYAML))
	require.Len(t, fromYAML, 2)

	assert.Error(t, s.Render(ctx, []string{"xlsx"}))
}

func TestStore_RenderEmptyTableWritesHeader(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Render(context.Background(), nil))
	data, err := os.ReadFile(filepath.Join(s.Dir(), CSVFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "id,key,year,title")
}

func TestStore_WriteTextAndReset(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteText("nime2014_1", "body text"))
	data, err := os.ReadFile(s.TextPath("nime2014_1"))
	require.NoError(t, err)
	assert.Equal(t, "body text", string(data))

	require.NoError(t, s.WriteText("nime2014_1", ""))
	assert.NoFileExists(t, s.TextPath("nime2014_1"), "empty body removes the stale file")
	require.NoError(t, s.WriteText("nime2014_1", "  "))

	require.NoError(t, s.WriteText("nime2014_2", "other"))
	require.NoError(t, s.Upsert(ctx, samplePaper("nime2014_2", 0, true)))
	require.NoError(t, s.Reset(ctx))
	assert.NoFileExists(t, s.TextPath("nime2014_2"))
	rows, err := s.Rows(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.DirExists(t, filepath.Join(s.Dir(), textDir))
}

func TestStore_Delete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, samplePaper("nime2014_1", 0, true)))
	require.NoError(t, s.Upsert(ctx, samplePaper("nime2014_2", 1, true)))
	require.NoError(t, s.WriteText("nime2014_1", "body text"))

	require.NoError(t, s.Delete(ctx, "nime2014_1"))
	require.NoError(t, s.Delete(ctx, "missing"))

	_, ok, err := s.Get(ctx, "nime2014_1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, s.TextPath("nime2014_1"))

	var authors int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM authors WHERE paper_id = ?`, "nime2014_1").Scan(&authors))
	assert.Zero(t, authors, "author rows follow their paper")

	done, err := s.Complete(ctx, "nime2014_2")
	require.NoError(t, err)
	assert.True(t, done)
}
