// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package export persists assembled paper rows in a SQLite table and
// renders them, in bibliography order, to CSV and optional JSON or YAML.
// Plain-text bodies are written next to the table under text/.
package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

const (
	// DBFile is the export table inside the output directory.
	DBFile  = "proceedings.db"
	textDir = "text"
)

// Store manages the export table.
type Store struct {
	db  *sql.DB
	dir string
}

// Open opens or creates outputDir/proceedings.db and its schema.
func Open(outputDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(outputDir, textDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	dbPath := filepath.Join(outputDir, DBFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, dir: outputDir}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dir returns the output directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS papers (
			id TEXT PRIMARY KEY,
			ord INTEGER NOT NULL,
			year INTEGER,
			title TEXT,
			stage TEXT,
			complete INTEGER NOT NULL DEFAULT 0,
			record TEXT NOT NULL,
			updated_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS authors (
			paper_id TEXT NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			author_key TEXT,
			first TEXT,
			last TEXT,
			gender TEXT,
			affiliation TEXT,
			country TEXT,
			lat REAL,
			lng REAL,
			location_source TEXT,
			distance_km REAL,
			footprint_t REAL,
			PRIMARY KEY (paper_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_papers_ord ON papers(ord)`,
		`CREATE INDEX IF NOT EXISTS idx_authors_key ON authors(author_key)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Complete reports whether the row for id exists and is complete.
func (s *Store) Complete(ctx context.Context, id string) (bool, error) {
	var complete bool
	err := s.db.QueryRowContext(ctx, `SELECT complete FROM papers WHERE id = ?`, id).Scan(&complete)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking row %s: %w", id, err)
	}
	return complete, nil
}

// Get returns the stored row for id.
func (s *Store) Get(ctx context.Context, id string) (types.Paper, bool, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM papers WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Paper{}, false, nil
	}
	if err != nil {
		return types.Paper{}, false, fmt.Errorf("reading row %s: %w", id, err)
	}
	var p types.Paper
	if err := json.Unmarshal([]byte(record), &p); err != nil {
		return types.Paper{}, false, fmt.Errorf("decoding row %s: %w", id, err)
	}
	return p, true, nil
}

// Upsert inserts or replaces the row for p together with its author rows.
func (s *Store) Upsert(ctx context.Context, p types.Paper) error {
	record, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding row %s: %w", p.ID(), err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO papers (id, ord, year, title, stage, complete, record, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			ord=excluded.ord, year=excluded.year, title=excluded.title,
			stage=excluded.stage, complete=excluded.complete,
			record=excluded.record, updated_at=excluded.updated_at`,
		p.ID(), p.Order, p.Bib.Year, p.Bib.Title, p.Stage.String(), p.Complete,
		string(record), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting row %s: %w", p.ID(), err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM authors WHERE paper_id = ?`, p.ID()); err != nil {
		return fmt.Errorf("deleting old authors: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO authors (paper_id, position, author_key, first, last, gender, affiliation,
			country, lat, lng, location_source, distance_km, footprint_t)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, a := range p.Authors {
		var lat, lng sql.NullFloat64
		if a.Location.Resolved() {
			lat = sql.NullFloat64{Float64: a.Location.Lat, Valid: true}
			lng = sql.NullFloat64{Float64: a.Location.Lng, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			p.ID(), i, a.Key, a.First, a.Last, string(a.Gender), a.Affiliation,
			a.Location.Country, lat, lng, string(a.Location.Source),
			nullable(a.DistanceKm), nullable(a.FootprintT),
		)
		if err != nil {
			return fmt.Errorf("inserting author %d of %s: %w", i, p.ID(), err)
		}
	}

	return tx.Commit()
}

// Rows returns every stored row in bibliography order.
func (s *Store) Rows(ctx context.Context) ([]types.Paper, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM papers ORDER BY ord, id`)
	if err != nil {
		return nil, fmt.Errorf("querying rows: %w", err)
	}
	defer rows.Close()

	var papers []types.Paper
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		var p types.Paper
		if err := json.Unmarshal([]byte(record), &p); err != nil {
			return nil, fmt.Errorf("decoding row: %w", err)
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// Summary counts stored rows.
type Summary struct {
	Rows     int
	Complete int
	// ByStage counts rows per stage name.
	ByStage map[string]int
}

// Status summarizes the table.
func (s *Store) Status(ctx context.Context) (Summary, error) {
	sum := Summary{ByStage: make(map[string]int)}
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, SUM(complete), COUNT(*) FROM papers GROUP BY stage`)
	if err != nil {
		return sum, fmt.Errorf("querying status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var stage string
		var complete, n int
		if err := rows.Scan(&stage, &complete, &n); err != nil {
			return sum, fmt.Errorf("scanning status: %w", err)
		}
		sum.ByStage[stage] = n
		sum.Rows += n
		sum.Complete += complete
	}
	return sum, rows.Err()
}

// Reset drops every row and text body; used by a full redo.
func (s *Store) Reset(ctx context.Context) error {
	for _, stmt := range []string{`DELETE FROM authors`, `DELETE FROM papers`} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("resetting export table: %w", err)
		}
	}
	dir := filepath.Join(s.dir, textDir)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing text bodies: %w", err)
	}
	return os.MkdirAll(dir, 0o755)
}

// Delete drops the row and text body of paper id so the next run
// recomputes it. Deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM papers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	return s.WriteText(id, "")
}

// TextPath returns the body text path for id.
func (s *Store) TextPath(id string) string {
	return filepath.Join(s.dir, textDir, id+".txt")
}

// WriteText stores the body of paper id atomically. An empty body removes
// any stale file.
func (s *Store) WriteText(id, body string) error {
	path := s.TextPath(id)
	if strings.TrimSpace(body) == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing text %s: %w", id, err)
		}
		return nil
	}
	if _, err := cache.WriteAtomic(path, strings.NewReader(body)); err != nil {
		return fmt.Errorf("writing text %s: %w", id, err)
	}
	return nil
}

func nullable(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
