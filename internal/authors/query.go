// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package authors

import (
	"strings"
	"unicode"

	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// Query origins, in priority order.
const (
	OriginGrobidUni     = "grobid uni"
	OriginGrobidAddress = "grobid address"
	OriginTextUni       = "text uni"
	OriginAuthorBlock   = "raw author block"
	OriginNone          = "no query"
)

// maxBlockDigits is the digit count above which an author-block line is
// taken to be a telephone number.
const maxBlockDigits = 8

// LocationQuery is the geocoder query chosen for one author.
type LocationQuery struct {
	Query  string
	Origin string
	Email  string

	// Affiliation is the human-readable affiliation behind the query.
	Affiliation string
}

// QueryBuilder chooses location queries from extraction output.
type QueryBuilder struct {
	Universities *Universities
}

// Build returns one query per bibliography author. Author i is matched to
// the i-th header author, the i-th university found in the plain-text
// author blocks, and the i-th author block. The first available source in
// priority order wins.
func (b *QueryBuilder) Build(ext types.Extraction, authorCount int) []LocationQuery {
	textUnis := b.Universities.TextUniversities(ext.AuthorBlocks)

	out := make([]LocationQuery, authorCount)
	for i := range out {
		var header types.ExtractedAuthor
		if i < len(ext.Authors) {
			header = ext.Authors[i]
		}
		q := LocationQuery{Email: header.Email, Origin: OriginNone}

		if uni, ok := b.Universities.Lookup(header.Email); ok && header.Email != "" {
			q.Query, q.Origin, q.Affiliation = uni.Query(), OriginGrobidUni, uni.Name
		} else if addr := joinNonEmpty(", ", header.Organisation, header.Address); addr != "" {
			q.Query, q.Origin, q.Affiliation = addr, OriginGrobidAddress, header.Organisation
		} else if i < len(textUnis) {
			q.Query, q.Origin, q.Affiliation = textUnis[i].Query(), OriginTextUni, textUnis[i].Name
		} else if i < len(ext.AuthorBlocks) {
			if line := blockQuery(ext.AuthorBlocks[i]); line != "" {
				q.Query, q.Origin, q.Affiliation = line, OriginAuthorBlock, line
			}
		}
		if q.Affiliation == "" {
			q.Affiliation = q.Query
		}
		out[i] = q
	}
	return out
}

// blockQuery picks the location line of a raw author block: the line
// above the email when the block ends in one, the last line otherwise. A
// line that looks like a telephone number defers to the line above it.
func blockQuery(block string) string {
	var lines []string
	for _, l := range strings.Split(block, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	idx := len(lines) - 1
	if strings.Contains(block, "@") {
		idx--
	}
	if idx >= 0 && digitCount(lines[idx]) > maxBlockDigits {
		idx--
	}
	if idx < 0 {
		return ""
	}
	return lines[idx]
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
