// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package authors resolves the authors of a paper: normalized names, a
// combined gender estimate, the affiliation query sent to the geocoder, and
// one canonical location per author across papers.
package authors

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// badNames are titles dropped from names.
var badNames = map[string]bool{"professor": true, "dr.": true, "prof.": true}

// particles start multi-word surnames that are kept whole ("van der Berg").
var particles = map[string]bool{
	"d'": true, "di": true, "da": true, "de": true, "do": true, "du": true, "des": true,
	"af": true, "von": true, "van": true, "los": true, "mc": true, "of": true, "zu": true,
}

var nonNameChars = regexp.MustCompile(`[^a-zA-Z\- ]`)

// letters without a decomposition that folding must still map to ASCII.
var foldReplacer = strings.NewReplacer(
	"ø", "o", "Ø", "O", "ł", "l", "Ł", "L", "ß", "ss", "æ", "ae", "Æ", "AE",
	"œ", "oe", "Œ", "OE", "đ", "d", "Đ", "D", "þ", "th", "Þ", "Th", "ı", "i",
)

// Fold maps s to ASCII by stripping diacritics ("Müller" -> "Muller").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return foldReplacer.Replace(folded)
}

// SplitName normalizes a bibliography name ("Last, First" or "First Last")
// into a single first name and a surname. Titles and trailing initials are
// dropped, surnames starting with a particle are kept whole, and names
// written in one case are title-cased.
func SplitName(raw string) (first, last string) {
	raw = strings.Join(strings.Fields(Fold(raw)), " ")
	if raw == "" {
		return "", ""
	}
	if l, f, ok := strings.Cut(raw, ", "); ok {
		first, last = f, l
	} else if f, l, ok := strings.Cut(raw, " "); ok {
		first, last = f, l
	} else {
		return "", titleIfNeeded(nonNameChars.ReplaceAllString(raw, ""))
	}

	first = normalizeFirst(first)
	last = normalizeLast(last)
	return titleIfNeeded(first), titleIfNeeded(last)
}

func normalizeFirst(s string) string {
	for _, part := range strings.Split(s, " ") {
		if (len(part) > 2 && strings.Contains(part, ".")) || badNames[strings.ToLower(part)] || part == "" {
			continue
		}
		return nonNameChars.ReplaceAllString(part, "")
	}
	return ""
}

func normalizeLast(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "d'") {
		return s
	}
	var parts []string
	for _, p := range strings.Split(s, " ") {
		if p != "" && !badNames[strings.ToLower(p)] {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	var last string
	tail := parts[len(parts)-1]
	switch {
	case particles[strings.ToLower(parts[0])]:
		last = strings.Join(parts, " ")
	case strings.Contains(tail, ".") || len(tail) == 1:
		last = parts[0]
	default:
		last = tail
	}
	return nonNameChars.ReplaceAllString(last, "")
}

// titleIfNeeded title-cases names that do not start with a capital or are
// written entirely in capitals; mixed-case names ("McKenzie") are kept.
func titleIfNeeded(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if unicode.IsUpper(r[0]) && s != strings.ToUpper(s) {
		return s
	}
	prevLetter := false
	for i, c := range r {
		if prevLetter {
			r[i] = unicode.ToLower(c)
		} else {
			r[i] = unicode.ToUpper(c)
		}
		prevLetter = unicode.IsLetter(c)
	}
	return string(r)
}

// Key is the identity used to merge the same author across papers.
func Key(first, last string) string {
	return strings.ToLower(strings.TrimSpace(first + " " + last))
}
