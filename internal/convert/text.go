// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"regexp"
	"strings"
	"unicode"
)

// Quality problems reported by CheckQuality.
const (
	ProblemEmpty        = "empty"
	ProblemNonAlpha     = "non alpha"
	ProblemPoorDecoding = "poor decoding"
)

// MinBodyWords is the body length under which GROBID's body is considered
// missing and the plain text is used instead.
const MinBodyWords = 10

var (
	// cidPattern matches glyphs the extractor could not map to text.
	cidPattern = regexp.MustCompile(`\(cid:[0-9]+\)`)

	// authorBlockPattern matches a block of non-blank lines that starts with
	// a capital letter and ends in a line carrying an email address.
	authorBlockPattern = regexp.MustCompile(`(?m)(?:^[A-Z |].+$)(?:\s^[\S |].+$)*\s(?:.+@[a-zA-Z0-9\-\x{2013}]+\.[a-zA-Z0-9\-\x{2013}.]+)`)

	abstractPattern = regexp.MustCompile(`(?m)^\s*(?:Abstract|ABSTRACT)\s*$`)
	introPattern    = regexp.MustCompile(`(?m)^[0-9]?.?\s*(?:Introduction|INTRODUCTION).*$`)
	ackPattern      = regexp.MustCompile(`(?m)^[0-9]?.?\s*(?:Acknowledg(?:e)?ment(?:s)?|ACKNOWLEDG(?:E)?MENT(?:S)?)\s*$`)
	refPattern      = regexp.MustCompile(`(?m)^[0-9]?.?\s*(?:References|REFERENCES)\s*$`)
)

// CheckQuality flags text that is empty, mostly non-letters, or mostly
// undecodable glyph references. It returns nil for usable text.
func CheckQuality(doc string) []string {
	if strings.TrimSpace(doc) == "" {
		return []string{ProblemEmpty}
	}
	var problems []string

	total, letters := 0, 0
	for _, r := range doc {
		total++
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			letters++
		}
	}
	if total > 2*letters {
		problems = append(problems, ProblemNonAlpha)
	}

	if cidless := cidPattern.ReplaceAllString(doc, ""); len(doc) > 2*len(cidless) {
		problems = append(problems, ProblemPoorDecoding)
	}
	return problems
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// TrimHeadFoot cuts plain text to the span between the abstract (or the
// introduction) heading and the acknowledgements (or references) heading.
// A boundary that cannot be found leaves that end untrimmed and is
// reported through the flags.
func TrimHeadFoot(doc string) (trimmed string, headerFound, footerFound bool) {
	trimmed = doc
	if loc := abstractPattern.FindStringIndex(trimmed); loc != nil {
		trimmed, headerFound = trimmed[loc[1]:], true
	} else if loc := introPattern.FindStringIndex(trimmed); loc != nil {
		trimmed, headerFound = trimmed[loc[1]:], true
	}

	if loc := ackPattern.FindStringIndex(trimmed); loc != nil {
		trimmed, footerFound = trimmed[:loc[0]], true
	} else if loc := refPattern.FindStringIndex(trimmed); loc != nil {
		trimmed, footerFound = trimmed[:loc[0]], true
	}
	return trimmed, headerFound, footerFound
}

// AuthorBlocks scrapes up to n author blocks from plain text. Blocks that
// end in an email address are preferred; when none exist, each author's
// name (first, last) is searched for and the lines following it taken.
// The blocks are not guaranteed to line up with the author order.
func AuthorBlocks(doc string, names [][2]string) []string {
	n := len(names)
	if n == 0 {
		return nil
	}
	blocks := authorBlockPattern.FindAllString(doc, n)
	if len(blocks) > 0 {
		return blocks
	}

	for _, name := range names {
		first, last := strings.TrimSpace(name[0]), strings.TrimSpace(name[1])
		if first == "" || last == "" {
			continue
		}
		re, err := regexp.Compile(`(?m)(?:^.*` + regexp.QuoteMeta(first) + `.+` + regexp.QuoteMeta(last) + `.*$)(?:\s^[\S |].+$)*`)
		if err != nil {
			continue
		}
		if m := re.FindString(doc); m != "" {
			blocks = append(blocks, m)
		}
	}
	return blocks
}
