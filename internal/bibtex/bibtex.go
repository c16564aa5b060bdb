// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package bibtex parses BibTeX databases into ordered entries. A malformed
// entry is reported and skipped; parsing resumes at the next entry.
package bibtex

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"
)

// Entry is one parsed BibTeX record. Field values have their outer
// delimiters removed, macros expanded, and concatenations joined. Inner
// braces and LaTeX commands are kept; use Field for decoded text.
type Entry struct {
	Type   string
	Key    string
	Fields map[string]string
	// Line is the 1-based line where the entry starts.
	Line int
}

// Field returns the named field decoded to plain Unicode text.
func (e Entry) Field(name string) string {
	return Decode(e.Fields[strings.ToLower(name)])
}

// Raw returns the named field without LaTeX decoding.
func (e Entry) Raw(name string) string {
	return e.Fields[strings.ToLower(name)]
}

var andSep = regexp.MustCompile(`(?i)^\s+and\s+`)

// Names splits a name-list field ("author", "editor") on top-level "and"
// separators and decodes each name.
func (e Entry) Names(field string) []string {
	raw := e.Fields[strings.ToLower(field)]
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var names []string
	depth, start := 0, 0
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			depth--
		case ' ', '\t', '\n', '\r':
			if depth != 0 {
				continue
			}
			if loc := andSep.FindStringIndex(raw[i:]); loc != nil {
				names = append(names, raw[start:i])
				start = i + loc[1]
				i = start - 1
			}
		}
	}
	names = append(names, raw[start:])

	out := make([]string, 0, len(names))
	for _, n := range names {
		if d := Decode(n); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// ParseError describes an entry that could not be parsed.
type ParseError struct {
	Line int
	Key  string
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("line %d (%s): %s", e.Line, e.Key, e.Msg)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Parse reads a BibTeX database. It returns every well-formed entry in file
// order and one *ParseError per skipped entry.
func Parse(r io.Reader) ([]Entry, []error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, []error{fmt.Errorf("reading bibliography: %w", err)}
	}
	p := &parser{src: []rune(string(data)), line: 1, macros: defaultMacros()}
	return p.parseAll()
}

// defaultMacros holds the month abbreviations every BibTeX style predefines.
func defaultMacros() map[string]string {
	return map[string]string{
		"jan": "January", "feb": "February", "mar": "March", "apr": "April",
		"may": "May", "jun": "June", "jul": "July", "aug": "August",
		"sep": "September", "oct": "October", "nov": "November", "dec": "December",
	}
}

type parser struct {
	src    []rune
	pos    int
	line   int
	macros map[string]string
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() rune {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) next() rune {
	r := p.src[p.pos]
	p.pos++
	if r == '\n' {
		p.line++
	}
	return r
}

func (p *parser) skipSpace() {
	for !p.eof() && unicode.IsSpace(p.peek()) {
		p.next()
	}
}

func (p *parser) parseAll() ([]Entry, []error) {
	var entries []Entry
	var errs []error
	for {
		// Text outside entries is a comment.
		for !p.eof() && p.peek() != '@' {
			p.next()
		}
		if p.eof() {
			return entries, errs
		}
		start := p.line
		p.next() // '@'

		entry, ok, err := p.parseEntry(start)
		if err != nil {
			errs = append(errs, err)
			p.recover()
			continue
		}
		if ok {
			entries = append(entries, entry)
		}
	}
}

// recover skips to the next '@' that starts a line.
func (p *parser) recover() {
	for !p.eof() {
		if p.peek() == '@' && (p.pos == 0 || p.src[p.pos-1] == '\n') {
			return
		}
		p.next()
	}
}

func (p *parser) fail(line int, key, format string, args ...any) error {
	return &ParseError{Line: line, Key: key, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) ident() string {
	var b strings.Builder
	for !p.eof() {
		r := p.peek()
		if unicode.IsSpace(r) || strings.ContainsRune("{}(),=#\"", r) {
			break
		}
		b.WriteRune(p.next())
	}
	return b.String()
}

func closer(open rune) rune {
	if open == '(' {
		return ')'
	}
	return '}'
}

func (p *parser) parseEntry(line int) (Entry, bool, error) {
	typ := strings.ToLower(p.ident())
	if typ == "" {
		return Entry{}, false, p.fail(line, "", "missing entry type")
	}
	p.skipSpace()
	if p.eof() || (p.peek() != '{' && p.peek() != '(') {
		return Entry{}, false, p.fail(line, "", "expected '{' after @%s", typ)
	}
	open := p.next()
	end := closer(open)

	switch typ {
	case "comment", "preamble":
		if err := p.skipBalanced(open, end); err != nil {
			return Entry{}, false, p.fail(line, "", "unterminated @%s", typ)
		}
		return Entry{}, false, nil
	case "string":
		if err := p.parseMacro(line, end); err != nil {
			return Entry{}, false, err
		}
		return Entry{}, false, nil
	}

	p.skipSpace()
	var key strings.Builder
	for !p.eof() && p.peek() != ',' && p.peek() != end {
		if p.peek() == '@' {
			return Entry{}, false, p.fail(line, "", "malformed entry key")
		}
		r := p.next()
		if r == '\n' {
			return Entry{}, false, p.fail(line, "", "malformed entry key")
		}
		key.WriteRune(r)
	}
	k := strings.TrimSpace(key.String())
	if p.eof() {
		return Entry{}, false, p.fail(line, k, "unexpected end of input")
	}
	if k == "" {
		return Entry{}, false, p.fail(line, "", "missing entry key")
	}

	entry := Entry{Type: typ, Key: k, Fields: make(map[string]string), Line: line}
	for {
		p.skipSpace()
		if p.eof() {
			return Entry{}, false, p.fail(line, k, "unexpected end of input")
		}
		r := p.next()
		if r == end {
			return entry, true, nil
		}
		if r != ',' {
			return Entry{}, false, p.fail(line, k, "expected ',' or '%c', found %q", end, r)
		}
		p.skipSpace()
		if !p.eof() && p.peek() == end {
			p.next()
			return entry, true, nil
		}
		name, value, err := p.parseField(line, k, end)
		if err != nil {
			return Entry{}, false, err
		}
		if _, dup := entry.Fields[name]; !dup {
			entry.Fields[name] = value
		}
	}
}

func (p *parser) parseMacro(line int, end rune) error {
	p.skipSpace()
	name, value, err := p.parseField(line, "@string", end)
	if err != nil {
		return err
	}
	p.skipSpace()
	if p.eof() || p.next() != end {
		return p.fail(line, name, "unterminated @string")
	}
	p.macros[name] = value
	return nil
}

func (p *parser) parseField(line int, key string, end rune) (string, string, error) {
	name := strings.ToLower(p.ident())
	if name == "" {
		return "", "", p.fail(line, key, "missing field name")
	}
	p.skipSpace()
	if p.eof() || p.next() != '=' {
		return "", "", p.fail(line, key, "expected '=' after field %q", name)
	}

	var value strings.Builder
	for {
		p.skipSpace()
		part, err := p.parseValuePart(line, key, end)
		if err != nil {
			return "", "", err
		}
		value.WriteString(part)
		p.skipSpace()
		if !p.eof() && p.peek() == '#' {
			p.next()
			continue
		}
		return name, value.String(), nil
	}
}

func (p *parser) parseValuePart(line int, key string, end rune) (string, error) {
	if p.eof() {
		return "", p.fail(line, key, "unexpected end of input")
	}
	switch r := p.peek(); {
	case r == '{':
		p.next()
		return p.readBraced(line, key)
	case r == '"':
		p.next()
		return p.readQuoted(line, key)
	default:
		word := p.ident()
		if word == "" {
			return "", p.fail(line, key, "empty field value")
		}
		if isDigits(word) {
			return word, nil
		}
		if v, ok := p.macros[strings.ToLower(word)]; ok {
			return v, nil
		}
		return "", p.fail(line, key, "undefined macro %q", word)
	}
}

// readBraced reads up to the brace matching an already consumed '{'.
func (p *parser) readBraced(line int, key string) (string, error) {
	var b strings.Builder
	depth := 1
	for !p.eof() {
		r := p.next()
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b.String(), nil
			}
		case '@':
			// An '@' at the start of a line inside a value means the closing
			// brace was lost and a new entry begins.
			if p.pos >= 2 && p.src[p.pos-2] == '\n' {
				p.pos--
				return "", p.fail(line, key, "unbalanced braces")
			}
		}
		b.WriteRune(r)
	}
	return "", p.fail(line, key, "unbalanced braces")
}

// readQuoted reads up to the closing '"' at brace depth zero.
func (p *parser) readQuoted(line int, key string) (string, error) {
	var b strings.Builder
	depth := 0
	for !p.eof() {
		r := p.next()
		switch r {
		case '{':
			depth++
		case '}':
			depth--
		case '"':
			if depth == 0 {
				return b.String(), nil
			}
		}
		b.WriteRune(r)
	}
	return "", p.fail(line, key, "unterminated quoted value")
}

func (p *parser) skipBalanced(open, end rune) error {
	depth := 1
	for !p.eof() {
		r := p.next()
		switch r {
		case open:
			depth++
		case end:
			depth--
			if depth == 0 {
				return nil
			}
		}
	}
	return io.ErrUnexpectedEOF
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
