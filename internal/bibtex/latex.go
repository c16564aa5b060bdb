// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package bibtex

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// accents maps LaTeX accent commands to Unicode combining marks.
var accents = map[string]rune{
	`"`: '\u0308',
	`'`: '\u0301',
	"`": '\u0300',
	"^": '\u0302',
	"~": '\u0303',
	"=": '\u0304',
	".": '\u0307',
	"u": '\u0306',
	"v": '\u030C',
	"H": '\u030B',
	"c": '\u0327',
	"k": '\u0328',
	"r": '\u030A',
}

// symbols maps argument-less LaTeX commands to their text.
var symbols = map[string]string{
	"ss": "ß", "o": "ø", "O": "Ø", "aa": "å", "AA": "Å",
	"ae": "æ", "AE": "Æ", "oe": "œ", "OE": "Œ", "l": "ł", "L": "Ł",
	"i": "i", "j": "j",
	"&": "&", "%": "%", "_": "_", "$": "$", "#": "#", "{": "{", "}": "}",
	"textendash": "–", "textemdash": "—", "textquoteright": "’",
	" ": " ",
}

// Decode converts a raw BibTeX value to plain text: LaTeX accents and
// symbols become Unicode (NFC), grouping braces are dropped, and whitespace
// is collapsed.
func Decode(s string) string {
	if s == "" {
		return ""
	}
	d := &decoder{src: []rune(s)}
	out := d.run()
	out = norm.NFC.String(out)
	return strings.Join(strings.Fields(out), " ")
}

type decoder struct {
	src []rune
	pos int
}

func (d *decoder) run() string {
	var b strings.Builder
	for d.pos < len(d.src) {
		r := d.src[d.pos]
		switch r {
		case '\\':
			d.pos++
			b.WriteString(d.command())
		case '{', '}':
			d.pos++
		case '~':
			d.pos++
			b.WriteRune(' ')
		default:
			d.pos++
			b.WriteRune(r)
		}
	}
	return b.String()
}

// command decodes the command whose backslash has been consumed.
func (d *decoder) command() string {
	if d.pos >= len(d.src) {
		return ""
	}
	var name string
	if r := d.src[d.pos]; unicode.IsLetter(r) {
		start := d.pos
		for d.pos < len(d.src) && unicode.IsLetter(d.src[d.pos]) {
			d.pos++
		}
		name = string(d.src[start:d.pos])
	} else {
		d.pos++
		name = string(r)
	}

	if mark, ok := accents[name]; ok {
		// Letter accents (\c, \v) need a separator before a bare argument.
		if unicode.IsLetter([]rune(name)[0]) {
			d.skipSpaces()
		}
		arg := d.argument()
		if arg == "" {
			return ""
		}
		runes := []rune(arg)
		return string(runes[0]) + string(mark) + string(runes[1:])
	}

	if sym, ok := symbols[name]; ok {
		if unicode.IsLetter([]rune(name)[0]) {
			// A control word swallows one following space ("\ss x").
			if d.pos < len(d.src) && d.src[d.pos] == ' ' {
				d.pos++
			}
			// "\o{}" style empty group.
			if d.pos+1 < len(d.src) && d.src[d.pos] == '{' && d.src[d.pos+1] == '}' {
				d.pos += 2
			}
		}
		return sym
	}

	// Unknown formatting commands (\textit, \emph) keep their argument.
	d.skipSpaces()
	if d.pos < len(d.src) && d.src[d.pos] == '{' {
		return d.argument()
	}
	return ""
}

// argument reads one accent argument: a braced group, a nested command, or
// a single character.
func (d *decoder) argument() string {
	if d.pos >= len(d.src) {
		return ""
	}
	switch r := d.src[d.pos]; r {
	case '{':
		depth := 0
		start := d.pos
		for d.pos < len(d.src) {
			switch d.src[d.pos] {
			case '{':
				depth++
			case '}':
				depth--
			}
			d.pos++
			if depth == 0 {
				break
			}
		}
		inner := &decoder{src: d.src[start+1 : max(start+1, d.pos-1)]}
		return inner.run()
	case '\\':
		d.pos++
		return d.command()
	default:
		d.pos++
		return string(r)
	}
}

func (d *decoder) skipSpaces() {
	for d.pos < len(d.src) && d.src[d.pos] == ' ' {
		d.pos++
	}
}
