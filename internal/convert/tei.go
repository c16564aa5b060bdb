// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// TEIDocument is the part of a GROBID TEI file the pipeline uses.
type TEIDocument struct {
	Title      string
	Abstract   string
	Authors    []types.ExtractedAuthor
	Paragraphs []string
}

// Body joins the body paragraphs with blank lines.
func (d *TEIDocument) Body() string {
	return strings.Join(d.Paragraphs, "\n\n")
}

type teiFile struct {
	Title    textContent   `xml:"teiHeader>fileDesc>titleStmt>title"`
	Authors  []teiAuthor   `xml:"teiHeader>fileDesc>sourceDesc>biblStruct>analytic>author"`
	Abstract textContent   `xml:"teiHeader>profileDesc>abstract"`
	Body     teiParagraphs `xml:"text>body"`
}

type teiAuthor struct {
	PersName *struct {
		Forenames []struct {
			Type string      `xml:"type,attr"`
			Text textContent `xml:",chardata"`
		} `xml:"forename"`
		Surname textContent `xml:"surname"`
	} `xml:"persName"`
	Email        textContent      `xml:"email"`
	Affiliations []teiAffiliation `xml:"affiliation"`
}

type teiAffiliation struct {
	OrgNames []struct {
		Type string      `xml:"type,attr"`
		Text textContent `xml:",chardata"`
	} `xml:"orgName"`
	Address *struct {
		Parts []textContent `xml:",any"`
	} `xml:"address"`
}

// ParseTEI reads a GROBID TEI document. A file without a header is an
// error; a file without body paragraphs is not.
func ParseTEI(r io.Reader) (*TEIDocument, error) {
	var f teiFile
	dec := xml.NewDecoder(r)
	dec.Strict = false
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing TEI: %w", err)
	}

	doc := &TEIDocument{
		Title:      string(f.Title),
		Abstract:   string(f.Abstract),
		Paragraphs: f.Body,
	}
	for _, a := range f.Authors {
		// GROBID emits affiliation-only <author> elements when it cannot
		// attach an organisation to a person; those are kept so the
		// organisation lines up with the author order.
		var ea types.ExtractedAuthor
		if a.PersName != nil {
			for _, fn := range a.PersName.Forenames {
				if fn.Type == "middle" {
					ea.Middle = joinNonEmpty(" ", ea.Middle, collapseSpace(string(fn.Text)))
				} else if ea.First == "" {
					ea.First = collapseSpace(string(fn.Text))
				}
			}
			ea.Surname = string(a.PersName.Surname)
		}
		ea.Email = string(a.Email)
		if len(a.Affiliations) > 0 {
			ea.Organisation, ea.Address = a.Affiliations[0].flatten()
		}
		if ea == (types.ExtractedAuthor{}) {
			continue
		}
		doc.Authors = append(doc.Authors, ea)
	}
	return doc, nil
}

// flatten returns the institution (or first organisation) name and the
// address parts joined by commas.
func (a teiAffiliation) flatten() (org, addr string) {
	for _, o := range a.OrgNames {
		if o.Type == "institution" {
			org = collapseSpace(string(o.Text))
			break
		}
	}
	if org == "" && len(a.OrgNames) > 0 {
		org = collapseSpace(string(a.OrgNames[0].Text))
	}
	if a.Address != nil {
		var parts []string
		for _, p := range a.Address.Parts {
			if s := string(p); s != "" {
				parts = append(parts, s)
			}
		}
		addr = strings.Join(parts, ", ")
	}
	return org, addr
}

// textContent collects all character data below an element, separating
// child elements with spaces and collapsing whitespace.
type textContent string

func (t *textContent) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b strings.Builder
	for depth := 1; depth > 0; {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch tk := tok.(type) {
		case xml.StartElement:
			depth++
			b.WriteByte(' ')
		case xml.EndElement:
			depth--
			b.WriteByte(' ')
		case xml.CharData:
			b.Write(tk)
		}
	}
	*t = textContent(collapseSpace(b.String()))
	return nil
}

// teiParagraphs collects every <p> below the body, at any depth.
type teiParagraphs []string

func (p *teiParagraphs) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for depth := 1; depth > 0; {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch tk := tok.(type) {
		case xml.StartElement:
			if tk.Name.Local == "p" {
				var para textContent
				if err := d.DecodeElement(&para, &tk); err != nil {
					return err
				}
				if para != "" {
					*p = append(*p, string(para))
				}
				continue
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// isTEI reports whether data looks like a TEI document with a header.
func isTEI(data []byte) bool {
	return bytes.Contains(data, []byte("<teiHeader"))
}
