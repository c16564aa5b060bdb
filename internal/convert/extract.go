// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// Body sources recorded in types.Extraction.BodySource.
const (
	SourceGrobid = "grobid"
	SourceMiner  = "miner"
)

// DefaultWebNativeYears are the proceedings years published through a
// web-native system.
var DefaultWebNativeYears = []int{2021, 2022}

// Extractor runs structured and plain-text extraction for one paper at a
// time and caches every intermediate artifact.
type Extractor struct {
	Store *cache.Store

	// Grobid performs structured extraction; nil disables it.
	Grobid *GrobidClient

	// Fallback is the plain-text extractor; nil disables it.
	Fallback Converter

	Config types.ConversionConfig
	Logger *slog.Logger
}

func (x *Extractor) logger() *slog.Logger {
	if x.Logger == nil {
		return slog.Default()
	}
	return x.Logger
}

// WebNative reports whether year is published through the web-native system.
func (x *Extractor) WebNative(year int) bool {
	years := x.Config.WebNativeYears
	if years == nil {
		years = DefaultWebNativeYears
	}
	return slices.Contains(years, year)
}

// Extract returns the extraction fragment for entry, whose PDF must already
// be cached. A cached fragment for the same PDF hash is returned without
// any work unless Config.Force is set. Unusable text yields a cached
// fragment with status failed; an unreachable GROBID service yields an
// error wrapping types.ErrServiceError and nothing is cached.
func (x *Extractor) Extract(ctx context.Context, entry types.BibEntry, pdfHash string, pages int) (types.Extraction, error) {
	id := entry.ID
	log := x.logger().With("paper", id, "stage", "extract")

	if !x.Config.Force {
		if ext, ok := x.cached(id, pdfHash); ok {
			return ext, nil
		}
	}
	if x.Config.Force || x.Store.Exists(id, cache.KindExtraction) {
		x.purgeDerived(id)
	}

	if !x.Store.Exists(id, cache.KindPDF) {
		return types.Extraction{}, types.NewStageError(id, "extract",
			fmt.Errorf("%w: no cached PDF", types.ErrExtractionFailure))
	}
	pdfPath := x.Store.Path(id, cache.KindPDF)

	ext := types.Extraction{
		PDFPath:   pdfPath,
		PDFHash:   pdfHash,
		PageCount: pages,
	}
	if ext.PageCount == 0 {
		ext.PageCount = entry.PageCount()
	}

	tei, err := x.structured(ctx, id, pdfPath, &ext)
	if err != nil {
		log.Warn("structured extraction unavailable", "error", err)
		return types.Extraction{}, types.NewStageError(id, "extract",
			fmt.Errorf("%w: %w", types.ErrServiceError, err))
	}
	var grobidText string
	if tei != nil {
		ext.Title = tei.Title
		ext.Abstract = tei.Abstract
		ext.Authors = tei.Authors
		grobidText = tei.Body()
		if grobidText != "" {
			if err := x.Store.Write(id, cache.KindGrobidText, []byte(grobidText)); err != nil {
				return types.Extraction{}, types.NewStageError(id, "extract", err)
			}
		}
	}

	var minerText string
	if x.Fallback != nil && (!x.WebNative(entry.Year) || x.Config.PDFPrecedence) {
		minerText, err = x.plainText(ctx, id, pdfPath)
		if err != nil {
			if ctx.Err() != nil {
				return types.Extraction{}, types.NewStageError(id, "extract", ctx.Err())
			}
			log.Warn("plain-text extraction failed", "error", err)
			ext.Problems = append(ext.Problems, "miner failed")
			minerText = ""
		}
		ext.AuthorBlocks = AuthorBlocks(minerText, nameParts(entry.Authors))
	}

	ext.Body, ext.BodySource = chooseBody(grobidText, minerText)
	if problems := CheckQuality(ext.Body); len(problems) > 0 {
		ext.Status = types.ExtractionFailed
		ext.Problems = append(ext.Problems, problems...)
		ext.Body, ext.WordCount = "", 0
		log.Warn("text failed quality check", "problems", problems)
	} else {
		ext.Status = types.ExtractionOK
		ext.WordCount = WordCount(ext.Body)
	}

	if err := x.Store.WriteJSON(id, cache.KindExtraction, ext); err != nil {
		return types.Extraction{}, types.NewStageError(id, "extract", err)
	}
	log.Info("extracted", "status", ext.Status, "source", ext.BodySource, "words", ext.WordCount)
	return ext, nil
}

// structured returns the parsed TEI for the paper, calling GROBID only when
// no TEI is cached. A document-level GROBID rejection is recorded as a
// problem and yields a nil document; only service unavailability is an
// error.
func (x *Extractor) structured(ctx context.Context, id, pdfPath string, ext *types.Extraction) (*TEIDocument, error) {
	data, err := x.Store.Read(id, cache.KindTEI)
	if err != nil {
		if x.Grobid == nil {
			return nil, nil
		}
		data, err = x.Grobid.ProcessFulltext(ctx, pdfPath)
		var gerr *GrobidError
		switch {
		case errors.As(err, &gerr):
			ext.Problems = append(ext.Problems, "grobid failed")
			x.logger().Warn("GROBID rejected PDF", "paper", id, "status", gerr.StatusCode)
			return nil, nil
		case err != nil:
			return nil, err
		}
		if !isTEI(data) {
			ext.Problems = append(ext.Problems, "grobid empty")
			return nil, nil
		}
		if err := x.Store.Write(id, cache.KindTEI, data); err != nil {
			return nil, err
		}
	}

	doc, err := ParseTEI(bytes.NewReader(data))
	if err != nil {
		ext.Problems = append(ext.Problems, "grobid unparsable")
		x.logger().Warn("unparsable TEI", "paper", id, "error", err)
		return nil, nil
	}
	return doc, nil
}

// plainText returns the cached plain text or runs the fallback extractor
// and caches its output.
func (x *Extractor) plainText(ctx context.Context, id, pdfPath string) (string, error) {
	if data, err := x.Store.Read(id, cache.KindMinerText); err == nil {
		return string(data), nil
	}
	text, err := x.Fallback.Convert(ctx, pdfPath)
	if err != nil {
		return "", err
	}
	if err := x.Store.Write(id, cache.KindMinerText, []byte(text)); err != nil {
		return "", err
	}
	return text, nil
}

// cached loads a previously stored fragment, with its body, when it was
// produced from the PDF with hash pdfHash.
func (x *Extractor) cached(id, pdfHash string) (types.Extraction, bool) {
	var ext types.Extraction
	if err := x.Store.ReadJSON(id, cache.KindExtraction, &ext); err != nil {
		return ext, false
	}
	if pdfHash != "" && ext.PDFHash != pdfHash {
		return ext, false
	}
	if ext.Status == types.ExtractionOK {
		ext.Body = x.Body(id, ext.BodySource)
	}
	return ext, true
}

// Body reloads the body text of a cached extraction from its source
// artifact.
func (x *Extractor) Body(id, source string) string {
	switch source {
	case SourceGrobid:
		data, _ := x.Store.Read(id, cache.KindGrobidText)
		return string(data)
	case SourceMiner:
		data, _ := x.Store.Read(id, cache.KindMinerText)
		trimmed, _, _ := TrimHeadFoot(string(data))
		return strings.TrimSpace(trimmed)
	}
	return ""
}

// purgeDerived drops every artifact derived from the PDF so a re-extraction
// starts clean.
func (x *Extractor) purgeDerived(id string) {
	for _, k := range []cache.Kind{cache.KindTEI, cache.KindGrobidText, cache.KindMinerText, cache.KindExtraction} {
		x.Store.Purge(id, k)
	}
}

// chooseBody prefers GROBID's body and falls back to the trimmed plain text
// when GROBID found fewer than MinBodyWords words.
func chooseBody(grobidText, minerText string) (string, string) {
	if WordCount(grobidText) >= MinBodyWords || minerText == "" {
		if grobidText == "" {
			return "", ""
		}
		return grobidText, SourceGrobid
	}
	trimmed, _, _ := TrimHeadFoot(minerText)
	return strings.TrimSpace(trimmed), SourceMiner
}

// nameParts splits bibliography author names into (first, last) pairs for
// the name-based author block search.
func nameParts(authors []string) [][2]string {
	parts := make([][2]string, 0, len(authors))
	for _, a := range authors {
		if last, first, ok := strings.Cut(a, ","); ok {
			parts = append(parts, [2]string{strings.TrimSpace(first), strings.TrimSpace(last)})
			continue
		}
		fields := strings.Fields(a)
		if len(fields) < 2 {
			parts = append(parts, [2]string{"", a})
			continue
		}
		parts = append(parts, [2]string{fields[0], fields[len(fields)-1]})
	}
	return parts
}
