// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert turns cached PDFs into structured extraction fragments:
// GROBID TEI for the header and body, a plain-text fallback extractor for
// author blocks and thin bodies, and a quality check over the result.
package convert

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/pdiddy/proceedings-engine/internal/container"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// Converter extracts plain text from a PDF. The in-process pdftext
// extractor and the markitdown container implement it.
type Converter interface {
	Convert(ctx context.Context, pdfPath string) (string, error)
}

// PdftextConverter extracts text in-process, page by page.
type PdftextConverter struct{}

// Convert returns the plain text of every page of the PDF, pages separated
// by form feeds. Pages that cannot be decoded are skipped.
func (PdftextConverter) Convert(ctx context.Context, pdfPath string) (string, error) {
	f, r, err := pdf.Open(pdfPath)
	if err != nil {
		return "", fmt.Errorf("opening PDF %s: %w", pdfPath, err)
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}
	text := strings.Join(pages, "\f")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no text layer in %s", pdfPath)
	}
	return text, nil
}

// NewConverter builds the configured fallback extractor. It returns nil for
// BackendNone. The markitdown backend needs a container runtime with the
// image present.
func NewConverter(ctx context.Context, backend types.ConversionBackend) (Converter, error) {
	switch backend {
	case "", types.BackendPdftext:
		return PdftextConverter{}, nil
	case types.BackendMarkitdown:
		rt, err := container.DetectRuntime(ctx)
		if err != nil {
			return nil, err
		}
		return NewMarkitdownConverter(ctx, rt)
	case types.BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown conversion backend %q", backend)
	}
}
