// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/proceedings-engine/internal/httputil"
)

const (
	// DefaultGrobidURL is the GROBID service started by "mage grobid".
	DefaultGrobidURL = "http://localhost:8070"

	// GrobidImage is the container image used to serve GROBID locally.
	GrobidImage = "grobid/grobid:0.8.1"

	fulltextPath = "/api/processFulltextDocument"
	alivePath    = "/api/isalive"
)

// ErrGrobidUnavailable is returned when the GROBID service cannot be reached
// or keeps answering 503; the paper is retried on the next run.
var ErrGrobidUnavailable = errors.New("GROBID service unavailable")

// GrobidError is a document-level rejection: GROBID is up but could not
// process this PDF. It is not retried.
type GrobidError struct {
	StatusCode int
	Message    string
}

func (e *GrobidError) Error() string {
	return fmt.Sprintf("GROBID returned HTTP %d: %s", e.StatusCode, e.Message)
}

// GrobidClient posts PDFs to a GROBID service for full-text TEI extraction.
type GrobidClient struct {
	BaseURL   string
	Client    *http.Client
	UserAgent string
}

// Alive reports whether the service answers its health endpoint.
func (g *GrobidClient) Alive(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(g.BaseURL, "/")+alivePath, nil)
	if err != nil {
		return false
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ProcessFulltext returns the TEI XML GROBID produces for the PDF at
// pdfPath. Transport failures and persistent 503s wrap
// ErrGrobidUnavailable; any other non-200 answer is a *GrobidError.
func (g *GrobidClient) ProcessFulltext(ctx context.Context, pdfPath string) ([]byte, error) {
	body, contentType, err := multipartPDF(pdfPath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(g.BaseURL, "/")+fulltextPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating GROBID request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/xml")
	if g.UserAgent != "" {
		req.Header.Set("User-Agent", g.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, g.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGrobidUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrGrobidUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return data, nil
	case http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: HTTP 503", ErrGrobidUnavailable)
	default:
		msg := strings.TrimSpace(string(data))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, &GrobidError{StatusCode: resp.StatusCode, Message: msg}
	}
}

// multipartPDF builds the form GROBID expects: the PDF under "input" plus
// flags that keep raw affiliation strings for geocoding.
func multipartPDF(pdfPath string) ([]byte, string, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, "", fmt.Errorf("opening PDF %s: %w", pdfPath, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("input", filepath.Base(pdfPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("reading PDF %s: %w", pdfPath, err)
	}
	for k, v := range map[string]string{
		"consolidateHeader":      "0",
		"includeRawAffiliations": "1",
	} {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
