// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageCount reads the page count of the PDF at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading page count of %s: %w", path, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s has no pages", path)
	}
	return n, nil
}

// Validate checks that path is a readable PDF. A malformed file is repaired
// once by rewriting it with relaxed validation; if it still cannot be read
// the original error is returned.
func Validate(path string) (pages int, repaired bool, err error) {
	pages, err = PageCount(path)
	if err == nil {
		return pages, false, nil
	}
	if repairErr := Repair(path); repairErr != nil {
		return 0, false, fmt.Errorf("%w (repair failed: %v)", err, repairErr)
	}
	pages, err = PageCount(path)
	if err != nil {
		return 0, true, fmt.Errorf("PDF still malformed after repair: %w", err)
	}
	return pages, true, nil
}

// Repair rewrites the PDF at path in place through pdfcpu's optimizer,
// which rebuilds the cross-reference table.
func Repair(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".repair-*.pdf")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.OptimizeFile(path, tmpPath, conf); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("repairing %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
