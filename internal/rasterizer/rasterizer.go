// Package rasterizer turns a source PDF into one image file per page.
package rasterizer

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/amrrdev/quizscan/internal/pipeline"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
)

// Page is one rendered page image on local disk.
type Page struct {
	Number      int
	Path        string
	ContentType string
}

type Rasterizer interface {
	// Rasterize renders every page of pdfPath into outDir. Pages come back
	// ordered and numbered 1..N; anything else is a RasterizationError.
	Rasterize(ctx context.Context, pdfPath, outDir string) ([]Page, error)
}

// New picks the configured backend.
func New(backend, pdftoppmBin string, dpi int, logger zerolog.Logger) Rasterizer {
	if backend == "fitz" {
		return NewFitz(dpi)
	}
	return NewPdftoppm(pdftoppmBin, dpi, logger)
}

// Inspect checks that path holds a well-formed PDF and returns its page count.
func Inspect(path string) (pages int, err error) {
	header := make([]byte, 5)
	f, err := os.Open(path)
	if err != nil {
		return 0, pipeline.RasterizationError("failed to open source pdf", err)
	}
	_, readErr := f.Read(header)
	f.Close()
	if readErr != nil || string(header) != "%PDF-" {
		return 0, pipeline.RasterizationError(fmt.Sprintf("not a PDF file (header %q)", header), readErr)
	}

	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			pages = 0
			err = pipeline.RasterizationError("malformed pdf", fmt.Errorf("%v", r))
		}
	}()

	file, reader, err := pdf.Open(path)
	if err != nil {
		return 0, pipeline.RasterizationError("malformed pdf", err)
	}
	defer file.Close()

	pages = reader.NumPage()
	if pages < 1 {
		return 0, pipeline.RasterizationError("pdf has no pages", nil)
	}
	return pages, nil
}

// checkSequence sorts pages and verifies they are numbered exactly 1..len(pages).
func checkSequence(pages []Page) ([]Page, error) {
	if len(pages) == 0 {
		return nil, pipeline.RasterizationError("rasterizer produced no images", nil)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	for i, p := range pages {
		if p.Number != i+1 {
			return nil, pipeline.RasterizationError(
				fmt.Sprintf("page images are not contiguous: expected page %d, got %d", i+1, p.Number), nil)
		}
	}
	return pages, nil
}
