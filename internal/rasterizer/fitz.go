package rasterizer

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/amrrdev/quizscan/internal/pipeline"
	"github.com/gen2brain/go-fitz"
)

// Fitz renders pages in process with MuPDF.
type Fitz struct {
	dpi float64
}

func NewFitz(dpi int) *Fitz {
	return &Fitz{dpi: float64(dpi)}
}

func (f *Fitz) Rasterize(ctx context.Context, pdfPath, outDir string) ([]Page, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, pipeline.RasterizationError("failed to open pdf", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	pages := make([]Page, 0, pageCount)

	for i := 0; i < pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, pipeline.TransientError("rasterization interrupted", err)
		}

		img, err := doc.ImageDPI(i, f.dpi)
		if err != nil {
			return nil, pipeline.RasterizationError(fmt.Sprintf("failed to render page %d", i+1), err)
		}

		path := filepath.Join(outDir, fmt.Sprintf("page-%d.png", i+1))
		out, err := os.Create(path)
		if err != nil {
			return nil, pipeline.TransientError(fmt.Sprintf("failed to create image for page %d", i+1), err)
		}
		err = png.Encode(out, img)
		out.Close()
		if err != nil {
			return nil, pipeline.RasterizationError(fmt.Sprintf("failed to encode page %d", i+1), err)
		}

		pages = append(pages, Page{Number: i + 1, Path: path, ContentType: "image/png"})
	}

	return checkSequence(pages)
}
