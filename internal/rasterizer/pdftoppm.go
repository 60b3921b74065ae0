package rasterizer

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/amrrdev/quizscan/internal/pipeline"
	"github.com/rs/zerolog"
)

// pdftoppm names its output prefix-N.png, zero padding N when the document is long.
var pageFile = regexp.MustCompile(`-(\d+)\.png$`)

type Pdftoppm struct {
	bin    string
	dpi    int
	runner Runner
	logger zerolog.Logger
}

func NewPdftoppm(bin string, dpi int, logger zerolog.Logger) *Pdftoppm {
	return &Pdftoppm{bin: bin, dpi: dpi, runner: execRunner{}, logger: logger}
}

// WithRunner swaps the command runner.
func (p *Pdftoppm) WithRunner(r Runner) *Pdftoppm {
	p.runner = r
	return p
}

func (p *Pdftoppm) Rasterize(ctx context.Context, pdfPath, outDir string) ([]Page, error) {
	prefix := filepath.Join(outDir, "page")

	// pdftoppm -r <dpi> -png <in.pdf> <outDir/page>
	_, stderr, err := p.runner.Run(ctx, p.bin, "-r", strconv.Itoa(p.dpi), "-png", pdfPath, prefix)
	if err != nil {
		if ctx.Err() != nil {
			return nil, pipeline.TransientError("rasterization interrupted", ctx.Err())
		}
		p.logger.Error().Err(err).Str("stderr", truncate(string(stderr), 8<<10)).Msg("❌ pdftoppm failed")
		return nil, pipeline.RasterizationError("pdftoppm failed", err)
	}

	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, pipeline.RasterizationError("failed to list page images", err)
	}

	pages := make([]Page, 0, len(matches))
	for _, m := range matches {
		sub := pageFile.FindStringSubmatch(m)
		if sub == nil {
			continue
		}
		n, err := strconv.Atoi(sub[1])
		if err != nil {
			return nil, pipeline.RasterizationError(fmt.Sprintf("unexpected page image name %s", m), err)
		}
		pages = append(pages, Page{Number: n, Path: m, ContentType: "image/png"})
	}

	return checkSequence(pages)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
