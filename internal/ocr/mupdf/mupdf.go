// Package mupdf renders PDF pages to images with MuPDF via go-fitz.
package mupdf

import (
	"fmt"

	"github.com/dvloznov/expense-ingest/internal/ocr"
	"github.com/gen2brain/go-fitz"
)

// Rasterizer renders PDF pages.
type Rasterizer struct{}

// New creates a Rasterizer.
func New() *Rasterizer {
	return &Rasterizer{}
}

// Rasterize implements ocr.Rasterizer. Only one page is held in memory at a time.
func (Rasterizer) Rasterize(data []byte, dpi float64, maxPages int, fn ocr.PageFunc) (int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return 0, fmt.Errorf("mupdf.Rasterize: opening document: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	n := total
	if maxPages > 0 && maxPages < n {
		n = maxPages
	}

	for i := 0; i < n; i++ {
		img, err := doc.ImageDPI(i, dpi)
		if err != nil {
			return total, fmt.Errorf("mupdf.Rasterize: page %d: %w", i+1, err)
		}
		if err := fn(i+1, img); err != nil {
			return total, err
		}
	}
	return total, nil
}

var _ ocr.Rasterizer = Rasterizer{}
