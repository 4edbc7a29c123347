package ocr

import (
	"context"
	"image"
)

// TextExtractor returns the text found in a document. Implementations never
// fail; unreadable input yields an empty string.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) string
}

// Recognizer runs optical character recognition over a single raster image.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// PageFunc receives one rendered page. The image is only valid until the
// call returns; returning an error stops rendering.
type PageFunc func(page int, img image.Image) error

// Rasterizer renders PDF pages to images one at a time, in order. maxPages <= 0
// renders every page; total is the document's page count either way.
type Rasterizer interface {
	Rasterize(data []byte, dpi float64, maxPages int, fn PageFunc) (total int, err error)
}
