// Package preview derives display metadata and thumbnails for uploaded documents.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dvloznov/expense-ingest/internal/ocr"
)

const (
	// ThumbnailWidth is the width of generated thumbnails; height keeps the aspect ratio.
	ThumbnailWidth = 200

	thumbnailDPI     = 72
	thumbnailQuality = 80
)

// Preview describes a document for display.
type Preview struct {
	Width     int
	Height    int
	Pages     int
	Thumbnail []byte // JPEG
}

// Inspector builds previews for images and PDFs.
type Inspector struct {
	rasterizer ocr.Rasterizer
}

// NewInspector creates an Inspector. rasterizer may be nil, in which case PDFs are not previewed.
func NewInspector(rasterizer ocr.Rasterizer) *Inspector {
	return &Inspector{rasterizer: rasterizer}
}

// Inspect returns a preview for data. Unsupported content types return an error.
func (i *Inspector) Inspect(data []byte, contentType string) (*Preview, error) {
	mt := ocr.MediaType(contentType)

	switch {
	case strings.HasPrefix(mt, "image/"):
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("Inspect: decoding image: %w", err)
		}
		return preview(img, 1)
	case mt == "application/pdf" && i.rasterizer != nil:
		var first *Preview
		pages, err := i.rasterizer.Rasterize(data, thumbnailDPI, 1, func(_ int, img image.Image) error {
			var err error
			first, err = preview(img, 0)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("Inspect: rendering first page: %w", err)
		}
		if first == nil {
			return &Preview{Pages: pages}, nil
		}
		first.Pages = pages
		return first, nil
	default:
		return nil, fmt.Errorf("Inspect: no preview for %q", contentType)
	}
}

func preview(img image.Image, pages int) (*Preview, error) {
	thumb, err := Thumbnail(img)
	if err != nil {
		return nil, err
	}
	return &Preview{
		Width:     img.Bounds().Dx(),
		Height:    img.Bounds().Dy(),
		Pages:     pages,
		Thumbnail: thumb,
	}, nil
}

// Thumbnail scales img to ThumbnailWidth and encodes it as JPEG.
func Thumbnail(img image.Image) ([]byte, error) {
	thumb := imaging.Resize(img, ThumbnailWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return nil, fmt.Errorf("Thumbnail: encoding: %w", err)
	}
	return buf.Bytes(), nil
}
