package ocr

import (
	"bytes"
	"context"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
)

// DefaultDPI is the render resolution for PDF pages.
const DefaultDPI = 300

const pageSeparator = "\n\n"

// Engine dispatches on content type: images are decoded and recognized
// directly, PDFs are rendered page by page first.
type Engine struct {
	recognizer Recognizer
	rasterizer Rasterizer
	dpi        float64
	log        zerolog.Logger
}

// NewEngine creates an Engine. A non-positive dpi uses DefaultDPI.
func NewEngine(recognizer Recognizer, rasterizer Rasterizer, dpi float64, log zerolog.Logger) *Engine {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Engine{
		recognizer: recognizer,
		rasterizer: rasterizer,
		dpi:        dpi,
		log:        log,
	}
}

// ExtractText implements TextExtractor.
func (e *Engine) ExtractText(ctx context.Context, data []byte, contentType string) string {
	if len(data) == 0 {
		return ""
	}

	switch mt := MediaType(contentType); {
	case strings.HasPrefix(mt, "image/"):
		return e.extractImage(ctx, data)
	case mt == "application/pdf":
		return e.extractPDF(ctx, data)
	default:
		e.log.Warn().Str("content_type", contentType).Msg("OCR skipped for unsupported content type")
		return ""
	}
}

func (e *Engine) extractImage(ctx context.Context, data []byte) string {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		e.log.Warn().Err(err).Msg("OCR: decoding image")
		return ""
	}
	text, err := e.recognizer.Recognize(ctx, img)
	if err != nil {
		e.log.Warn().Err(err).Msg("OCR: recognizing image")
		return ""
	}
	return strings.TrimSpace(text)
}

// extractPDF recognizes each page as soon as it is rendered. Text from pages
// read before a rendering failure or cancellation is kept.
func (e *Engine) extractPDF(ctx context.Context, data []byte) string {
	var texts []string
	_, err := e.rasterizer.Rasterize(data, e.dpi, 0, func(page int, img image.Image) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := e.recognizer.Recognize(ctx, img)
		if err != nil {
			e.log.Warn().Err(err).Int("page", page).Msg("OCR: recognizing page")
			return nil
		}
		texts = append(texts, strings.TrimSpace(text))
		return nil
	})
	if err != nil {
		e.log.Warn().Err(err).Int("pages_read", len(texts)).Msg("OCR: rendering PDF")
	}
	return strings.Join(texts, pageSeparator)
}

// MediaType lowercases a Content-Type and drops its parameters.
func MediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
