package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/dvloznov/expense-ingest/internal/logger"
)

type mockRecognizer struct {
	RecognizeFunc func(ctx context.Context, img image.Image) (string, error)
	calls         int
}

func (m *mockRecognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	m.calls++
	return m.RecognizeFunc(ctx, img)
}

// mockRasterizer hands out the pages from RasterizeFunc one at a time and
// stops at renderErrAt, when set, as a corrupt page would.
type mockRasterizer struct {
	RasterizeFunc func(data []byte, dpi float64, maxPages int) ([]image.Image, int, error)
	renderErrAt   int
	gotDPI        float64
	rendered      int
}

func (m *mockRasterizer) Rasterize(data []byte, dpi float64, maxPages int, fn PageFunc) (int, error) {
	m.gotDPI = dpi
	pages, total, err := m.RasterizeFunc(data, dpi, maxPages)
	if err != nil {
		return total, err
	}
	for i, img := range pages {
		if m.renderErrAt == i+1 {
			return total, errors.New("page is damaged")
		}
		m.rendered++
		if err := fn(i+1, img); err != nil {
			return total, err
		}
	}
	return total, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.White)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	return buf.Bytes()
}

func TestEngine_ExtractText_Image(t *testing.T) {
	rec := &mockRecognizer{RecognizeFunc: func(ctx context.Context, img image.Image) (string, error) {
		if img.Bounds().Dx() != 40 {
			t.Errorf("recognizer got width %d, want 40", img.Bounds().Dx())
		}
		return "  ACME Corp\nTotal 12.00 \n", nil
	}}
	e := NewEngine(rec, &mockRasterizer{}, 0, logger.Nop())

	got := e.ExtractText(context.Background(), pngBytes(t, 40, 20), "image/png")
	if got != "ACME Corp\nTotal 12.00" {
		t.Errorf("ExtractText() = %q", got)
	}
}

func TestEngine_ExtractText_PDF(t *testing.T) {
	pages := []image.Image{image.NewRGBA(image.Rect(0, 0, 1, 1)), image.NewRGBA(image.Rect(0, 0, 2, 2)), image.NewRGBA(image.Rect(0, 0, 3, 3))}
	ras := &mockRasterizer{RasterizeFunc: func(data []byte, dpi float64, maxPages int) ([]image.Image, int, error) {
		return pages, len(pages), nil
	}}
	rec := &mockRecognizer{RecognizeFunc: func(ctx context.Context, img image.Image) (string, error) {
		switch img.Bounds().Dx() {
		case 1:
			return "page one", nil
		case 2:
			return "", errors.New("tesseract crashed")
		default:
			return "page three", nil
		}
	}}
	e := NewEngine(rec, ras, 0, logger.Nop())

	got := e.ExtractText(context.Background(), []byte("%PDF-1.4"), "application/pdf; charset=binary")
	if got != "page one\n\npage three" {
		t.Errorf("ExtractText() = %q", got)
	}
	if ras.gotDPI != DefaultDPI {
		t.Errorf("rendered at %v DPI, want %v", ras.gotDPI, DefaultDPI)
	}
}

func TestEngine_ExtractText_PDFPageByPage(t *testing.T) {
	pages := []image.Image{image.NewRGBA(image.Rect(0, 0, 1, 1)), image.NewRGBA(image.Rect(0, 0, 2, 2)), image.NewRGBA(image.Rect(0, 0, 3, 3))}
	ras := &mockRasterizer{RasterizeFunc: func(data []byte, dpi float64, maxPages int) ([]image.Image, int, error) {
		return pages, len(pages), nil
	}}
	rec := &mockRecognizer{}
	rec.RecognizeFunc = func(ctx context.Context, img image.Image) (string, error) {
		// Page n is recognized before page n+1 is rendered.
		if ras.rendered != rec.calls {
			t.Errorf("rendered %d pages before recognizing page %d", ras.rendered, rec.calls)
		}
		return "page", nil
	}

	got := NewEngine(rec, ras, 0, logger.Nop()).ExtractText(context.Background(), []byte("%PDF-1.4"), "application/pdf")
	if got != "page\n\npage\n\npage" {
		t.Errorf("ExtractText() = %q", got)
	}
}

func TestEngine_ExtractText_PDFKeepsPagesBeforeFailure(t *testing.T) {
	pages := []image.Image{image.NewRGBA(image.Rect(0, 0, 1, 1)), image.NewRGBA(image.Rect(0, 0, 2, 2)), image.NewRGBA(image.Rect(0, 0, 3, 3))}
	newRasterizer := func() *mockRasterizer {
		return &mockRasterizer{RasterizeFunc: func(data []byte, dpi float64, maxPages int) ([]image.Image, int, error) {
			return pages, len(pages), nil
		}}
	}

	t.Run("render error", func(t *testing.T) {
		ras := newRasterizer()
		ras.renderErrAt = 2
		rec := &mockRecognizer{RecognizeFunc: func(ctx context.Context, img image.Image) (string, error) {
			return "first", nil
		}}
		got := NewEngine(rec, ras, 0, logger.Nop()).ExtractText(context.Background(), []byte("%PDF"), "application/pdf")
		if got != "first" {
			t.Errorf("ExtractText() = %q, want text of page 1", got)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		rec := &mockRecognizer{RecognizeFunc: func(ctx context.Context, img image.Image) (string, error) {
			cancel()
			return "first", nil
		}}
		ras := newRasterizer()
		got := NewEngine(rec, ras, 0, logger.Nop()).ExtractText(ctx, []byte("%PDF"), "application/pdf")
		if got != "first" || rec.calls != 1 {
			t.Errorf("ExtractText() = %q after %d calls, want page 1 only", got, rec.calls)
		}
	})
}

func TestEngine_ExtractText_NeverFails(t *testing.T) {
	failingRec := &mockRecognizer{RecognizeFunc: func(ctx context.Context, img image.Image) (string, error) {
		return "", errors.New("boom")
	}}
	failingRas := &mockRasterizer{RasterizeFunc: func(data []byte, dpi float64, maxPages int) ([]image.Image, int, error) {
		return nil, 0, errors.New("corrupt pdf")
	}}

	tests := []struct {
		name        string
		data        []byte
		contentType string
	}{
		{"empty input", nil, "image/png"},
		{"undecodable image", []byte("not an image"), "image/jpeg"},
		{"recognizer error", pngBytes(t, 4, 4), "image/png"},
		{"corrupt pdf", []byte("garbage"), "application/pdf"},
		{"unsupported type", []byte("hello"), "text/plain"},
	}

	e := NewEngine(failingRec, failingRas, 150, logger.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.ExtractText(context.Background(), tt.data, tt.contentType); got != "" {
				t.Errorf("ExtractText() = %q, want empty", got)
			}
		})
	}
}

func TestMediaType(t *testing.T) {
	tests := map[string]string{
		"image/PNG":                  "image/png",
		" application/pdf ; q=1 ":    "application/pdf",
		"":                           "",
		"multipart/form-data; b=xyz": "multipart/form-data",
	}
	for in, want := range tests {
		if got := MediaType(in); got != want {
			t.Errorf("MediaType(%q) = %q, want %q", in, got, want)
		}
	}
}
