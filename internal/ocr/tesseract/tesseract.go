// Package tesseract wraps the Tesseract OCR engine via cgo.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// Recognizer recognizes text with a fresh gosseract client per call, since a
// client must not be shared between goroutines.
type Recognizer struct {
	language string
	dataPath string
}

// New creates a Recognizer. dataPath may be empty to use
// the system tessdata directory.
func New(language, dataPath string) *Recognizer {
	if language == "" {
		language = "eng"
	}
	return &Recognizer{language: language, dataPath: dataPath}
}

// Recognize implements ocr.Recognizer.
func (t *Recognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("tesseract.Recognize: encoding image: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if t.dataPath != "" {
		if err := client.SetTessdataPrefix(t.dataPath); err != nil {
			return "", fmt.Errorf("tesseract.Recognize: tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(t.language); err != nil {
		return "", fmt.Errorf("tesseract.Recognize: language: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("tesseract.Recognize: set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract.Recognize: %w", err)
	}
	return text, nil
}
