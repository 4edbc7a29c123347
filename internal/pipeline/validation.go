package pipeline

import (
	"errors"
	"strings"

	"github.com/dvloznov/expense-ingest/internal/ocr"
	"github.com/gabriel-vasile/mimetype"
)

// MaxUploadSize is the largest accepted document.
const MaxUploadSize = 10 << 20

// Upload is a document received from a user.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ValidationError rejects an upload before anything is persisted.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	errEmptyFile       = &ValidationError{Message: "file is empty"}
	errUnsupportedType = &ValidationError{Message: "only image and PDF files are supported"}
	errFileTooLarge    = &ValidationError{Message: "file size exceeds 10MB limit"}
)

// ValidateUpload checks size and type. A missing or generic content type is
// replaced with the sniffed one.
func ValidateUpload(u *Upload) error {
	if len(u.Data) == 0 {
		return errEmptyFile
	}

	ct := ocr.MediaType(u.ContentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = ocr.MediaType(mimetype.Detect(u.Data).String())
	}
	u.ContentType = ct

	if !strings.HasPrefix(ct, "image/") && ct != "application/pdf" {
		return errUnsupportedType
	}
	if len(u.Data) > MaxUploadSize {
		return errFileTooLarge
	}
	return nil
}
