package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dvloznov/expense-ingest/internal/api/middleware"
	"github.com/dvloznov/expense-ingest/internal/domain"
	"github.com/rs/zerolog"
)

// MaxCSVUploadSize bounds the multipart body of a bank statement upload.
const MaxCSVUploadSize = 32 << 20

// BatchImporter runs CSV imports.
type BatchImporter interface {
	ImportBankTransactions(ctx context.Context, r io.Reader, fileName, userID string) (*domain.ImportBatch, error)
	GetBatch(ctx context.Context, id string) (*domain.ImportBatch, error)
}

// ImportsHandler handles import batch endpoints.
type ImportsHandler struct {
	importer BatchImporter
	log      zerolog.Logger
}

// NewImportsHandler creates a new imports handler.
func NewImportsHandler(importer BatchImporter, log zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{
		importer: importer,
		log:      log,
	}
}

// batchResponse is the body returned for an import batch.
type batchResponse struct {
	BatchID           string             `json:"batchId"`
	SourceKind        domain.SourceKind  `json:"sourceKind"`
	FileName          string             `json:"fileName"`
	Status            domain.BatchStatus `json:"status"`
	TotalRecords      int                `json:"totalRecords"`
	SuccessfulRecords int                `json:"successfulRecords"`
	FailedRecords     int                `json:"failedRecords"`
	ErrorLog          *string            `json:"errorLog"`
}

func newBatchResponse(b *domain.ImportBatch) batchResponse {
	return batchResponse{
		BatchID:           b.ID,
		SourceKind:        b.Source,
		FileName:          b.FileName,
		Status:            b.Status,
		TotalRecords:      b.TotalRecords,
		SuccessfulRecords: b.SuccessfulRecords,
		FailedRecords:     b.FailedRecords,
		ErrorLog:          b.ErrorLog,
	}
}

// ImportBankCSV handles POST /api/imports/bank-csv
func (h *ImportsHandler) ImportBankCSV(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, MaxCSVUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeFormFileError(w, err)
		return
	}
	defer file.Close()

	batch, err := h.importer.ImportBankTransactions(r.Context(), file, header.Filename, userID)
	if err != nil {
		h.log.Error().Err(err).Str("file_name", header.Filename).Msg("Failed to import bank statement")
		if batch == nil {
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to import bank statement")
			return
		}
		middleware.WriteJSON(w, http.StatusInternalServerError, newBatchResponse(batch))
		return
	}

	middleware.WriteJSON(w, http.StatusOK, newBatchResponse(batch))
}

// GetBatch handles GET /api/imports/{id}
func (h *ImportsHandler) GetBatch(w http.ResponseWriter, r *http.Request, batchID string) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	batch, err := h.importer.GetBatch(r.Context(), batchID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && batch.UserID != userID) {
		middleware.WriteError(w, http.StatusNotFound, "Import batch not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to get import batch")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get import batch")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, newBatchResponse(batch))
}

// writeFormFileError maps multipart read failures to 400.
func writeFormFileError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
	case errors.Is(err, http.ErrMissingFile):
		middleware.WriteError(w, http.StatusBadRequest, "Multipart field \"file\" is required")
	default:
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
	}
}
