package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dvloznov/expense-ingest/internal/api/middleware"
	"github.com/dvloznov/expense-ingest/internal/domain"
	"github.com/dvloznov/expense-ingest/internal/jobs"
	"github.com/dvloznov/expense-ingest/internal/pipeline"
	"github.com/rs/zerolog"
)

// InvoiceProcessor runs the invoice pipeline.
type InvoiceProcessor interface {
	UploadAndProcessInvoice(ctx context.Context, upload pipeline.Upload, userID string) (*domain.Invoice, error)
	Accept(ctx context.Context, upload pipeline.Upload, userID string) (*domain.Invoice, *domain.ImportBatch, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
}

// InvoicesHandler handles invoice endpoints. With a nil publisher uploads
// are processed inline.
type InvoicesHandler struct {
	processor InvoiceProcessor
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewInvoicesHandler creates a new invoices handler.
func NewInvoicesHandler(processor InvoiceProcessor, publisher jobs.Publisher, log zerolog.Logger) *InvoicesHandler {
	return &InvoicesHandler{
		processor: processor,
		publisher: publisher,
		log:       log,
	}
}

// UploadInvoice handles POST /api/invoices/upload
func (h *InvoicesHandler) UploadInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := middleware.UserIDFromContext(ctx)

	// Leave room for multipart framing; the size rule itself is enforced on the file.
	r.Body = http.MaxBytesReader(w, r.Body, pipeline.MaxUploadSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeFormFileError(w, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeFormFileError(w, err)
		return
	}

	upload := pipeline.Upload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}

	if h.publisher == nil {
		inv, err := h.processor.UploadAndProcessInvoice(ctx, upload, userID)
		h.writeResult(w, inv, err)
		return
	}

	inv, batch, err := h.processor.Accept(ctx, upload, userID)
	if err != nil {
		h.writeResult(w, inv, err)
		return
	}

	job := &jobs.ProcessInvoiceJob{
		InvoiceID:   inv.ID,
		UserID:      userID,
		ContentType: upload.ContentType,
	}
	if inv.Attachment != nil {
		job.StorageKey = inv.Attachment.StorageKey
		job.ContentType = inv.Attachment.FileType
	}
	if batch != nil {
		job.BatchID = batch.ID
	}

	if err := h.publisher.PublishProcessInvoice(ctx, job); err != nil {
		// The invoice stays PROCESSING until the stale sweep fails it.
		h.log.Error().Err(err).Str("invoice_id", inv.ID).Msg("Failed to enqueue invoice processing")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue invoice processing")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("invoice_id", inv.ID).Msg("Invoice processing enqueued")
	w.Header().Set("Location", "/api/invoices/"+inv.ID)
	middleware.WriteJSON(w, http.StatusAccepted, inv)
}

// writeResult maps a pipeline outcome to a response.
func (h *InvoicesHandler) writeResult(w http.ResponseWriter, inv *domain.Invoice, err error) {
	switch {
	case err == nil:
		middleware.WriteJSON(w, http.StatusOK, inv)
	case pipeline.IsValidationError(err):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case inv != nil:
		middleware.WriteJSON(w, http.StatusInternalServerError, inv)
	default:
		h.log.Error().Err(err).Msg("Failed to process invoice")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to process invoice")
	}
}

// GetInvoice handles GET /api/invoices/{id}
func (h *InvoicesHandler) GetInvoice(w http.ResponseWriter, r *http.Request, invoiceID string) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	inv, err := h.processor.GetInvoice(r.Context(), invoiceID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && inv.UserID != userID) {
		middleware.WriteError(w, http.StatusNotFound, "Invoice not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("invoice_id", invoiceID).Msg("Failed to get invoice")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get invoice")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, inv)
}
