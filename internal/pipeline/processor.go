// Package pipeline turns uploaded invoice and receipt documents into
// structured, categorized invoices.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/expense-ingest/internal/domain"
	"github.com/dvloznov/expense-ingest/internal/llm"
	"github.com/dvloznov/expense-ingest/internal/ocr"
	"github.com/dvloznov/expense-ingest/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultAnalysisTimeout bounds a single LLM call.
const DefaultAnalysisTimeout = 60 * time.Second

// Dependencies are the collaborators of a Processor. Previewer is optional.
type Dependencies struct {
	Invoices   InvoiceRepository
	Batches    BatchRecorder
	Categories CategoryLookup
	Store      storage.Store
	OCR        ocr.TextExtractor
	Provider   llm.Provider
	Previewer  Previewer
}

// Options tune a Processor.
type Options struct {
	DefaultCurrency string
	AnalysisTimeout time.Duration
}

// Processor runs the document extraction pipeline.
type Processor struct {
	invoices   InvoiceRepository
	batches    BatchRecorder
	categories CategoryLookup
	store      storage.Store
	ocr        ocr.TextExtractor
	provider   llm.Provider
	previewer  Previewer

	opts Options
	log  zerolog.Logger

	now   func() time.Time
	newID func() string

	accept  *Pipeline
	extract *Pipeline
}

// NewProcessor wires a Processor from deps.
func NewProcessor(deps Dependencies, opts Options, log zerolog.Logger) *Processor {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = DefaultAnalysisTimeout
	}

	p := &Processor{
		invoices:   deps.Invoices,
		batches:    deps.Batches,
		categories: deps.Categories,
		store:      deps.Store,
		ocr:        deps.OCR,
		provider:   deps.Provider,
		previewer:  deps.Previewer,
		opts:       opts,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}

	p.accept = NewPipeline(
		&ValidateUploadStep{},
		&CreateInvoiceStep{p: p},
		&StoreAttachmentStep{p: p},
	)
	p.extract = NewPipeline(
		&ExtractTextStep{p: p},
		&AnalyzeStep{p: p},
		&MapAnalysisStep{p: p},
		&RecordAuditStep{p: p},
		&DecideStatusStep{},
		&FinalizeInvoiceStep{p: p},
	)
	return p
}

// UploadAndProcessInvoice runs the whole pipeline inline. A nil invoice with
// an error means nothing was persisted. A non-nil invoice with an error is the
// FAILED invoice.
func (p *Processor) UploadAndProcessInvoice(ctx context.Context, upload Upload, userID string) (*domain.Invoice, error) {
	state := &PipelineState{Upload: upload, UserID: userID}

	if err := p.accept.Execute(ctx, state); err != nil {
		return p.rejectOrFail(ctx, state, err)
	}
	if err := p.extract.Execute(ctx, state); err != nil {
		return p.failInvoice(ctx, state, err)
	}

	p.log.Info().
		Str("invoice_id", state.Invoice.ID).
		Str("status", string(state.Invoice.Status)).
		Int("line_items", len(state.Invoice.LineItems)).
		Msg("Invoice processed")

	return state.Invoice, nil
}

// Accept validates, persists and stores an upload, leaving the invoice in
// PROCESSING for ProcessStored.
func (p *Processor) Accept(ctx context.Context, upload Upload, userID string) (*domain.Invoice, *domain.ImportBatch, error) {
	state := &PipelineState{Upload: upload, UserID: userID}

	if err := p.accept.Execute(ctx, state); err != nil {
		inv, err := p.rejectOrFail(ctx, state, err)
		return inv, state.Batch, err
	}
	return state.Invoice, state.Batch, nil
}

// ProcessStored runs extraction for an accepted invoice. It is a no-op for
// an invoice that already left PROCESSING, so redelivered jobs are harmless.
// batchID may be empty.
func (p *Processor) ProcessStored(ctx context.Context, invoiceID, batchID string) (*domain.Invoice, error) {
	inv, err := p.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("ProcessStored: loading invoice %s: %w", invoiceID, err)
	}
	if inv.Status != domain.InvoiceProcessing {
		p.log.Info().Str("invoice_id", inv.ID).Str("status", string(inv.Status)).Msg("Invoice already processed, skipping")
		return inv, nil
	}
	if inv.ExtractedData == nil {
		inv.ExtractedData = map[string]any{}
	}

	state := &PipelineState{UserID: inv.UserID, Invoice: inv}
	if batchID != "" {
		batch, err := p.batches.GetBatch(ctx, batchID)
		if err != nil {
			p.log.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to load invoice batch")
		} else {
			state.Batch = batch
		}
	}

	if inv.Attachment == nil {
		return p.failInvoice(ctx, state, errors.New("invoice has no attachment"))
	}
	data, err := p.store.Get(ctx, inv.Attachment.StorageKey)
	if err != nil {
		return p.failInvoice(ctx, state, fmt.Errorf("fetching attachment: %w", err))
	}
	state.Upload = Upload{
		FileName:    inv.Attachment.FileName,
		ContentType: inv.Attachment.FileType,
		Data:        data,
	}

	if err := p.extract.Execute(ctx, state); err != nil {
		return p.failInvoice(ctx, state, err)
	}
	return state.Invoice, nil
}

// GetInvoice returns an invoice with line items and attachment.
func (p *Processor) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	inv, err := p.invoices.GetInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetInvoice: %w", err)
	}
	return inv, nil
}

// rejectOrFail handles a failure of the accept steps. Before the invoice
// exists nothing needs recording.
func (p *Processor) rejectOrFail(ctx context.Context, state *PipelineState, err error) (*domain.Invoice, error) {
	if state.Invoice == nil {
		if !IsValidationError(err) {
			p.log.Error().Err(err).Str("file_name", state.Upload.FileName).Msg("Failed to register invoice upload")
		}
		return nil, err
	}
	return p.failInvoice(ctx, state, err)
}

// failInvoice discards extracted fields and records the failure on the
// invoice and its batch.
func (p *Processor) failInvoice(ctx context.Context, state *PipelineState, cause error) (*domain.Invoice, error) {
	now := p.now()
	inv := state.Invoice

	inv.ResetExtraction()
	inv.Status = domain.InvoiceFailed
	inv.LineItems = []domain.LineItem{}
	inv.ProcessedAt = &now
	inv.UpdatedAt = now
	inv.ExtractedData = map[string]any{"error": cause.Error()}
	if state.Batch != nil {
		inv.ExtractedData[domain.ExtractedImportBatchID] = state.Batch.ID
	}

	log := p.log.With().Str("invoice_id", inv.ID).Logger()
	if err := p.invoices.UpdateInvoice(ctx, inv); err != nil {
		log.Error().Err(err).Msg("Failed to mark invoice as failed")
	}

	if state.Batch != nil {
		var acc domain.BatchAccumulator
		acc.Expect(1)
		acc.Failf(1, cause)
		acc.Finish(state.Batch, now)
		if err := p.batches.UpdateBatch(ctx, state.Batch); err != nil {
			log.Error().Err(err).Str("batch_id", state.Batch.ID).Msg("Failed to mark invoice batch as failed")
		}
	}

	log.Error().Err(cause).Msg("Invoice processing failed")
	return inv, fmt.Errorf("failed to process invoice: %w", cause)
}
