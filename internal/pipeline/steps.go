package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dvloznov/expense-ingest/internal/domain"
	"github.com/dvloznov/expense-ingest/internal/llm"
)

const (
	attachmentFolder = "invoices"
	thumbnailFolder  = "invoices/thumbnails"
)

// PipelineStep represents a single step in the document pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Upload   Upload
	UserID   string
	Invoice  *domain.Invoice
	Batch    *domain.ImportBatch
	OCRText  string
	Analysis *llm.AnalysisResult
}

// Step 1: ValidateUploadStep rejects unusable uploads before anything is persisted.
type ValidateUploadStep struct{}

func (s *ValidateUploadStep) Execute(_ context.Context, state *PipelineState) error {
	return ValidateUpload(&state.Upload)
}

// Step 2: CreateInvoiceStep persists the PROCESSING invoice and its batch.
type CreateInvoiceStep struct{ p *Processor }

func (s *CreateInvoiceStep) Execute(ctx context.Context, state *PipelineState) error {
	p := s.p
	now := p.now()

	batch := domain.NewImportBatch(p.newID(), state.UserID, domain.SourceInvoiceDocument, state.Upload.FileName, now)
	batch.TotalRecords = 1
	if err := p.batches.CreateBatch(ctx, batch); err != nil {
		p.log.Warn().Err(err).Str("file_name", state.Upload.FileName).Msg("Failed to create invoice batch")
		batch = nil
	}

	inv := &domain.Invoice{
		ID:            p.newID(),
		UserID:        state.UserID,
		Status:        domain.InvoiceProcessing,
		ExtractedData: map[string]any{},
		LineItems:     []domain.LineItem{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if batch != nil {
		inv.ExtractedData[domain.ExtractedImportBatchID] = batch.ID
	}

	if err := p.invoices.CreateInvoice(ctx, inv); err != nil {
		if batch != nil {
			batch.Abort(err.Error(), p.now())
			if uerr := p.batches.UpdateBatch(ctx, batch); uerr != nil {
				p.log.Error().Err(uerr).Str("batch_id", batch.ID).Msg("Failed to mark batch as failed")
			}
		}
		return fmt.Errorf("creating invoice: %w", err)
	}

	state.Invoice = inv
	state.Batch = batch
	return nil
}

// Step 3: StoreAttachmentStep uploads the original document and records it.
type StoreAttachmentStep struct{ p *Processor }

func (s *StoreAttachmentStep) Execute(ctx context.Context, state *PipelineState) error {
	p := s.p
	up := state.Upload
	log := p.log.With().Str("invoice_id", state.Invoice.ID).Logger()

	key, err := p.store.Store(ctx, up.Data, attachmentFolder, up.FileName, up.ContentType)
	if err != nil {
		return fmt.Errorf("storing attachment: %w", err)
	}

	url, err := p.store.URL(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("storage_key", key).Msg("Failed to generate attachment URL")
	}

	att := &domain.Attachment{
		ID:         p.newID(),
		InvoiceID:  state.Invoice.ID,
		FileName:   up.FileName,
		FileType:   up.ContentType,
		FileSize:   int64(len(up.Data)),
		StorageKey: key,
		StorageURL: url,
		PageCount:  1,
		CreatedAt:  p.now(),
	}

	if p.previewer != nil {
		s.describe(ctx, att, up)
	}

	if err := p.invoices.SaveAttachment(ctx, att); err != nil {
		return fmt.Errorf("saving attachment: %w", err)
	}

	state.Invoice.Attachment = att
	return nil
}

// describe fills preview fields. Failures only cost the preview.
func (s *StoreAttachmentStep) describe(ctx context.Context, att *domain.Attachment, up Upload) {
	p := s.p
	log := p.log.With().Str("invoice_id", att.InvoiceID).Logger()

	pv, err := p.previewer.Inspect(up.Data, up.ContentType)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to build document preview")
		return
	}
	att.Width = pv.Width
	att.Height = pv.Height
	if pv.Pages > 0 {
		att.PageCount = pv.Pages
	}
	if len(pv.Thumbnail) == 0 {
		return
	}

	name := strings.TrimSuffix(up.FileName, path.Ext(up.FileName)) + ".jpg"
	key, err := p.store.Store(ctx, pv.Thumbnail, thumbnailFolder, name, "image/jpeg")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to store thumbnail")
		return
	}
	att.ThumbnailKey = key
	if url, err := p.store.URL(ctx, key); err == nil {
		att.ThumbnailURL = url
	}
}

// Step 4: ExtractTextStep runs OCR. It never fails.
type ExtractTextStep struct{ p *Processor }

func (s *ExtractTextStep) Execute(ctx context.Context, state *PipelineState) error {
	state.OCRText = s.p.ocr.ExtractText(ctx, state.Upload.Data, state.Upload.ContentType)
	return nil
}

// Step 5: AnalyzeStep asks the LLM provider for structured fields.
type AnalyzeStep struct{ p *Processor }

func (s *AnalyzeStep) Execute(ctx context.Context, state *PipelineState) error {
	actx, cancel := context.WithTimeout(ctx, s.p.opts.AnalysisTimeout)
	defer cancel()

	res, err := s.p.provider.AnalyzeInvoice(actx, state.Upload.Data, state.OCRText)
	if err != nil {
		return fmt.Errorf("analyzing invoice with %s: %w", s.p.provider.Name(), err)
	}
	if res == nil {
		return errors.New("analyzing invoice: empty result")
	}
	state.Analysis = res
	return nil
}

// Step 6: MapAnalysisStep copies the analysis onto the invoice, filling defaults.
type MapAnalysisStep struct{ p *Processor }

func (s *MapAnalysisStep) Execute(ctx context.Context, state *PipelineState) error {
	p := s.p
	inv := state.Invoice

	adjustments := applyAnalysis(inv, state.Analysis, p.opts.DefaultCurrency, p.newID)
	if len(adjustments) > 0 {
		inv.ExtractedData[domain.ExtractedAdjustments] = adjustments
	}

	if state.Analysis.SuggestedCategory == "" {
		return nil
	}
	cats, err := p.categories.AvailableCategories(ctx, state.UserID, domain.CategoryExpense)
	if err != nil {
		p.log.Warn().Err(err).Str("invoice_id", inv.ID).Msg("Failed to load categories, leaving invoice uncategorized")
		return nil
	}
	inv.CategoryID, inv.SubcategoryID = NewCategoryMatcher(cats).
		Match(state.Analysis.SuggestedCategory, state.Analysis.SuggestedSubcategory)
	return nil
}

// Step 7: RecordAuditStep keeps the raw inputs of the decision.
type RecordAuditStep struct{ p *Processor }

func (s *RecordAuditStep) Execute(_ context.Context, state *PipelineState) error {
	data := state.Invoice.ExtractedData
	data[domain.ExtractedOCRText] = state.OCRText
	data[domain.ExtractedProvider] = s.p.provider.Name()
	data[domain.ExtractedAnalysisTimestamp] = s.p.now().Format(time.RFC3339)
	return nil
}

// Step 8: DecideStatusStep routes the invoice on confidence.
type DecideStatusStep struct{}

func (s *DecideStatusStep) Execute(_ context.Context, state *PipelineState) error {
	state.Invoice.Status = domain.StatusForConfidence(state.Invoice.Confidence)
	return nil
}

// Step 9: FinalizeInvoiceStep persists the result and completes the batch.
type FinalizeInvoiceStep struct{ p *Processor }

func (s *FinalizeInvoiceStep) Execute(ctx context.Context, state *PipelineState) error {
	p := s.p
	now := p.now()
	inv := state.Invoice
	inv.ProcessedAt = &now
	inv.UpdatedAt = now

	if err := p.invoices.UpdateInvoice(ctx, inv); err != nil {
		return fmt.Errorf("updating invoice: %w", err)
	}

	if state.Batch != nil {
		var acc domain.BatchAccumulator
		acc.Expect(1)
		acc.Succeed()
		acc.Finish(state.Batch, now)
		if err := p.batches.UpdateBatch(ctx, state.Batch); err != nil {
			p.log.Error().Err(err).Str("batch_id", state.Batch.ID).Msg("Failed to complete invoice batch")
		}
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
