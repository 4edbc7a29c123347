package pipeline

import (
	"context"

	"github.com/dvloznov/expense-ingest/internal/domain"
	"github.com/dvloznov/expense-ingest/internal/preview"
)

// InvoiceRepository persists invoices and their children.
type InvoiceRepository interface {
	// CreateInvoice inserts the invoice header.
	CreateInvoice(ctx context.Context, inv *domain.Invoice) error

	// SaveAttachment inserts the source document reference of an invoice.
	SaveAttachment(ctx context.Context, att *domain.Attachment) error

	// UpdateInvoice overwrites the header and replaces all line items.
	UpdateInvoice(ctx context.Context, inv *domain.Invoice) error

	// GetInvoice loads an invoice with line items and attachment. It returns
	// domain.ErrNotFound when the invoice does not exist.
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
}

// BatchRecorder persists the diagnostic batch of a document upload.
type BatchRecorder interface {
	CreateBatch(ctx context.Context, batch *domain.ImportBatch) error
	UpdateBatch(ctx context.Context, batch *domain.ImportBatch) error
	GetBatch(ctx context.Context, id string) (*domain.ImportBatch, error)
}

// CategoryLookup lists the categories a user may assign.
type CategoryLookup interface {
	AvailableCategories(ctx context.Context, userID string, kind domain.CategoryType) ([]domain.Category, error)
}

// Previewer describes a document for display.
type Previewer interface {
	Inspect(data []byte, contentType string) (*preview.Preview, error)
}
