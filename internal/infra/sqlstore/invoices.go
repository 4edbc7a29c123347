package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/expense-ingest/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvoiceRepository stores invoices, their line items and attachments.
type InvoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates an InvoiceRepository on a shared connection.
func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// CreateInvoice inserts the invoice header only.
func (r *InvoiceRepository) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(newInvoiceRow(inv)).Error; err != nil {
		return fmt.Errorf("CreateInvoice: inserting invoice %s: %w", inv.ID, err)
	}
	return nil
}

// SaveAttachment inserts or replaces the attachment of an invoice.
func (r *InvoiceRepository) SaveAttachment(ctx context.Context, att *domain.Attachment) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(newAttachmentRow(att)).Error
	if err != nil {
		return fmt.Errorf("SaveAttachment: invoice %s: %w", att.InvoiceID, err)
	}
	return nil
}

// UpdateInvoice overwrites the header and replaces all line items atomically.
func (r *InvoiceRepository) UpdateInvoice(ctx context.Context, inv *domain.Invoice) error {
	items := make([]lineItemRow, 0, len(inv.LineItems))
	for i, li := range inv.LineItems {
		items = append(items, newLineItemRow(li, inv.ID, i))
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(newInvoiceRow(inv)).Error; err != nil {
			return fmt.Errorf("saving header: %w", err)
		}
		if err := tx.Where("invoice_id = ?", inv.ID).Delete(&lineItemRow{}).Error; err != nil {
			return fmt.Errorf("deleting line items: %w", err)
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return fmt.Errorf("inserting %d line items: %w", len(items), err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("UpdateInvoice: invoice %s: %w", inv.ID, err)
	}
	return nil
}

// GetInvoice loads an invoice with its line items in order and its attachment.
func (r *InvoiceRepository) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	var row invoiceRow
	err := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Attachment").
		First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("GetInvoice: invoice %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetInvoice: invoice %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// FailStaleInvoices fails every invoice still PROCESSING that was created
// before cutoff.
func (r *InvoiceRepository) FailStaleInvoices(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&invoiceRow{}).
		Where("status = ? AND created_at < ?", string(domain.InvoiceProcessing), cutoff).
		Updates(map[string]any{
			"status":       string(domain.InvoiceFailed),
			"processed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("FailStaleInvoices: %w", res.Error)
	}
	return res.RowsAffected, nil
}
