package sqlstore

import (
	"time"

	"github.com/dvloznov/expense-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

type importBatchRow struct {
	ID                string    `gorm:"primaryKey;size:36"`
	UserID            string    `gorm:"size:36;index"`
	SourceKind        string    `gorm:"size:32"`
	FileName          string    `gorm:"size:255"`
	TotalRecords      int       `gorm:"not null;default:0"`
	SuccessfulRecords int       `gorm:"not null;default:0"`
	FailedRecords     int       `gorm:"not null;default:0"`
	Status            string    `gorm:"size:16;index:idx_import_batches_status_created"`
	ErrorLog          *string   `gorm:"type:text"`
	CreatedAt         time.Time `gorm:"index:idx_import_batches_status_created"`
	CompletedAt       *time.Time
}

func (importBatchRow) TableName() string { return "import_batches" }

func newImportBatchRow(b *domain.ImportBatch) *importBatchRow {
	return &importBatchRow{
		ID:                b.ID,
		UserID:            b.UserID,
		SourceKind:        string(b.Source),
		FileName:          b.FileName,
		TotalRecords:      b.TotalRecords,
		SuccessfulRecords: b.SuccessfulRecords,
		FailedRecords:     b.FailedRecords,
		Status:            string(b.Status),
		ErrorLog:          b.ErrorLog,
		CreatedAt:         b.CreatedAt,
		CompletedAt:       b.CompletedAt,
	}
}

func (r *importBatchRow) toDomain() *domain.ImportBatch {
	return &domain.ImportBatch{
		ID:                r.ID,
		UserID:            r.UserID,
		Source:            domain.SourceKind(r.SourceKind),
		FileName:          r.FileName,
		TotalRecords:      r.TotalRecords,
		SuccessfulRecords: r.SuccessfulRecords,
		FailedRecords:     r.FailedRecords,
		Status:            domain.BatchStatus(r.Status),
		ErrorLog:          r.ErrorLog,
		CreatedAt:         r.CreatedAt,
		CompletedAt:       r.CompletedAt,
	}
}

type transactionRow struct {
	ID              string              `gorm:"primaryKey;size:36"`
	UserID          string              `gorm:"size:36;index"`
	ImportBatchID   string              `gorm:"size:36;index"`
	Position        int                 `gorm:"not null"`
	TransactionDate time.Time           `gorm:"index"`
	Description     string              `gorm:"type:text"`
	Amount          decimal.Decimal     `gorm:"type:decimal(15,2);not null"`
	Currency        string              `gorm:"size:3"`
	Type            string              `gorm:"size:8"`
	Balance         decimal.NullDecimal `gorm:"type:decimal(15,2)"`
	IsReconciled    bool                `gorm:"not null;default:false"`
	ReconciledAt    *time.Time
	CreatedAt       time.Time
}

func (transactionRow) TableName() string { return "transactions" }

func newTransactionRow(tx *domain.Transaction, position int) *transactionRow {
	row := &transactionRow{
		ID:              tx.ID,
		UserID:          tx.UserID,
		ImportBatchID:   tx.BatchID,
		Position:        position,
		TransactionDate: tx.Date,
		Description:     tx.Description,
		Amount:          tx.Amount,
		Currency:        tx.Currency,
		Type:            string(tx.Type),
		IsReconciled:    tx.IsReconciled,
		ReconciledAt:    tx.ReconciledAt,
		CreatedAt:       tx.CreatedAt,
	}
	if tx.Balance != nil {
		row.Balance = decimal.NewNullDecimal(*tx.Balance)
	}
	return row
}

func (r *transactionRow) toDomain() *domain.Transaction {
	tx := &domain.Transaction{
		ID:           r.ID,
		UserID:       r.UserID,
		BatchID:      r.ImportBatchID,
		Date:         r.TransactionDate,
		Description:  r.Description,
		Amount:       r.Amount,
		Currency:     r.Currency,
		Type:         domain.TransactionType(r.Type),
		IsReconciled: r.IsReconciled,
		ReconciledAt: r.ReconciledAt,
		CreatedAt:    r.CreatedAt,
	}
	if r.Balance.Valid {
		b := r.Balance.Decimal
		tx.Balance = &b
	}
	return tx
}

type categoryRow struct {
	ID        string  `gorm:"primaryKey;size:36"`
	Name      string  `gorm:"size:128;not null"`
	ParentID  *string `gorm:"size:36;index"`
	Type      string  `gorm:"size:16;index"`
	UserID    *string `gorm:"size:36;index"`
	CreatedAt time.Time
}

func (categoryRow) TableName() string { return "categories" }

func newCategoryRow(c domain.Category) *categoryRow {
	return &categoryRow{
		ID:       c.ID,
		Name:     c.Name,
		ParentID: optional(c.ParentID),
		Type:     string(c.Type),
		UserID:   optional(c.UserID),
	}
}

func (r *categoryRow) toDomain() domain.Category {
	return domain.Category{
		ID:       r.ID,
		Name:     r.Name,
		ParentID: deref(r.ParentID),
		Type:     domain.CategoryType(r.Type),
		UserID:   deref(r.UserID),
	}
}

type invoiceRow struct {
	ID            string `gorm:"primaryKey;size:36"`
	UserID        string `gorm:"size:36;index"`
	VendorName    string `gorm:"size:255"`
	InvoiceNumber string `gorm:"size:128"`
	InvoiceDate   *time.Time
	DueDate       *time.Time
	TotalAmount   decimal.NullDecimal `gorm:"type:decimal(15,2)"`
	TaxAmount     decimal.NullDecimal `gorm:"type:decimal(15,2)"`
	Currency      string              `gorm:"size:3"`
	CategoryID    *string             `gorm:"size:36"`
	SubcategoryID *string             `gorm:"size:36"`
	PaymentMethod string              `gorm:"size:64"`
	Status        string              `gorm:"size:16;index:idx_invoices_status_created"`
	Confidence    decimal.NullDecimal `gorm:"type:decimal(5,4)"`
	ExtractedData map[string]any      `gorm:"serializer:json;type:text"`
	ProcessedAt   *time.Time
	CreatedAt     time.Time `gorm:"index:idx_invoices_status_created"`
	UpdatedAt     time.Time

	LineItems  []lineItemRow  `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
	Attachment *attachmentRow `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
}

func (invoiceRow) TableName() string { return "invoices" }

func newInvoiceRow(inv *domain.Invoice) *invoiceRow {
	return &invoiceRow{
		ID:            inv.ID,
		UserID:        inv.UserID,
		VendorName:    inv.VendorName,
		InvoiceNumber: inv.InvoiceNumber,
		InvoiceDate:   inv.InvoiceDate,
		DueDate:       inv.DueDate,
		TotalAmount:   nullDecimal(inv.TotalAmount),
		TaxAmount:     nullDecimal(inv.TaxAmount),
		Currency:      inv.Currency,
		CategoryID:    inv.CategoryID,
		SubcategoryID: inv.SubcategoryID,
		PaymentMethod: inv.PaymentMethod,
		Status:        string(inv.Status),
		Confidence:    nullDecimal(inv.Confidence),
		ExtractedData: inv.ExtractedData,
		ProcessedAt:   inv.ProcessedAt,
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
	}
}

func (r *invoiceRow) toDomain() *domain.Invoice {
	inv := &domain.Invoice{
		ID:            r.ID,
		UserID:        r.UserID,
		VendorName:    r.VendorName,
		InvoiceNumber: r.InvoiceNumber,
		InvoiceDate:   r.InvoiceDate,
		DueDate:       r.DueDate,
		TotalAmount:   decimalPtr(r.TotalAmount),
		TaxAmount:     decimalPtr(r.TaxAmount),
		Currency:      r.Currency,
		CategoryID:    r.CategoryID,
		SubcategoryID: r.SubcategoryID,
		PaymentMethod: r.PaymentMethod,
		Status:        domain.InvoiceStatus(r.Status),
		Confidence:    decimalPtr(r.Confidence),
		ExtractedData: r.ExtractedData,
		ProcessedAt:   r.ProcessedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		LineItems:     make([]domain.LineItem, 0, len(r.LineItems)),
	}
	for _, li := range r.LineItems {
		inv.LineItems = append(inv.LineItems, li.toDomain())
	}
	if r.Attachment != nil {
		inv.Attachment = r.Attachment.toDomain()
	}
	return inv
}

type lineItemRow struct {
	ID          string          `gorm:"primaryKey;size:36"`
	InvoiceID   string          `gorm:"size:36;index"`
	Position    int             `gorm:"not null"`
	Description string          `gorm:"type:text"`
	Quantity    decimal.Decimal `gorm:"type:decimal(12,4);not null"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	TotalPrice  decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	Category    string          `gorm:"size:128"`
	SKU         string          `gorm:"size:64"`
}

func (lineItemRow) TableName() string { return "invoice_line_items" }

func newLineItemRow(li domain.LineItem, invoiceID string, position int) lineItemRow {
	return lineItemRow{
		ID:          li.ID,
		InvoiceID:   invoiceID,
		Position:    position,
		Description: li.Description,
		Quantity:    li.Quantity,
		UnitPrice:   li.UnitPrice,
		TotalPrice:  li.TotalPrice,
		Category:    li.Category,
		SKU:         li.SKU,
	}
}

func (r lineItemRow) toDomain() domain.LineItem {
	return domain.LineItem{
		ID:          r.ID,
		InvoiceID:   r.InvoiceID,
		Description: r.Description,
		Quantity:    r.Quantity,
		UnitPrice:   r.UnitPrice,
		TotalPrice:  r.TotalPrice,
		Category:    r.Category,
		SKU:         r.SKU,
	}
}

type attachmentRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	InvoiceID    string `gorm:"size:36;uniqueIndex"`
	FileName     string `gorm:"size:255"`
	FileType     string `gorm:"size:128"`
	FileSize     int64
	StorageKey   string `gorm:"size:512"`
	StorageURL   string `gorm:"type:text"`
	ThumbnailKey string `gorm:"size:512"`
	ThumbnailURL string `gorm:"type:text"`
	Width        int
	Height       int
	PageCount    int
	CreatedAt    time.Time
}

func (attachmentRow) TableName() string { return "invoice_attachments" }

func newAttachmentRow(a *domain.Attachment) *attachmentRow {
	return &attachmentRow{
		ID:           a.ID,
		InvoiceID:    a.InvoiceID,
		FileName:     a.FileName,
		FileType:     a.FileType,
		FileSize:     a.FileSize,
		StorageKey:   a.StorageKey,
		StorageURL:   a.StorageURL,
		ThumbnailKey: a.ThumbnailKey,
		ThumbnailURL: a.ThumbnailURL,
		Width:        a.Width,
		Height:       a.Height,
		PageCount:    a.PageCount,
		CreatedAt:    a.CreatedAt,
	}
}

func (r *attachmentRow) toDomain() *domain.Attachment {
	return &domain.Attachment{
		ID:           r.ID,
		InvoiceID:    r.InvoiceID,
		FileName:     r.FileName,
		FileType:     r.FileType,
		FileSize:     r.FileSize,
		StorageKey:   r.StorageKey,
		StorageURL:   r.StorageURL,
		ThumbnailKey: r.ThumbnailKey,
		ThumbnailURL: r.ThumbnailURL,
		Width:        r.Width,
		Height:       r.Height,
		PageCount:    r.PageCount,
		CreatedAt:    r.CreatedAt,
	}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
