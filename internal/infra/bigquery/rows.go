package bigquery

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

// NUMERIC columns travel as strings and are cast in SQL, so amounts never
// pass through float64.

type importBatchRow struct {
	BatchID           string                 `bigquery:"batch_id"`
	UserID            string                 `bigquery:"user_id"`
	SourceKind        string                 `bigquery:"source_kind"`
	FileName          string                 `bigquery:"file_name"`
	TotalRecords      int64                  `bigquery:"total_records"`
	SuccessfulRecords int64                  `bigquery:"successful_records"`
	FailedRecords     int64                  `bigquery:"failed_records"`
	Status            string                 `bigquery:"status"`
	ErrorLog          bigquery.NullString    `bigquery:"error_log"`
	CreatedTS         time.Time              `bigquery:"created_ts"`
	CompletedTS       bigquery.NullTimestamp `bigquery:"completed_ts"`
}

func (r *importBatchRow) toDomain() *domain.ImportBatch {
	b := &domain.ImportBatch{
		ID:                r.BatchID,
		UserID:            r.UserID,
		Source:            domain.SourceKind(r.SourceKind),
		FileName:          r.FileName,
		TotalRecords:      int(r.TotalRecords),
		SuccessfulRecords: int(r.SuccessfulRecords),
		FailedRecords:     int(r.FailedRecords),
		Status:            domain.BatchStatus(r.Status),
		CreatedAt:         r.CreatedTS,
		CompletedAt:       timePtr(r.CompletedTS),
	}
	if r.ErrorLog.Valid {
		msg := r.ErrorLog.StringVal
		b.ErrorLog = &msg
	}
	return b
}

func batchParams(b *domain.ImportBatch) []bigquery.QueryParameter {
	errorLog := bigquery.NullString{}
	if b.ErrorLog != nil {
		errorLog = bigquery.NullString{StringVal: *b.ErrorLog, Valid: true}
	}
	return []bigquery.QueryParameter{
		{Name: "batch_id", Value: b.ID},
		{Name: "user_id", Value: b.UserID},
		{Name: "source_kind", Value: string(b.Source)},
		{Name: "file_name", Value: b.FileName},
		{Name: "total_records", Value: int64(b.TotalRecords)},
		{Name: "successful_records", Value: int64(b.SuccessfulRecords)},
		{Name: "failed_records", Value: int64(b.FailedRecords)},
		{Name: "status", Value: string(b.Status)},
		{Name: "error_log", Value: errorLog},
		{Name: "created_ts", Value: b.CreatedAt},
		{Name: "completed_ts", Value: nullTimestamp(b.CompletedAt)},
	}
}

// transactionParam is one element of the @rows array of a bulk insert.
type transactionParam struct {
	TransactionID   string     `bigquery:"transaction_id"`
	UserID          string     `bigquery:"user_id"`
	ImportBatchID   string     `bigquery:"import_batch_id"`
	Position        int64      `bigquery:"position"`
	TransactionDate civil.Date `bigquery:"transaction_date"`
	Description     string     `bigquery:"description"`
	Amount          string     `bigquery:"amount"`
	Currency        string     `bigquery:"currency"`
	Direction       string     `bigquery:"direction"`
	Balance         string     `bigquery:"balance"` // "" for none
	CreatedTS       time.Time  `bigquery:"created_ts"`
}

func newTransactionParam(tx *domain.Transaction, position int) transactionParam {
	p := transactionParam{
		TransactionID:   tx.ID,
		UserID:          tx.UserID,
		ImportBatchID:   tx.BatchID,
		Position:        int64(position),
		TransactionDate: civil.DateOf(tx.Date),
		Description:     tx.Description,
		Amount:          tx.Amount.String(),
		Currency:        tx.Currency,
		Direction:       string(tx.Type),
		CreatedTS:       tx.CreatedAt,
	}
	if tx.Balance != nil {
		p.Balance = tx.Balance.String()
	}
	return p
}

type transactionRow struct {
	TransactionID   string                 `bigquery:"transaction_id"`
	UserID          string                 `bigquery:"user_id"`
	ImportBatchID   string                 `bigquery:"import_batch_id"`
	TransactionDate civil.Date             `bigquery:"transaction_date"`
	Description     string                 `bigquery:"description"`
	Amount          string                 `bigquery:"amount"`
	Currency        string                 `bigquery:"currency"`
	Direction       string                 `bigquery:"direction"`
	Balance         bigquery.NullString    `bigquery:"balance"`
	IsReconciled    bool                   `bigquery:"is_reconciled"`
	ReconciledTS    bigquery.NullTimestamp `bigquery:"reconciled_ts"`
	CreatedTS       time.Time              `bigquery:"created_ts"`
}

func (r *transactionRow) toDomain() (*domain.Transaction, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s amount: %w", r.TransactionID, err)
	}
	balance, err := parseNullDecimal(r.Balance)
	if err != nil {
		return nil, fmt.Errorf("transaction %s balance: %w", r.TransactionID, err)
	}
	return &domain.Transaction{
		ID:           r.TransactionID,
		UserID:       r.UserID,
		BatchID:      r.ImportBatchID,
		Date:         r.TransactionDate.In(time.UTC),
		Description:  r.Description,
		Amount:       amount,
		Currency:     r.Currency,
		Type:         domain.TransactionType(r.Direction),
		Balance:      balance,
		IsReconciled: r.IsReconciled,
		ReconciledAt: timePtr(r.ReconciledTS),
		CreatedAt:    r.CreatedTS,
	}, nil
}

type invoiceRow struct {
	InvoiceID     string                 `bigquery:"invoice_id"`
	UserID        string                 `bigquery:"user_id"`
	VendorName    string                 `bigquery:"vendor_name"`
	InvoiceNumber string                 `bigquery:"invoice_number"`
	InvoiceTS     bigquery.NullTimestamp `bigquery:"invoice_ts"`
	DueTS         bigquery.NullTimestamp `bigquery:"due_ts"`
	TotalAmount   bigquery.NullString    `bigquery:"total_amount"`
	TaxAmount     bigquery.NullString    `bigquery:"tax_amount"`
	Currency      string                 `bigquery:"currency"`
	CategoryID    bigquery.NullString    `bigquery:"category_id"`
	SubcategoryID bigquery.NullString    `bigquery:"subcategory_id"`
	PaymentMethod string                 `bigquery:"payment_method"`
	Status        string                 `bigquery:"status"`
	Confidence    bigquery.NullString    `bigquery:"confidence"`
	ExtractedData bigquery.NullString    `bigquery:"extracted_data"`
	ProcessedTS   bigquery.NullTimestamp `bigquery:"processed_ts"`
	CreatedTS     time.Time              `bigquery:"created_ts"`
	UpdatedTS     time.Time              `bigquery:"updated_ts"`
}

func (r *invoiceRow) toDomain() (*domain.Invoice, error) {
	inv := &domain.Invoice{
		ID:            r.InvoiceID,
		UserID:        r.UserID,
		VendorName:    r.VendorName,
		InvoiceNumber: r.InvoiceNumber,
		InvoiceDate:   timePtr(r.InvoiceTS),
		DueDate:       timePtr(r.DueTS),
		Currency:      r.Currency,
		CategoryID:    stringPtr(r.CategoryID),
		SubcategoryID: stringPtr(r.SubcategoryID),
		PaymentMethod: r.PaymentMethod,
		Status:        domain.InvoiceStatus(r.Status),
		ProcessedAt:   timePtr(r.ProcessedTS),
		CreatedAt:     r.CreatedTS,
		UpdatedAt:     r.UpdatedTS,
		LineItems:     []domain.LineItem{},
	}

	var err error
	if inv.TotalAmount, err = parseNullDecimal(r.TotalAmount); err != nil {
		return nil, fmt.Errorf("invoice %s total: %w", r.InvoiceID, err)
	}
	if inv.TaxAmount, err = parseNullDecimal(r.TaxAmount); err != nil {
		return nil, fmt.Errorf("invoice %s tax: %w", r.InvoiceID, err)
	}
	if inv.Confidence, err = parseNullDecimal(r.Confidence); err != nil {
		return nil, fmt.Errorf("invoice %s confidence: %w", r.InvoiceID, err)
	}
	if r.ExtractedData.Valid && r.ExtractedData.StringVal != "" && r.ExtractedData.StringVal != "null" {
		if err := json.Unmarshal([]byte(r.ExtractedData.StringVal), &inv.ExtractedData); err != nil {
			return nil, fmt.Errorf("invoice %s extracted data: %w", r.InvoiceID, err)
		}
	}
	return inv, nil
}

func invoiceParams(inv *domain.Invoice) ([]bigquery.QueryParameter, error) {
	extracted := bigquery.NullString{}
	if inv.ExtractedData != nil {
		raw, err := json.Marshal(inv.ExtractedData)
		if err != nil {
			return nil, fmt.Errorf("encoding extracted data: %w", err)
		}
		extracted = bigquery.NullString{StringVal: string(raw), Valid: true}
	}
	return []bigquery.QueryParameter{
		{Name: "invoice_id", Value: inv.ID},
		{Name: "user_id", Value: inv.UserID},
		{Name: "vendor_name", Value: inv.VendorName},
		{Name: "invoice_number", Value: inv.InvoiceNumber},
		{Name: "invoice_ts", Value: nullTimestamp(inv.InvoiceDate)},
		{Name: "due_ts", Value: nullTimestamp(inv.DueDate)},
		{Name: "total_amount", Value: nullDecimalString(inv.TotalAmount)},
		{Name: "tax_amount", Value: nullDecimalString(inv.TaxAmount)},
		{Name: "currency", Value: inv.Currency},
		{Name: "category_id", Value: nullString(inv.CategoryID)},
		{Name: "subcategory_id", Value: nullString(inv.SubcategoryID)},
		{Name: "payment_method", Value: inv.PaymentMethod},
		{Name: "status", Value: string(inv.Status)},
		{Name: "confidence", Value: nullDecimalString(inv.Confidence)},
		{Name: "extracted_data", Value: extracted},
		{Name: "processed_ts", Value: nullTimestamp(inv.ProcessedAt)},
		{Name: "created_ts", Value: inv.CreatedAt},
		{Name: "updated_ts", Value: inv.UpdatedAt},
	}, nil
}

// lineItemParam doubles as the read row for invoice_line_items.
type lineItemParam struct {
	LineItemID  string `bigquery:"line_item_id"`
	InvoiceID   string `bigquery:"invoice_id"`
	Position    int64  `bigquery:"position"`
	Description string `bigquery:"description"`
	Quantity    string `bigquery:"quantity"`
	UnitPrice   string `bigquery:"unit_price"`
	TotalPrice  string `bigquery:"total_price"`
	Category    string `bigquery:"category"`
	SKU         string `bigquery:"sku"`
}

func newLineItemParam(li domain.LineItem, invoiceID string, position int) lineItemParam {
	return lineItemParam{
		LineItemID:  li.ID,
		InvoiceID:   invoiceID,
		Position:    int64(position),
		Description: li.Description,
		Quantity:    li.Quantity.String(),
		UnitPrice:   li.UnitPrice.String(),
		TotalPrice:  li.TotalPrice.String(),
		Category:    li.Category,
		SKU:         li.SKU,
	}
}

func (r *lineItemParam) toDomain() (domain.LineItem, error) {
	var (
		li  = domain.LineItem{ID: r.LineItemID, InvoiceID: r.InvoiceID, Description: r.Description, Category: r.Category, SKU: r.SKU}
		err error
	)
	if li.Quantity, err = decimal.NewFromString(r.Quantity); err != nil {
		return li, fmt.Errorf("line item %s quantity: %w", r.LineItemID, err)
	}
	if li.UnitPrice, err = decimal.NewFromString(r.UnitPrice); err != nil {
		return li, fmt.Errorf("line item %s unit price: %w", r.LineItemID, err)
	}
	if li.TotalPrice, err = decimal.NewFromString(r.TotalPrice); err != nil {
		return li, fmt.Errorf("line item %s total price: %w", r.LineItemID, err)
	}
	return li, nil
}

type attachmentRow struct {
	AttachmentID string    `bigquery:"attachment_id"`
	InvoiceID    string    `bigquery:"invoice_id"`
	FileName     string    `bigquery:"file_name"`
	FileType     string    `bigquery:"file_type"`
	FileSize     int64     `bigquery:"file_size"`
	StorageKey   string    `bigquery:"storage_key"`
	StorageURL   string    `bigquery:"storage_url"`
	ThumbnailKey string    `bigquery:"thumbnail_key"`
	ThumbnailURL string    `bigquery:"thumbnail_url"`
	Width        int64     `bigquery:"width"`
	Height       int64     `bigquery:"height"`
	PageCount    int64     `bigquery:"page_count"`
	CreatedTS    time.Time `bigquery:"created_ts"`
}

func (r *attachmentRow) toDomain() *domain.Attachment {
	return &domain.Attachment{
		ID:           r.AttachmentID,
		InvoiceID:    r.InvoiceID,
		FileName:     r.FileName,
		FileType:     r.FileType,
		FileSize:     r.FileSize,
		StorageKey:   r.StorageKey,
		StorageURL:   r.StorageURL,
		ThumbnailKey: r.ThumbnailKey,
		ThumbnailURL: r.ThumbnailURL,
		Width:        int(r.Width),
		Height:       int(r.Height),
		PageCount:    int(r.PageCount),
		CreatedAt:    r.CreatedTS,
	}
}

func attachmentParams(a *domain.Attachment) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "attachment_id", Value: a.ID},
		{Name: "invoice_id", Value: a.InvoiceID},
		{Name: "file_name", Value: a.FileName},
		{Name: "file_type", Value: a.FileType},
		{Name: "file_size", Value: a.FileSize},
		{Name: "storage_key", Value: a.StorageKey},
		{Name: "storage_url", Value: a.StorageURL},
		{Name: "thumbnail_key", Value: a.ThumbnailKey},
		{Name: "thumbnail_url", Value: a.ThumbnailURL},
		{Name: "width", Value: int64(a.Width)},
		{Name: "height", Value: int64(a.Height)},
		{Name: "page_count", Value: int64(a.PageCount)},
		{Name: "created_ts", Value: a.CreatedAt},
	}
}

// categoryRow doubles as the @rows element of a seed.
type categoryRow struct {
	CategoryID       string `bigquery:"category_id"`
	Name             string `bigquery:"name"`
	ParentCategoryID string `bigquery:"parent_category_id"` // "" for top level
	Type             string `bigquery:"type"`
	UserID           string `bigquery:"user_id"` // "" for global
}

func newCategoryRow(c domain.Category) categoryRow {
	return categoryRow{
		CategoryID:       c.ID,
		Name:             c.Name,
		ParentCategoryID: c.ParentID,
		Type:             string(c.Type),
		UserID:           c.UserID,
	}
}

func (r *categoryRow) toDomain() domain.Category {
	return domain.Category{
		ID:       r.CategoryID,
		Name:     r.Name,
		ParentID: r.ParentCategoryID,
		Type:     domain.CategoryType(r.Type),
		UserID:   r.UserID,
	}
}

func nullTimestamp(t *time.Time) bigquery.NullTimestamp {
	if t == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: *t, Valid: true}
}

func timePtr(t bigquery.NullTimestamp) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Timestamp
	return &v
}

func nullString(s *string) bigquery.NullString {
	if s == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: *s, Valid: true}
}

func stringPtr(s bigquery.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.StringVal
	return &v
}

func nullDecimalString(d *decimal.Decimal) bigquery.NullString {
	if d == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: d.String(), Valid: true}
}

func parseNullDecimal(s bigquery.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.StringVal == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.StringVal)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
