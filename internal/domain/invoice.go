package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an Invoice.
type InvoiceStatus string

const (
	InvoicePending        InvoiceStatus = "PENDING"
	InvoiceProcessing     InvoiceStatus = "PROCESSING"
	InvoiceCompleted      InvoiceStatus = "COMPLETED"
	InvoiceFailed         InvoiceStatus = "FAILED"
	InvoiceReviewRequired InvoiceStatus = "REVIEW_REQUIRED"
)

// AcceptanceThreshold is the minimum confidence for unattended acceptance.
var AcceptanceThreshold = decimal.RequireFromString("0.70")

// Audit keys stored in Invoice.ExtractedData.
const (
	ExtractedOCRText           = "ocrText"
	ExtractedProvider          = "llmProvider"
	ExtractedAnalysisTimestamp = "analysisTimestamp"
	ExtractedImportBatchID     = "importBatchId"
	ExtractedAdjustments       = "adjustments"
)

// Invoice is the aggregate produced by the document pipeline.
type Invoice struct {
	ID            string           `json:"id"`
	UserID        string           `json:"userId"`
	VendorName    string           `json:"vendorName,omitempty"`
	InvoiceNumber string           `json:"invoiceNumber,omitempty"`
	InvoiceDate   *time.Time       `json:"invoiceDate,omitempty"`
	DueDate       *time.Time       `json:"dueDate,omitempty"`
	TotalAmount   *decimal.Decimal `json:"totalAmount,omitempty"`
	TaxAmount     *decimal.Decimal `json:"taxAmount,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	CategoryID    *string          `json:"categoryId,omitempty"`
	SubcategoryID *string          `json:"subcategoryId,omitempty"`
	PaymentMethod string           `json:"paymentMethod,omitempty"`
	Status        InvoiceStatus    `json:"status"`
	Confidence    *decimal.Decimal `json:"confidenceScore,omitempty"`
	ExtractedData map[string]any   `json:"extractedData,omitempty"`
	LineItems     []LineItem       `json:"lineItems"`
	Attachment    *Attachment      `json:"attachment,omitempty"`
	ProcessedAt   *time.Time       `json:"processedAt,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// StatusForConfidence routes an extraction result. A nil confidence is
// treated as below threshold.
func StatusForConfidence(confidence *decimal.Decimal) InvoiceStatus {
	if confidence != nil && confidence.GreaterThanOrEqual(AcceptanceThreshold) {
		return InvoiceCompleted
	}
	return InvoiceReviewRequired
}

// ResetExtraction drops every extracted field, keeping identity, ownership,
// timestamps and the attachment.
func (inv *Invoice) ResetExtraction() {
	*inv = Invoice{
		ID:         inv.ID,
		UserID:     inv.UserID,
		Status:     inv.Status,
		Attachment: inv.Attachment,
		CreatedAt:  inv.CreatedAt,
		UpdatedAt:  inv.UpdatedAt,
	}
}

// LineItem is a single row of an invoice.
type LineItem struct {
	ID          string          `json:"id"`
	InvoiceID   string          `json:"invoiceId"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
	Category    string          `json:"category,omitempty"`
	SKU         string          `json:"sku,omitempty"`
}

// Recalculate sets TotalPrice from Quantity and UnitPrice.
func (li *LineItem) Recalculate() {
	li.TotalPrice = li.Quantity.Mul(li.UnitPrice).Round(2)
}

// Attachment references the stored source document of an invoice.
type Attachment struct {
	ID           string    `json:"id"`
	InvoiceID    string    `json:"invoiceId"`
	FileName     string    `json:"fileName"`
	FileType     string    `json:"fileType"`
	FileSize     int64     `json:"fileSize"`
	StorageKey   string    `json:"storageKey"`
	StorageURL   string    `json:"storageUrl"`
	ThumbnailKey string    `json:"thumbnailKey,omitempty"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
	PageCount    int       `json:"pageCount"`
	CreatedAt    time.Time `json:"createdAt"`
}
