// Package llm extracts structured invoice data with a large language model.
// Backends are interchangeable behind Provider and chosen once by New.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/expense-ingest/internal/config"
	"github.com/shopspring/decimal"
)

// Provider is an LLM backend.
type Provider interface {
	// AnalyzeInvoice extracts invoice fields from the document bytes and any OCR text.
	AnalyzeInvoice(ctx context.Context, document []byte, ocrText string) (*AnalysisResult, error)

	// ProcessQuery answers a free-form finance question for a user.
	ProcessQuery(ctx context.Context, text, userID string) (string, error)

	// Name identifies the backend in audit data.
	Name() string
}

// AnalysisResult is what a provider extracted. Every field is optional.
type AnalysisResult struct {
	VendorName           string
	InvoiceNumber        string
	InvoiceDate          *time.Time
	DueDate              *time.Time
	TotalAmount          *decimal.Decimal
	TaxAmount            *decimal.Decimal
	Currency             string
	SuggestedCategory    string
	SuggestedSubcategory string
	Confidence           *decimal.Decimal
	PaymentMethod        string
	VendorAddress        string
	VendorPhone          string
	VendorEmail          string
	LineItems            []ExtractedLineItem
}

// ExtractedLineItem is one line as reported by the model.
type ExtractedLineItem struct {
	Description string
	Quantity    *decimal.Decimal
	UnitPrice   *decimal.Decimal
	TotalPrice  *decimal.Decimal
	Category    string
}

// New builds the provider named in cfg.
func New(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGemini(ctx, cfg.GeminiModel)
	case "openai":
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIMaxTokens, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("llm.New: unknown provider %q", cfg.Provider)
	}
}
