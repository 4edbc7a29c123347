package pipeline

import (
	"fmt"
	"strings"

	"github.com/dvloznov/expense-ingest/internal/domain"
	"github.com/dvloznov/expense-ingest/internal/llm"
	"github.com/shopspring/decimal"
)

// invoiceRule fills one header field the model left out.
type invoiceRule struct {
	field   string
	missing func(inv *domain.Invoice) bool
	fill    func(inv *domain.Invoice, defaultCurrency string) string
}

var invoiceRules = []invoiceRule{
	{
		field:   "totalAmount",
		missing: func(inv *domain.Invoice) bool { return inv.TotalAmount == nil },
		fill: func(inv *domain.Invoice, _ string) string {
			zero := decimal.Zero
			inv.TotalAmount = &zero
			return "0"
		},
	},
	{
		field:   "invoiceDate",
		missing: func(inv *domain.Invoice) bool { return inv.InvoiceDate == nil },
		fill: func(inv *domain.Invoice, _ string) string {
			created := inv.CreatedAt
			inv.InvoiceDate = &created
			return "upload time"
		},
	},
	{
		field:   "currency",
		missing: func(inv *domain.Invoice) bool { return inv.Currency == "" },
		fill: func(inv *domain.Invoice, defaultCurrency string) string {
			inv.Currency = defaultCurrency
			return defaultCurrency
		},
	},
}

// lineItemRule fills or corrects one line item field.
type lineItemRule struct {
	field   string
	missing func(li llm.ExtractedLineItem) bool
	fill    func(li *domain.LineItem) string
}

var lineItemRules = []lineItemRule{
	{
		field:   "quantity",
		missing: func(li llm.ExtractedLineItem) bool { return li.Quantity == nil || !li.Quantity.IsPositive() },
		fill: func(li *domain.LineItem) string {
			li.Quantity = decimal.NewFromInt(1)
			return "1"
		},
	},
	{
		field:   "unitPrice",
		missing: func(li llm.ExtractedLineItem) bool { return li.UnitPrice == nil || li.UnitPrice.IsNegative() },
		fill: func(li *domain.LineItem) string {
			li.UnitPrice = decimal.Zero
			return "0"
		},
	},
}

// applyAnalysis copies res onto inv and applies the default rules. It
// returns one line per default applied.
func applyAnalysis(inv *domain.Invoice, res *llm.AnalysisResult, defaultCurrency string, newID func() string) []string {
	var adjustments []string

	inv.VendorName = strings.TrimSpace(res.VendorName)
	inv.InvoiceNumber = strings.TrimSpace(res.InvoiceNumber)
	inv.InvoiceDate = res.InvoiceDate
	inv.DueDate = res.DueDate
	inv.TotalAmount = res.TotalAmount
	inv.TaxAmount = res.TaxAmount
	inv.Currency = strings.ToUpper(strings.TrimSpace(res.Currency))
	inv.PaymentMethod = strings.TrimSpace(res.PaymentMethod)
	inv.Confidence = res.Confidence

	for key, value := range map[string]string{
		"vendorAddress": res.VendorAddress,
		"vendorPhone":   res.VendorPhone,
		"vendorEmail":   res.VendorEmail,
	} {
		if value != "" {
			inv.ExtractedData[key] = value
		}
	}

	for _, rule := range invoiceRules {
		if rule.missing(inv) {
			value := rule.fill(inv, defaultCurrency)
			adjustments = append(adjustments, fmt.Sprintf("%s defaulted to %s", rule.field, value))
		}
	}

	inv.LineItems = make([]domain.LineItem, 0, len(res.LineItems))
	for i, extracted := range res.LineItems {
		li := domain.LineItem{
			ID:          newID(),
			InvoiceID:   inv.ID,
			Description: strings.TrimSpace(extracted.Description),
			Category:    strings.TrimSpace(extracted.Category),
		}
		if extracted.Quantity != nil {
			li.Quantity = *extracted.Quantity
		}
		if extracted.UnitPrice != nil {
			li.UnitPrice = *extracted.UnitPrice
		}

		for _, rule := range lineItemRules {
			if rule.missing(extracted) {
				value := rule.fill(&li)
				adjustments = append(adjustments, fmt.Sprintf("lineItems[%d].%s defaulted to %s", i, rule.field, value))
			}
		}

		li.Recalculate()
		inv.LineItems = append(inv.LineItems, li)
	}

	return adjustments
}
