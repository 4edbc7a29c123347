package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/expense-ingest/internal/domain"
	"github.com/dvloznov/expense-ingest/internal/llm"
	"github.com/shopspring/decimal"
)

func TestApplyAnalysis_Defaults(t *testing.T) {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ids := 0
	newID := func() string { ids++; return fmt.Sprintf("li-%d", ids) }

	inv := &domain.Invoice{ID: "inv-1", CreatedAt: created, ExtractedData: map[string]any{}}
	res := &llm.AnalysisResult{
		VendorPhone: "555-0100",
		LineItems: []llm.ExtractedLineItem{
			{Description: "no quantity", UnitPrice: dec("3.00")},
			{Description: "negative quantity", Quantity: dec("-2"), UnitPrice: dec("4")},
			{Description: "negative price", Quantity: dec("3"), UnitPrice: dec("-5")},
			{Description: "bad total", Quantity: dec("2"), UnitPrice: dec("1.10"), TotalPrice: dec("99")},
		},
	}

	adjustments := applyAnalysis(inv, res, "GBP", newID)

	if !inv.TotalAmount.IsZero() {
		t.Errorf("TotalAmount = %v, want 0", inv.TotalAmount)
	}
	if !inv.InvoiceDate.Equal(created) {
		t.Errorf("InvoiceDate = %v, want %v", inv.InvoiceDate, created)
	}
	if inv.Currency != "GBP" {
		t.Errorf("Currency = %q, want GBP", inv.Currency)
	}
	if inv.ExtractedData["vendorPhone"] != "555-0100" {
		t.Errorf("vendorPhone = %v", inv.ExtractedData["vendorPhone"])
	}

	want := []struct {
		qty, price, total string
	}{
		{"1", "3", "3"},
		{"1", "4", "4"},
		{"3", "0", "0"},
		{"2", "1.1", "2.2"},
	}
	if len(inv.LineItems) != len(want) {
		t.Fatalf("got %d line items, want %d", len(inv.LineItems), len(want))
	}
	for i, w := range want {
		li := inv.LineItems[i]
		if !li.Quantity.Equal(decimal.RequireFromString(w.qty)) ||
			!li.UnitPrice.Equal(decimal.RequireFromString(w.price)) ||
			!li.TotalPrice.Equal(decimal.RequireFromString(w.total)) {
			t.Errorf("line %d = %s x %s = %s, want %s x %s = %s",
				i, li.Quantity, li.UnitPrice, li.TotalPrice, w.qty, w.price, w.total)
		}
		if li.InvoiceID != "inv-1" || li.ID == "" {
			t.Errorf("line %d ids = %q/%q", i, li.ID, li.InvoiceID)
		}
	}

	wantAdjustments := []string{
		"totalAmount defaulted to 0",
		"invoiceDate defaulted to upload time",
		"currency defaulted to GBP",
		"lineItems[0].quantity defaulted to 1",
		"lineItems[1].quantity defaulted to 1",
		"lineItems[2].unitPrice defaulted to 0",
	}
	if len(adjustments) != len(wantAdjustments) {
		t.Fatalf("adjustments = %v", adjustments)
	}
	for i := range wantAdjustments {
		if adjustments[i] != wantAdjustments[i] {
			t.Errorf("adjustments[%d] = %q, want %q", i, adjustments[i], wantAdjustments[i])
		}
	}
}

func TestApplyAnalysis_KeepsExtractedValues(t *testing.T) {
	date := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	inv := &domain.Invoice{ID: "inv-1", CreatedAt: time.Now(), ExtractedData: map[string]any{}}
	res := &llm.AnalysisResult{
		InvoiceDate: &date,
		TotalAmount: dec("42.10"),
		Currency:    " usd",
	}

	adjustments := applyAnalysis(inv, res, "EUR", func() string { return "id" })

	if len(adjustments) != 0 {
		t.Errorf("adjustments = %v, want none", adjustments)
	}
	if inv.Currency != "USD" || !inv.InvoiceDate.Equal(date) || !inv.TotalAmount.Equal(decimal.RequireFromString("42.10")) {
		t.Errorf("invoice = %+v", inv)
	}
	if inv.LineItems == nil {
		t.Error("LineItems should be an empty slice, not nil")
	}
}
