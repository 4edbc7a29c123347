package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
}

// ParseAnalysis decodes a model response into an AnalysisResult. Invalid JSON
// is an error; individual fields that cannot be interpreted are left unset.
func ParseAnalysis(raw string) (*AnalysisResult, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return nil, fmt.Errorf("ParseAnalysis: empty response from model")
	}

	dec := json.NewDecoder(strings.NewReader(clean))
	dec.UseNumber()

	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("ParseAnalysis: unmarshal JSON: %w", err)
	}

	res := &AnalysisResult{
		VendorName:           getStringField(m, "vendorName"),
		InvoiceNumber:        getStringField(m, "invoiceNumber"),
		InvoiceDate:          getDateField(m, "date"),
		DueDate:              getDateField(m, "dueDate"),
		TotalAmount:          getDecimalField(m, "totalAmount"),
		TaxAmount:            getDecimalField(m, "taxAmount"),
		Currency:             strings.ToUpper(getStringField(m, "currency")),
		SuggestedCategory:    getStringField(m, "suggestedCategory"),
		SuggestedSubcategory: getStringField(m, "suggestedSubcategory"),
		PaymentMethod:        getStringField(m, "paymentMethod"),
		VendorAddress:        getStringField(m, "vendorAddress"),
		VendorPhone:          getStringField(m, "vendorPhone"),
		VendorEmail:          getStringField(m, "vendorEmail"),
	}

	if c := getDecimalField(m, "confidence"); c != nil && !c.IsNegative() && c.LessThanOrEqual(decimal.NewFromInt(1)) {
		res.Confidence = c
	}

	if items, ok := m["lineItems"].([]interface{}); ok {
		for _, it := range items {
			obj, ok := it.(map[string]interface{})
			if !ok {
				continue
			}
			res.LineItems = append(res.LineItems, ExtractedLineItem{
				Description: getStringField(obj, "description"),
				Quantity:    getDecimalField(obj, "quantity"),
				UnitPrice:   getDecimalField(obj, "unitPrice"),
				TotalPrice:  getDecimalField(obj, "totalPrice"),
				Category:    getStringField(obj, "category"),
			})
		}
	}

	return res, nil
}

// cleanModelJSON strips Markdown fences and any text around the top-level object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return ""
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}

func getStringField(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func getDecimalField(m map[string]interface{}, key string) *decimal.Decimal {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}

	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(t)
	default:
		return nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func getDateField(m map[string]interface{}, key string) *time.Time {
	s := getStringField(m, key)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
