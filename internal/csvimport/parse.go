package csvimport

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/dvloznov/expense-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

// dateLayouts are tried in order; the first that parses wins, so an ambiguous
// "02/01/2024" is read as US month/day.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"2006/01/02",
}

// maxAmount bounds amounts and balances to 13 integer digits, the range of
// the decimal(15,2) columns.
var maxAmount = decimal.New(1, 13)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// maxDescriptionLen is the size of a MySQL TEXT column.
const maxDescriptionLen = 65535

// ParseDate parses s against the supported layouts.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil && t.Year() >= 1 {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}

// ParseAmount parses a signed amount, stripping currency symbols, thousands
// separators and whitespace. "(12.50)" is read as -12.50 and a blank cell as zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '$', r == '€', r == '£', r == ',':
			return -1
		case unicode.IsSpace(r):
			return -1
		}
		return r
	}, s)

	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		cleaned = "-" + cleaned[1:len(cleaned)-1]
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to parse amount: %s", strings.TrimSpace(s))
	}
	if d.Abs().Round(2).GreaterThanOrEqual(maxAmount) {
		return decimal.Zero, fmt.Errorf("amount out of range: %s", strings.TrimSpace(s))
	}
	return d, nil
}

// rowParser turns one data row into a Transaction using a resolved ColumnMap.
type rowParser struct {
	columns         ColumnMap
	defaultCurrency string
}

func (p *rowParser) parse(row []string) (*domain.Transaction, error) {
	dateCell, err := p.required(row, ColumnDate)
	if err != nil {
		return nil, err
	}
	amountCell, err := p.required(row, ColumnAmount)
	if err != nil {
		return nil, err
	}

	date, err := ParseDate(dateCell)
	if err != nil {
		return nil, err
	}
	signed, err := ParseAmount(amountCell)
	if err != nil {
		return nil, err
	}
	amount, typ := domain.SignedAmount(signed)

	description := strings.ToValidUTF8(strings.TrimSpace(p.optional(row, ColumnDescription)), "\uFFFD")
	if len(description) > maxDescriptionLen {
		return nil, fmt.Errorf("description longer than %d bytes", maxDescriptionLen)
	}

	tx := &domain.Transaction{
		Date:        date,
		Description: description,
		Amount:      amount,
		Currency:    p.defaultCurrency,
		Type:        typ,
	}

	if cur := strings.ToUpper(strings.TrimSpace(p.optional(row, ColumnCurrency))); cur != "" {
		if !currencyCode.MatchString(cur) {
			return nil, fmt.Errorf("currency is not a 3-letter code: %s", cur)
		}
		tx.Currency = cur
	}

	if cell := p.optional(row, ColumnBalance); strings.TrimSpace(cell) != "" {
		balance, err := ParseAmount(cell)
		if err != nil {
			return nil, fmt.Errorf("balance: %w", err)
		}
		balance = balance.Round(2)
		tx.Balance = &balance
	}

	return tx, nil
}

func (p *rowParser) required(row []string, c Column) (string, error) {
	i := p.columns.Index(c)
	if i < 0 {
		return "", fmt.Errorf("%s column not found in header", c)
	}
	if i >= len(row) {
		return "", fmt.Errorf("row has %d columns, %s expected at position %d", len(row), c, i+1)
	}
	return row[i], nil
}

func (p *rowParser) optional(row []string, c Column) string {
	i := p.columns.Index(c)
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
