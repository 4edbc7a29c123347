package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is derived from the sign of the imported amount.
type TransactionType string

const (
	TransactionDebit  TransactionType = "DEBIT"
	TransactionCredit TransactionType = "CREDIT"
)

// Transaction is one normalized bank statement line.
// Amount is always non-negative; Type carries the direction.
type Transaction struct {
	ID           string           `json:"id"`
	UserID       string           `json:"userId"`
	BatchID      string           `json:"batchId"`
	Date         time.Time        `json:"transactionDate"`
	Description  string           `json:"description"`
	Amount       decimal.Decimal  `json:"amount"`
	Currency     string           `json:"currency"`
	Type         TransactionType  `json:"type"`
	Balance      *decimal.Decimal `json:"balance,omitempty"`
	IsReconciled bool             `json:"isReconciled"`
	ReconciledAt *time.Time       `json:"reconciledAt,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// SignedAmount converts a signed amount into its stored absolute value and type.
func SignedAmount(amount decimal.Decimal) (decimal.Decimal, TransactionType) {
	if amount.IsNegative() {
		return amount.Abs().Round(2), TransactionDebit
	}
	return amount.Round(2), TransactionCredit
}
