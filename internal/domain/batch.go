package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// SourceKind identifies which pipeline produced a batch.
type SourceKind string

const (
	SourceBankTransaction SourceKind = "BANK_TRANSACTION"
	SourceInvoiceDocument SourceKind = "INVOICE_DOCUMENT"
)

// BatchStatus is the lifecycle state of an ImportBatch.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "PROCESSING"
	BatchCompleted  BatchStatus = "COMPLETED"
	BatchPartial    BatchStatus = "PARTIAL"
	BatchFailed     BatchStatus = "FAILED"
)

const (
	// maxErrorLineLen bounds a single error message.
	maxErrorLineLen = 2000
	// maxErrorLogLen bounds the whole error log; it stays under MySQL's TEXT limit.
	maxErrorLogLen = 60000
)

// ImportBatch is one ingestion attempt and its aggregate outcome.
type ImportBatch struct {
	ID                string      `json:"batchId"`
	UserID            string      `json:"userId"`
	Source            SourceKind  `json:"sourceKind"`
	FileName          string      `json:"fileName"`
	TotalRecords      int         `json:"totalRecords"`
	SuccessfulRecords int         `json:"successfulRecords"`
	FailedRecords     int         `json:"failedRecords"`
	Status            BatchStatus `json:"status"`
	ErrorLog          *string     `json:"errorLog"`
	CreatedAt         time.Time   `json:"createdAt"`
	CompletedAt       *time.Time  `json:"completedAt,omitempty"`
}

// NewImportBatch returns a PROCESSING batch with zeroed counters.
func NewImportBatch(id, userID string, source SourceKind, fileName string, now time.Time) *ImportBatch {
	return &ImportBatch{
		ID:        id,
		UserID:    userID,
		Source:    source,
		FileName:  fileName,
		Status:    BatchProcessing,
		CreatedAt: now,
	}
}

// FinalStatus derives a terminal batch status from its counters.
func FinalStatus(successful, failed int) BatchStatus {
	switch {
	case failed == 0:
		return BatchCompleted
	case successful > 0:
		return BatchPartial
	default:
		return BatchFailed
	}
}

// Fail marks the batch FAILED regardless of counters and appends msg to the error log.
func (b *ImportBatch) Fail(msg string, now time.Time) {
	b.appendError(truncate(strings.ToValidUTF8(msg, "\uFFFD"), maxErrorLineLen))
	b.Status = BatchFailed
	b.CompletedAt = &now
}

// Abort fails a batch whose records were never durably written: every
// expected record is counted as failed.
func (b *ImportBatch) Abort(msg string, now time.Time) {
	b.SuccessfulRecords = 0
	b.FailedRecords = b.TotalRecords
	b.Fail(msg, now)
}

// Done reports whether completion has been recorded.
func (b *ImportBatch) Done() bool {
	return b.CompletedAt != nil
}

func (b *ImportBatch) appendError(entry string) {
	if entry == "" {
		return
	}
	log := entry
	if b.ErrorLog != nil && *b.ErrorLog != "" {
		log = *b.ErrorLog + "\n" + entry
	}
	log = truncate(log, maxErrorLogLen)
	b.ErrorLog = &log
}

// BatchAccumulator collects per-record outcomes locally so the batch is
// written once, after the loop.
type BatchAccumulator struct {
	total      int
	successful int
	failed     int
	errors     []string
}

// Expect records the number of records that will be processed.
func (a *BatchAccumulator) Expect(total int) {
	a.total = total
}

// Succeed counts one successfully processed record.
func (a *BatchAccumulator) Succeed() {
	a.successful++
}

// Failf counts one failed record and adds a "Row n: message" line.
func (a *BatchAccumulator) Failf(row int, err error) {
	a.failed++
	line := fmt.Sprintf("Row %d: %s", row, err)
	a.errors = append(a.errors, truncate(strings.ToValidUTF8(line, "\uFFFD"), maxErrorLineLen))
}

// Successful returns the number of successful records so far.
func (a *BatchAccumulator) Successful() int { return a.successful }

// Failed returns the number of failed records so far.
func (a *BatchAccumulator) Failed() int { return a.failed }

// Finish folds the accumulated outcome into b and records completion.
func (a *BatchAccumulator) Finish(b *ImportBatch, now time.Time) {
	b.TotalRecords = a.total
	b.SuccessfulRecords = a.successful
	b.FailedRecords = a.failed
	if len(a.errors) > 0 {
		b.appendError(a.errorLog())
	}
	b.Status = FinalStatus(a.successful, a.failed)
	b.CompletedAt = &now
}

// errorLog joins the row errors. Lines past the budget are summarized, leaving
// room for one more message should the final write fail.
func (a *BatchAccumulator) errorLog() string {
	budget := maxErrorLogLen - 2*maxErrorLineLen

	var sb strings.Builder
	for i, line := range a.errors {
		if sb.Len()+len(line)+1 > budget {
			fmt.Fprintf(&sb, "\n... and %d more rows failed", len(a.errors)-i)
			break
		}
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
