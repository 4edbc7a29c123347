package csvimport

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/dvloznov/expense-ingest/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const emptyFileMessage = "CSV file is empty"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Importer turns bank CSV exports into transactions and an ImportBatch.
type Importer struct {
	repo            BatchRepository
	log             zerolog.Logger
	defaultCurrency string

	now   func() time.Time
	newID func() string
}

// NewImporter creates an Importer. defaultCurrency applies when the file has
// no currency column.
func NewImporter(repo BatchRepository, defaultCurrency string, log zerolog.Logger) *Importer {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Importer{
		repo:            repo,
		log:             log,
		defaultCurrency: defaultCurrency,
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
	}
}

// ImportBankTransactions parses r and records the outcome. The returned batch
// is non-nil whenever a batch row could be created, including when an error
// is returned.
func (im *Importer) ImportBankTransactions(ctx context.Context, r io.Reader, fileName, userID string) (*domain.ImportBatch, error) {
	batch := domain.NewImportBatch(im.newID(), userID, domain.SourceBankTransaction, fileName, im.now())
	if err := im.repo.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("ImportBankTransactions: creating batch: %w", err)
	}

	log := im.log.With().Str("batch_id", batch.ID).Str("file_name", fileName).Logger()

	rows, err := readRows(r)
	if err != nil {
		return im.abort(ctx, batch, fmt.Errorf("reading csv: %w", err))
	}

	if len(rows) == 0 {
		batch.Fail(emptyFileMessage, im.now())
		if err := im.repo.UpdateBatch(ctx, batch); err != nil {
			return batch, fmt.Errorf("ImportBankTransactions: updating batch: %w", err)
		}
		log.Warn().Msg("Empty CSV file")
		return batch, nil
	}

	columns := ResolveColumns(rows[0])
	log.Debug().
		Int("date_col", columns.Index(ColumnDate)).
		Int("description_col", columns.Index(ColumnDescription)).
		Int("amount_col", columns.Index(ColumnAmount)).
		Int("balance_col", columns.Index(ColumnBalance)).
		Msg("Resolved CSV columns")

	parser := &rowParser{columns: columns, defaultCurrency: im.defaultCurrency}

	var acc domain.BatchAccumulator
	acc.Expect(len(rows) - 1)
	batch.TotalRecords = len(rows) - 1

	txs := make([]*domain.Transaction, 0, len(rows)-1)
	for i, row := range rows[1:] {
		tx, err := parseRow(parser, row)
		if err != nil {
			acc.Failf(i+1, err)
			continue
		}
		tx.ID = im.newID()
		tx.UserID = userID
		tx.BatchID = batch.ID
		tx.CreatedAt = im.now()
		txs = append(txs, tx)
		acc.Succeed()
	}

	acc.Finish(batch, im.now())

	if err := im.repo.CompleteBatch(ctx, batch, txs); err != nil {
		return im.abort(ctx, batch, fmt.Errorf("saving transactions: %w", err))
	}

	log.Info().
		Str("status", string(batch.Status)).
		Int("total", batch.TotalRecords).
		Int("successful", batch.SuccessfulRecords).
		Int("failed", batch.FailedRecords).
		Msg("CSV import finished")

	return batch, nil
}

// GetBatch returns a previously created batch.
func (im *Importer) GetBatch(ctx context.Context, id string) (*domain.ImportBatch, error) {
	batch, err := im.repo.GetBatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetBatch: %w", err)
	}
	return batch, nil
}

// abort records a failure that escaped row processing and returns it.
func (im *Importer) abort(ctx context.Context, batch *domain.ImportBatch, cause error) (*domain.ImportBatch, error) {
	batch.Abort(cause.Error(), im.now())
	if err := im.repo.UpdateBatch(ctx, batch); err != nil {
		im.log.Error().Err(err).Str("batch_id", batch.ID).Msg("Failed to mark batch as failed")
	}
	im.log.Error().Err(cause).Str("batch_id", batch.ID).Msg("CSV import failed")
	return batch, fmt.Errorf("ImportBankTransactions: %w", cause)
}

// parseRow isolates a single row so a panic counts as a row failure.
func parseRow(p *rowParser, row []string) (tx *domain.Transaction, err error) {
	defer func() {
		if r := recover(); r != nil {
			tx = nil
			err = fmt.Errorf("unexpected error: %v", r)
		}
	}()
	return p.parse(row)
}

func readRows(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	return reader.ReadAll()
}
