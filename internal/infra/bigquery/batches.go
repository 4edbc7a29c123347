package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/expense-ingest/internal/domain"
)

const (
	importBatchesTable = "import_batches"
	transactionsTable  = "transactions"
)

// BatchRepository stores import batches and their transactions in BigQuery.
type BatchRepository struct {
	c *Client
}

// NewBatchRepository creates a BatchRepository on a shared client.
func NewBatchRepository(c *Client) *BatchRepository {
	return &BatchRepository{c: c}
}

// CreateBatch inserts a new batch row.
func (r *BatchRepository) CreateBatch(ctx context.Context, batch *domain.ImportBatch) error {
	_, err := r.c.exec(ctx, "CreateBatch", fmt.Sprintf(`
		INSERT INTO %s (
			batch_id, user_id, source_kind, file_name,
			total_records, successful_records, failed_records,
			status, error_log, created_ts, completed_ts
		)
		VALUES (
			@batch_id, @user_id, @source_kind, @file_name,
			@total_records, @successful_records, @failed_records,
			@status, @error_log, @created_ts, @completed_ts
		)
	`, r.c.table(importBatchesTable)), batchParams(batch)...)
	return err
}

// UpdateBatch overwrites counters, status and error log of a batch.
func (r *BatchRepository) UpdateBatch(ctx context.Context, batch *domain.ImportBatch) error {
	_, err := r.c.exec(ctx, "UpdateBatch", r.updateBatchSQL(), batchParams(batch)...)
	return err
}

func (r *BatchRepository) updateBatchSQL() string {
	return fmt.Sprintf(`
		UPDATE %s
		SET total_records = @total_records,
		    successful_records = @successful_records,
		    failed_records = @failed_records,
		    status = @status,
		    error_log = @error_log,
		    completed_ts = @completed_ts
		WHERE batch_id = @batch_id
	`, r.c.table(importBatchesTable))
}

// CompleteBatch inserts txs and finalizes the batch in one multi-statement
// transaction.
func (r *BatchRepository) CompleteBatch(ctx context.Context, batch *domain.ImportBatch, txs []*domain.Transaction) error {
	params := batchParams(batch)
	script := "BEGIN TRANSACTION;\n"

	if len(txs) > 0 {
		rows := make([]transactionParam, 0, len(txs))
		for i, tx := range txs {
			rows = append(rows, newTransactionParam(tx, i))
		}
		params = append(params, bigquery.QueryParameter{Name: "rows", Value: rows})
		script += r.insertTransactionsSQL() + ";\n"
	}

	script += r.updateBatchSQL() + ";\nCOMMIT TRANSACTION;"

	if _, err := r.c.exec(ctx, "CompleteBatch", script, params...); err != nil {
		return fmt.Errorf("CompleteBatch: batch %s: %w", batch.ID, err)
	}
	return nil
}

func (r *BatchRepository) insertTransactionsSQL() string {
	return fmt.Sprintf(`
		INSERT INTO %s (
			transaction_id, user_id, import_batch_id, position,
			transaction_date, description, amount, currency, direction,
			balance_after, is_reconciled, created_ts
		)
		SELECT
			transaction_id, user_id, import_batch_id, position,
			transaction_date, description, CAST(amount AS NUMERIC), currency, direction,
			SAFE_CAST(NULLIF(balance, '') AS NUMERIC), FALSE, created_ts
		FROM UNNEST(@rows)
	`, r.c.table(transactionsTable))
}

// GetBatch loads a batch by id.
func (r *BatchRepository) GetBatch(ctx context.Context, id string) (*domain.ImportBatch, error) {
	rows, err := query[importBatchRow](ctx, r.c, "GetBatch", fmt.Sprintf(`
		SELECT
			batch_id, user_id, source_kind, file_name,
			total_records, successful_records, failed_records,
			status, error_log, created_ts, completed_ts
		FROM %s
		WHERE batch_id = @batch_id
		LIMIT 1
	`, r.c.table(importBatchesTable)), bigquery.QueryParameter{Name: "batch_id", Value: id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("GetBatch: batch %s: %w", id, domain.ErrNotFound)
	}
	return rows[0].toDomain(), nil
}

// ListTransactions returns the transactions of a batch in input order.
func (r *BatchRepository) ListTransactions(ctx context.Context, batchID string) ([]*domain.Transaction, error) {
	rows, err := query[transactionRow](ctx, r.c, "ListTransactions", fmt.Sprintf(`
		SELECT
			transaction_id, user_id, import_batch_id, transaction_date, description,
			CAST(amount AS STRING) AS amount, currency, direction,
			CAST(balance_after AS STRING) AS balance,
			is_reconciled, reconciled_ts, created_ts
		FROM %s
		WHERE import_batch_id = @batch_id
		ORDER BY position
	`, r.c.table(transactionsTable)), bigquery.QueryParameter{Name: "batch_id", Value: batchID})
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		tx, err := rows[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: %w", err)
		}
		out = append(out, tx)
	}
	return out, nil
}

// FailStaleBatches fails every batch still PROCESSING that was created before cutoff.
func (r *BatchRepository) FailStaleBatches(ctx context.Context, cutoff time.Time, reason string, now time.Time) (int64, error) {
	return r.c.exec(ctx, "FailStaleBatches", fmt.Sprintf(`
		UPDATE %s
		SET status = @failed,
		    successful_records = 0,
		    failed_records = total_records,
		    error_log = @reason,
		    completed_ts = @now
		WHERE status = @processing
		  AND created_ts < @cutoff
	`, r.c.table(importBatchesTable)),
		bigquery.QueryParameter{Name: "failed", Value: string(domain.BatchFailed)},
		bigquery.QueryParameter{Name: "processing", Value: string(domain.BatchProcessing)},
		bigquery.QueryParameter{Name: "reason", Value: reason},
		bigquery.QueryParameter{Name: "now", Value: now},
		bigquery.QueryParameter{Name: "cutoff", Value: cutoff},
	)
}
