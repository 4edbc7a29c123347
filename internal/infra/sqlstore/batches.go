package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/expense-ingest/internal/domain"
	"gorm.io/gorm"
)

// transactionInsertBatchSize bounds a single multi-row INSERT.
const transactionInsertBatchSize = 500

// BatchRepository stores import batches and the transactions they produced.
type BatchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a BatchRepository on a shared connection.
func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// CreateBatch inserts a new batch.
func (r *BatchRepository) CreateBatch(ctx context.Context, batch *domain.ImportBatch) error {
	if err := r.db.WithContext(ctx).Create(newImportBatchRow(batch)).Error; err != nil {
		return fmt.Errorf("CreateBatch: inserting batch %s: %w", batch.ID, err)
	}
	return nil
}

// UpdateBatch overwrites counters, status and error log of a batch.
func (r *BatchRepository) UpdateBatch(ctx context.Context, batch *domain.ImportBatch) error {
	res := r.db.WithContext(ctx).Save(newImportBatchRow(batch))
	if res.Error != nil {
		return fmt.Errorf("UpdateBatch: saving batch %s: %w", batch.ID, res.Error)
	}
	return nil
}

// CompleteBatch writes txs and the finalized batch in one transaction, so
// either both become visible or neither does.
func (r *BatchRepository) CompleteBatch(ctx context.Context, batch *domain.ImportBatch, txs []*domain.Transaction) error {
	rows := make([]*transactionRow, 0, len(txs))
	for i, tx := range txs {
		rows = append(rows, newTransactionRow(tx, i))
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, transactionInsertBatchSize).Error; err != nil {
				return fmt.Errorf("inserting %d transactions: %w", len(rows), err)
			}
		}
		if err := tx.Save(newImportBatchRow(batch)).Error; err != nil {
			return fmt.Errorf("saving batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("CompleteBatch: batch %s: %w", batch.ID, err)
	}
	return nil
}

// GetBatch loads a batch by id.
func (r *BatchRepository) GetBatch(ctx context.Context, id string) (*domain.ImportBatch, error) {
	var row importBatchRow
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("GetBatch: batch %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetBatch: batch %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// ListTransactions returns the transactions of a batch in input order.
func (r *BatchRepository) ListTransactions(ctx context.Context, batchID string) ([]*domain.Transaction, error) {
	var rows []transactionRow
	err := r.db.WithContext(ctx).
		Where("import_batch_id = ?", batchID).
		Order("position").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: batch %s: %w", batchID, err)
	}

	out := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// FailStaleBatches fails every batch still PROCESSING that was created before
// cutoff. No transactions exist for such batches, so all records count as failed.
func (r *BatchRepository) FailStaleBatches(ctx context.Context, cutoff time.Time, reason string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&importBatchRow{}).
		Where("status = ? AND created_at < ?", string(domain.BatchProcessing), cutoff).
		Updates(map[string]any{
			"status":             string(domain.BatchFailed),
			"successful_records": 0,
			"failed_records":     gorm.Expr("total_records"),
			"error_log":          reason,
			"completed_at":       now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("FailStaleBatches: %w", res.Error)
	}
	return res.RowsAffected, nil
}
