package csvimport

import (
	"context"

	"github.com/dvloznov/expense-ingest/internal/domain"
)

// BatchRepository persists import batches and their transactions.
type BatchRepository interface {
	// CreateBatch inserts a new batch row.
	CreateBatch(ctx context.Context, batch *domain.ImportBatch) error

	// UpdateBatch overwrites status, counters, error log and completion time.
	UpdateBatch(ctx context.Context, batch *domain.ImportBatch) error

	// CompleteBatch writes all transactions in one bulk insert together with
	// the finalized batch.
	CompleteBatch(ctx context.Context, batch *domain.ImportBatch, txs []*domain.Transaction) error

	// GetBatch returns domain.ErrNotFound when the batch does not exist.
	GetBatch(ctx context.Context, id string) (*domain.ImportBatch, error)
}
