package sqlstore

import (
	"context"
	"fmt"

	"github.com/dvloznov/expense-ingest/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CategoryRepository reads the category taxonomy.
type CategoryRepository struct {
	db *gorm.DB
}

// NewCategoryRepository creates a CategoryRepository on a shared connection.
func NewCategoryRepository(db *gorm.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// AvailableCategories returns global categories plus those owned by userID.
func (r *CategoryRepository) AvailableCategories(ctx context.Context, userID string, kind domain.CategoryType) ([]domain.Category, error) {
	var rows []categoryRow
	err := r.db.WithContext(ctx).
		Where("type = ? AND (user_id IS NULL OR user_id = ?)", string(kind), userID).
		Order("name").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("AvailableCategories: %w", err)
	}

	out := make([]domain.Category, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// Seed inserts cats, leaving existing ids untouched. It returns the number
// of rows inserted.
func (r *CategoryRepository) Seed(ctx context.Context, cats []domain.Category) (int64, error) {
	if len(cats) == 0 {
		return 0, nil
	}
	rows := make([]*categoryRow, 0, len(cats))
	for _, c := range cats {
		rows = append(rows, newCategoryRow(c))
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rows)
	if res.Error != nil {
		return 0, fmt.Errorf("Seed: inserting categories: %w", res.Error)
	}
	return res.RowsAffected, nil
}
