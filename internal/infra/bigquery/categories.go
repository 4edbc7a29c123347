package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/expense-ingest/internal/domain"
)

const categoriesTable = "categories"

// CategoryRepository reads the category taxonomy from BigQuery.
type CategoryRepository struct {
	c *Client
}

// NewCategoryRepository creates a CategoryRepository on a shared client.
func NewCategoryRepository(c *Client) *CategoryRepository {
	return &CategoryRepository{c: c}
}

// AvailableCategories returns global categories plus those owned by userID.
func (r *CategoryRepository) AvailableCategories(ctx context.Context, userID string, kind domain.CategoryType) ([]domain.Category, error) {
	rows, err := query[categoryRow](ctx, r.c, "AvailableCategories", fmt.Sprintf(`
		SELECT
			category_id,
			name,
			IFNULL(parent_category_id, '') AS parent_category_id,
			type,
			IFNULL(user_id, '') AS user_id
		FROM %s
		WHERE type = @type
		  AND (user_id IS NULL OR user_id = @user_id)
		ORDER BY name
	`, r.c.table(categoriesTable)),
		bigquery.QueryParameter{Name: "type", Value: string(kind)},
		bigquery.QueryParameter{Name: "user_id", Value: userID},
	)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Category, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// Seed inserts cats whose ids are not present yet and returns how many were added.
func (r *CategoryRepository) Seed(ctx context.Context, cats []domain.Category) (int64, error) {
	if len(cats) == 0 {
		return 0, nil
	}
	rows := make([]categoryRow, 0, len(cats))
	for _, c := range cats {
		rows = append(rows, newCategoryRow(c))
	}

	return r.c.exec(ctx, "Seed", fmt.Sprintf(`
		MERGE %s t
		USING UNNEST(@rows) s
		ON t.category_id = s.category_id
		WHEN NOT MATCHED THEN
		  INSERT (category_id, name, parent_category_id, type, user_id, created_ts)
		  VALUES (s.category_id, s.name, NULLIF(s.parent_category_id, ''), s.type, NULLIF(s.user_id, ''), @now)
	`, r.c.table(categoriesTable)),
		bigquery.QueryParameter{Name: "rows", Value: rows},
		bigquery.QueryParameter{Name: "now", Value: time.Now().UTC()},
	)
}
