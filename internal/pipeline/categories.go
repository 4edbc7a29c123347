package pipeline

import (
	"strings"

	"github.com/dvloznov/expense-ingest/internal/domain"
)

// CategoryMatcher resolves model suggested names against a user's categories.
// Matching is case-insensitive and exact; it never creates categories.
type CategoryMatcher struct {
	categories    map[string]string            // normalized name -> id
	subcategories map[string]map[string]string // parent id -> normalized name -> id
}

// NewCategoryMatcher builds lookup maps from a flat category list.
func NewCategoryMatcher(rows []domain.Category) *CategoryMatcher {
	m := &CategoryMatcher{
		categories:    make(map[string]string),
		subcategories: make(map[string]map[string]string),
	}

	for _, row := range rows {
		name := normalizeCategory(row.Name)
		if name == "" {
			continue
		}
		if row.ParentID == "" {
			if _, dup := m.categories[name]; !dup {
				m.categories[name] = row.ID
			}
			continue
		}
		if m.subcategories[row.ParentID] == nil {
			m.subcategories[row.ParentID] = make(map[string]string)
		}
		if _, dup := m.subcategories[row.ParentID][name]; !dup {
			m.subcategories[row.ParentID][name] = row.ID
		}
	}

	return m
}

// Match returns the ids of category and, within it, subcategory. Either is
// nil when no category matches.
func (m *CategoryMatcher) Match(category, subcategory string) (categoryID, subcategoryID *string) {
	id, ok := m.categories[normalizeCategory(category)]
	if !ok {
		return nil, nil
	}
	categoryID = &id

	if subID, ok := m.subcategories[id][normalizeCategory(subcategory)]; ok {
		subcategoryID = &subID
	}
	return categoryID, subcategoryID
}

// normalizeCategory normalizes a category name for comparison.
func normalizeCategory(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
