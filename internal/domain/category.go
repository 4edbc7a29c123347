package domain

import "github.com/google/uuid"

// CategoryType separates expense and income taxonomies.
type CategoryType string

const (
	CategoryExpense CategoryType = "EXPENSE"
	CategoryIncome  CategoryType = "INCOME"
)

// Category is a read-only view of a user's category. ParentID is empty for
// top-level categories.
type Category struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	ParentID string       `json:"parentId,omitempty"`
	Type     CategoryType `json:"type"`
	UserID   string       `json:"userId,omitempty"`
}

var categoryNamespace = uuid.MustParse("6f1c1c1e-8a4f-4c1b-9a53-2f1d3c7e0a10")

// CategoryID returns a stable id for a global category, so reseeding is idempotent.
func CategoryID(parent, name string) string {
	return uuid.NewSHA1(categoryNamespace, []byte(parent+"/"+name)).String()
}

// defaultTaxonomy lists the global categories and their subcategories.
var defaultTaxonomy = []struct {
	name string
	kind CategoryType
	subs []string
}{
	{"Food", CategoryExpense, []string{"Groceries", "Restaurants", "Coffee"}},
	{"Transport", CategoryExpense, []string{"Fuel", "Public Transport", "Taxi", "Parking"}},
	{"Housing", CategoryExpense, []string{"Rent", "Utilities", "Maintenance"}},
	{"Shopping", CategoryExpense, []string{"Clothing", "Electronics", "Household"}},
	{"Health", CategoryExpense, []string{"Pharmacy", "Doctor"}},
	{"Entertainment", CategoryExpense, []string{"Subscriptions", "Events"}},
	{"Travel", CategoryExpense, []string{"Flights", "Hotels"}},
	{"Office", CategoryExpense, []string{"Software", "Supplies"}},
	{"Salary", CategoryIncome, nil},
	{"Refunds", CategoryIncome, nil},
}

// DefaultCategories returns the global seed taxonomy, parents before children.
func DefaultCategories() []Category {
	var out []Category
	for _, top := range defaultTaxonomy {
		parentID := CategoryID("", top.name)
		out = append(out, Category{ID: parentID, Name: top.name, Type: top.kind})
		for _, sub := range top.subs {
			out = append(out, Category{ID: CategoryID(top.name, sub), Name: sub, ParentID: parentID, Type: top.kind})
		}
	}
	return out
}
