package csvimport

import "strings"

// Column is a logical CSV column the importer understands.
type Column string

const (
	ColumnDate        Column = "date"
	ColumnDescription Column = "description"
	ColumnAmount      Column = "amount"
	ColumnBalance     Column = "balance"
	ColumnCurrency    Column = "currency"
)

// columnSynonyms lists, per logical column, the substrings accepted in a
// lowercased header. Headers are scanned left to right; the first header that
// contains any synonym wins.
var columnSynonyms = []struct {
	column   Column
	synonyms []string
}{
	{ColumnDate, []string{"date", "transaction date", "trans date"}},
	{ColumnDescription, []string{"description", "desc", "memo", "details"}},
	{ColumnAmount, []string{"amount", "value", "debit", "credit"}},
	{ColumnBalance, []string{"balance", "running balance"}},
	{ColumnCurrency, []string{"currency", "ccy"}},
}

// ColumnMap holds the resolved index of each logical column, -1 when absent.
type ColumnMap map[Column]int

// Index returns the position of c, or -1.
func (m ColumnMap) Index(c Column) int {
	if i, ok := m[c]; ok {
		return i
	}
	return -1
}

// ResolveColumns maps logical columns onto header positions. Resolution is
// best-effort and never fails; missing columns resolve to -1.
func ResolveColumns(header []string) ColumnMap {
	m := make(ColumnMap, len(columnSynonyms))
	for _, entry := range columnSynonyms {
		m[entry.column] = findColumn(header, entry.synonyms)
	}
	return m
}

func findColumn(header []string, synonyms []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, s := range synonyms {
			if strings.Contains(h, s) {
				return i
			}
		}
	}
	return -1
}
