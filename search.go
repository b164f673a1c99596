package metavault

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/diontimmer/metavault/internal/encoding"
)

// Predicate is one per-attribute condition of a criteria search. Exactly
// one of the fields should be set per predicate.
type Predicate struct {
	// Exact matches entries whose attribute equals the value
	Exact any
	// Like matches entries whose attribute contains the substring
	Like string
	// Range matches entries whose attribute falls inside the inclusive
	// two-element bound; comparison is numeric or lexical per the
	// engine's affinity rules
	Range []any
	// Exists matches entries whose attribute is non-null
	Exists bool
}

// Criteria maps attribute names to predicates. Multiple criteria are
// combined with logical AND.
type Criteria map[string]Predicate

// Search runs a criteria search and returns the matching entries as a
// collection, attribute values decoded. It fails with ErrEmptyCriteria
// when no criteria are given; a criterion naming a column that does not
// exist surfaces the engine's error.
//
// Example:
//
//	results, err := ds.Search(ctx, metavault.Criteria{
//		"name": {Like: "John"},
//		"age":  {Range: []any{25, 30}},
//	})
func (d *Dataset) Search(ctx context.Context, criteria Criteria) (*Collection, error) {
	if len(criteria) == 0 {
		return nil, wrapError("search", ErrEmptyCriteria)
	}

	var conditions []string
	var args []any

	names := make([]string, 0, len(criteria))
	for name := range criteria {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		predicate := criteria[name]
		column := quoteIdent(name)
		matched := false

		if predicate.Exact != nil {
			value, err := encoding.EncodeValue(predicate.Exact)
			if err != nil {
				return nil, wrapError("search", err)
			}
			conditions = append(conditions, column+" = ?")
			args = append(args, value)
			matched = true
		}
		if predicate.Like != "" {
			conditions = append(conditions, column+" LIKE ?")
			args = append(args, "%"+predicate.Like+"%")
			matched = true
		}
		if predicate.Range != nil {
			if len(predicate.Range) != 2 {
				return nil, wrapError("search", fmt.Errorf("range for %q must have exactly two bounds", name))
			}
			low, err := encoding.EncodeValue(predicate.Range[0])
			if err != nil {
				return nil, wrapError("search", err)
			}
			high, err := encoding.EncodeValue(predicate.Range[1])
			if err != nil {
				return nil, wrapError("search", err)
			}
			conditions = append(conditions, column+" BETWEEN ? AND ?")
			args = append(args, low, high)
			matched = true
		}
		if predicate.Exists {
			conditions = append(conditions, column+" IS NOT NULL")
			matched = true
		}
		if !matched {
			return nil, wrapError("search", fmt.Errorf("predicate for %q: %w", name, ErrEmptyCriteria))
		}
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY rowid",
		quoteIdent(d.name), strings.Join(conditions, " AND "))

	q, err := d.store.conn(ctx)
	if err != nil {
		return nil, wrapError("search", err)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError("search", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, wrapError("search", err)
	}

	results := NewCollection()
	results.SetLogger(d.store.logger)
	for rows.Next() {
		key, entry, err := d.scanEntry(rows, columns)
		if err != nil {
			return nil, wrapError("search", err)
		}
		results.Set(key, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("search", err)
	}
	return results, nil
}
