package metavault

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/diontimmer/metavault/internal/encoding"
)

// Dataset is the table-level abstraction: one logical dataset is one
// table keyed by a unique key column plus any number of dynamic
// attribute columns. Attribute columns appear lazily as entries mention
// new attribute names; all of them are nullable TEXT.
type Dataset struct {
	store *Store
	name  string
}

// Name returns the dataset name
func (d *Dataset) Name() string {
	return d.name
}

// entryAttributeNames returns an entry's attribute names in sorted order
func entryAttributeNames(entry Entry) []string {
	names := make([]string, 0, len(entry))
	for name := range entry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// scanEntry reads one row into its key and decoded attribute bag.
// Column values that are NULL decode to nil.
func (d *Dataset) scanEntry(rows *sql.Rows, columns []string) (string, Entry, error) {
	values := make([]sql.NullString, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return "", nil, fmt.Errorf("failed to scan row: %w", err)
	}

	keyColumn := d.store.config.KeyColumn
	var key string
	entry := make(Entry, len(columns)-1)
	for i, column := range columns {
		if column == keyColumn {
			key = values[i].String
			continue
		}
		if values[i].Valid {
			entry[column] = encoding.DecodeValue(values[i].String)
		} else {
			entry[column] = nil
		}
	}
	return key, entry, nil
}

// Get returns the entry for key with every column's decoded value, nil
// for columns that are NULL for this row. It fails with ErrNotFound when
// the key is absent.
func (d *Dataset) Get(ctx context.Context, key string) (Entry, error) {
	q, err := d.store.conn(ctx)
	if err != nil {
		return nil, wrapError("get", err)
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", quoteIdent(d.name), quoteIdent(d.store.config.KeyColumn))
	rows, err := q.QueryContext(ctx, query, key)
	if err != nil {
		return nil, wrapError("get", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrapError("get", err)
		}
		return nil, wrapError("get", fmt.Errorf("no entry for key %q: %w", key, ErrNotFound))
	}
	columns, err := rows.Columns()
	if err != nil {
		return nil, wrapError("get", err)
	}
	_, entry, err := d.scanEntry(rows, columns)
	if err != nil {
		return nil, wrapError("get", err)
	}
	return entry, nil
}

// Set upserts the entry for key: attributes without a backing column get
// one added first, then the row is inserted or, when the key exists,
// every supplied column is overwritten. Columns not present in the entry
// are left untouched.
func (d *Dataset) Set(ctx context.Context, key string, entry Entry) error {
	q, done, err := d.store.txn(ctx)
	if err != nil {
		return wrapError("set", err)
	}
	return wrapError("set", done(d.setOn(ctx, q, key, entry)))
}

func (d *Dataset) setOn(ctx context.Context, q querier, key string, entry Entry) error {
	names := entryAttributeNames(entry)
	if err := d.ensureColumns(ctx, q, names); err != nil {
		return err
	}

	keyColumn := quoteIdent(d.store.config.KeyColumn)
	if len(names) == 0 {
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?) ON CONFLICT(%s) DO NOTHING",
			quoteIdent(d.name), keyColumn, keyColumn)
		_, err := q.ExecContext(ctx, query, key)
		return err
	}

	columns := make([]string, 0, len(names))
	assignments := make([]string, 0, len(names))
	args := make([]any, 0, len(names)+1)
	args = append(args, key)
	for _, name := range names {
		quoted := quoteIdent(name)
		columns = append(columns, quoted)
		assignments = append(assignments, fmt.Sprintf("%s=excluded.%s", quoted, quoted))
		value, err := encoding.EncodeValue(entry[name])
		if err != nil {
			return err
		}
		args = append(args, value)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?%s) ON CONFLICT(%s) DO UPDATE SET %s",
		quoteIdent(d.name), keyColumn, strings.Join(columns, ", "),
		strings.Repeat(", ?", len(columns)), keyColumn, strings.Join(assignments, ", "))
	_, err := q.ExecContext(ctx, query, args...)
	return err
}

// Delete removes the entry for key. Deleting an absent key is not an
// error.
func (d *Dataset) Delete(ctx context.Context, key string) error {
	q, err := d.store.conn(ctx)
	if err != nil {
		return wrapError("delete", err)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(d.name), quoteIdent(d.store.config.KeyColumn))
	if _, err := q.ExecContext(ctx, query, key); err != nil {
		return wrapError("delete", err)
	}
	return nil
}

// Contains reports whether an entry exists for key
func (d *Dataset) Contains(ctx context.Context, key string) (bool, error) {
	q, err := d.store.conn(ctx)
	if err != nil {
		return false, wrapError("contains", err)
	}
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE %s = ?)",
		quoteIdent(d.name), quoteIdent(d.store.config.KeyColumn))
	var exists bool
	if err := q.QueryRowContext(ctx, query, key).Scan(&exists); err != nil {
		return false, wrapError("contains", err)
	}
	return exists, nil
}

// Count returns the number of entries in the dataset
func (d *Dataset) Count(ctx context.Context) (int, error) {
	q, err := d.store.conn(ctx)
	if err != nil {
		return 0, wrapError("count", err)
	}
	var count int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(d.name)).Scan(&count); err != nil {
		return 0, wrapError("count", err)
	}
	return count, nil
}

// IsEmpty reports whether the dataset has no entries
func (d *Dataset) IsEmpty(ctx context.Context) (bool, error) {
	count, err := d.Count(ctx)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// Iterate streams every entry to fn in insertion order, reading a fresh
// snapshot from storage. Iteration stops at the first error fn returns.
// The backing connection is held for the duration of the pass, so fn
// must not call back into the store.
func (d *Dataset) Iterate(ctx context.Context, fn func(key string, entry Entry) error) error {
	q, err := d.store.conn(ctx)
	if err != nil {
		return wrapError("iterate", err)
	}
	rows, err := q.QueryContext(ctx, "SELECT * FROM "+quoteIdent(d.name)+" ORDER BY rowid")
	if err != nil {
		return wrapError("iterate", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return wrapError("iterate", err)
	}
	for rows.Next() {
		key, entry, err := d.scanEntry(rows, columns)
		if err != nil {
			return wrapError("iterate", err)
		}
		if err := fn(key, entry); err != nil {
			return err
		}
	}
	return wrapError("iterate", rows.Err())
}

// Keys returns every key in insertion order
func (d *Dataset) Keys(ctx context.Context) ([]string, error) {
	q, err := d.store.conn(ctx)
	if err != nil {
		return nil, wrapError("keys", err)
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", quoteIdent(d.store.config.KeyColumn), quoteIdent(d.name))
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapError("keys", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, wrapError("keys", err)
		}
		keys = append(keys, key)
	}
	return keys, wrapError("keys", rows.Err())
}

// Attributes returns the dataset's attribute names in column order,
// without the key column.
func (d *Dataset) Attributes(ctx context.Context) ([]string, error) {
	q, err := d.store.conn(ctx)
	if err != nil {
		return nil, wrapError("attributes", err)
	}
	columns, err := d.columns(ctx, q)
	if err != nil {
		return nil, wrapError("attributes", err)
	}
	attrs := make([]string, 0, len(columns))
	for _, name := range columns {
		if name != d.store.config.KeyColumn {
			attrs = append(attrs, name)
		}
	}
	return attrs, nil
}

// AddAttribute adds an empty nullable attribute column. Adding an
// attribute that already exists is an observable no-op, not an error.
func (d *Dataset) AddAttribute(ctx context.Context, name string) error {
	q, err := d.store.conn(ctx)
	if err != nil {
		return wrapError("add_attribute", err)
	}
	existing, err := d.columns(ctx, q)
	if err != nil {
		return wrapError("add_attribute", err)
	}
	for _, column := range existing {
		if column == name {
			d.store.logger.Info("attribute already exists", "dataset", d.name, "attribute", name)
			return nil
		}
	}
	return wrapError("add_attribute", d.addColumn(ctx, q, name))
}

// RemoveAttribute removes an attribute column and every value stored
// under it by rebuilding the table. This is irreversible and costs a
// full copy of the dataset. It fails with ErrNotFound when the
// attribute does not exist.
func (d *Dataset) RemoveAttribute(ctx context.Context, name string) error {
	return wrapError("remove_attribute", d.rebuildWithoutColumn(ctx, name))
}

// BatchInsert writes every entry of the collection in one unit of work;
// this is the fast path for bulk writes. The backing column set is the
// union of attribute names across all entries. Unlike Set, rows are
// replaced whole: attributes absent from an entry become NULL for that
// row when it replaces an existing one. An empty collection is a no-op.
func (d *Dataset) BatchInsert(ctx context.Context, collection *Collection) error {
	if collection == nil || collection.IsEmpty() {
		return nil
	}

	q, done, err := d.store.txn(ctx)
	if err != nil {
		return wrapError("batch_insert", err)
	}
	return wrapError("batch_insert", done(d.batchInsertOn(ctx, q, collection)))
}

func (d *Dataset) batchInsertOn(ctx context.Context, q querier, collection *Collection) error {
	names := attributeUnion(collection)
	if err := d.ensureColumns(ctx, q, names); err != nil {
		return err
	}

	columns := make([]string, 0, len(names)+1)
	columns = append(columns, quoteIdent(d.store.config.KeyColumn))
	for _, name := range names {
		columns = append(columns, quoteIdent(name))
	}
	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (?%s)",
		quoteIdent(d.name), strings.Join(columns, ", "), strings.Repeat(", ?", len(names)))

	stmt, err := q.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, key := range collection.Keys() {
		entry, _ := collection.Get(key)
		args := make([]any, 0, len(names)+1)
		args = append(args, key)
		for _, name := range names {
			value, ok := entry[name]
			if !ok {
				args = append(args, nil)
				continue
			}
			encoded, err := encoding.EncodeValue(value)
			if err != nil {
				return fmt.Errorf("key %q attribute %q: %w", key, name, err)
			}
			args = append(args, encoded)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert key %q: %w", key, err)
		}
	}
	return nil
}

// Clear removes every entry but keeps the dataset and its columns
func (d *Dataset) Clear(ctx context.Context) error {
	q, err := d.store.conn(ctx)
	if err != nil {
		return wrapError("clear", err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM "+quoteIdent(d.name)); err != nil {
		return wrapError("clear", err)
	}
	return nil
}

// All materializes the whole dataset into a collection
func (d *Dataset) All(ctx context.Context) (*Collection, error) {
	collection := NewCollection()
	collection.SetLogger(d.store.logger)
	err := d.Iterate(ctx, func(key string, entry Entry) error {
		collection.Set(key, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return collection, nil
}

// Values returns every attribute bag without its key, in storage order
func (d *Dataset) Values(ctx context.Context) ([]Entry, error) {
	var values []Entry
	err := d.Iterate(ctx, func(_ string, entry Entry) error {
		values = append(values, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// SubsetByKey materializes the dataset and keeps only the given keys
func (d *Dataset) SubsetByKey(ctx context.Context, keys []string) (*Collection, error) {
	all, err := d.All(ctx)
	if err != nil {
		return nil, err
	}
	return all.SubsetByKey(keys), nil
}

// SubsetByAmount materializes the dataset and slices it; see
// Collection.SubsetByAmount.
func (d *Dataset) SubsetByAmount(ctx context.Context, amount, start int, reverse bool) (*Collection, error) {
	all, err := d.All(ctx)
	if err != nil {
		return nil, err
	}
	return all.SubsetByAmount(amount, start, reverse), nil
}

// SubsetByRandom materializes the dataset and samples it; see
// Collection.SubsetByRandom.
func (d *Dataset) SubsetByRandom(ctx context.Context, amount int) (*Collection, error) {
	all, err := d.All(ctx)
	if err != nil {
		return nil, err
	}
	return all.SubsetByRandom(amount)
}

// Union merges every entry of other into this dataset: the combined
// collection is computed in memory (other's entries winning on shared
// keys) and batch-written back.
func (d *Dataset) Union(ctx context.Context, other *Dataset) error {
	current, err := d.All(ctx)
	if err != nil {
		return wrapError("union", err)
	}
	incoming, err := other.All(ctx)
	if err != nil {
		return wrapError("union", err)
	}
	current.Merge(incoming)
	return wrapError("union", d.BatchInsert(ctx, current))
}

// Subtract removes from this dataset every key present in other: the
// reduced set is computed in memory, the table is cleared and rewritten.
func (d *Dataset) Subtract(ctx context.Context, other *Dataset) error {
	current, err := d.All(ctx)
	if err != nil {
		return wrapError("subtract", err)
	}
	keys, err := other.Keys(ctx)
	if err != nil {
		return wrapError("subtract", err)
	}
	current.RemoveItems(keys)
	if err := d.Clear(ctx); err != nil {
		return wrapError("subtract", err)
	}
	return wrapError("subtract", d.BatchInsert(ctx, current))
}

// GetAttribute returns one decoded attribute value for key. It fails
// with ErrNotFound when the key is absent or the attribute has no
// backing column.
func (d *Dataset) GetAttribute(ctx context.Context, key, name string) (any, error) {
	entry, err := d.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	value, ok := entry[name]
	if !ok {
		return nil, wrapError("get_attribute", fmt.Errorf("attribute %q: %w", name, ErrNotFound))
	}
	return value, nil
}

// SetAttribute upserts a single attribute value for key, leaving every
// other column untouched.
func (d *Dataset) SetAttribute(ctx context.Context, key, name string, value any) error {
	return d.Set(ctx, key, Entry{name: value})
}

// ReplaceInAttribute substring-replaces old with new in every
// string-typed stored value of one attribute. It fails with ErrNotFound
// when the attribute does not exist.
func (d *Dataset) ReplaceInAttribute(ctx context.Context, name, old, new string) error {
	q, done, err := d.store.txn(ctx)
	if err != nil {
		return wrapError("replace_in_attribute", err)
	}
	return wrapError("replace_in_attribute", done(d.replaceInAttributeOn(ctx, q, name, old, new)))
}

func (d *Dataset) replaceInAttributeOn(ctx context.Context, q querier, name, old, new string) error {
	existing, err := d.columns(ctx, q)
	if err != nil {
		return err
	}
	found := false
	for _, column := range existing {
		if column == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("attribute %q: %w", name, ErrNotFound)
	}

	query := fmt.Sprintf("SELECT rowid, %s FROM %s", quoteIdent(name), quoteIdent(d.name))
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return err
	}

	// Materialize before updating: the single shared connection cannot
	// execute statements while rows are open.
	type update struct {
		rowid int64
		value string
	}
	var updates []update
	for rows.Next() {
		var rowid int64
		var value sql.NullString
		if err := rows.Scan(&rowid, &value); err != nil {
			_ = rows.Close()
			return err
		}
		if !value.Valid || !strings.Contains(value.String, old) {
			continue
		}
		updates = append(updates, update{rowid, strings.ReplaceAll(value.String, old, new)})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	updateSQL := fmt.Sprintf("UPDATE %s SET %s = ? WHERE rowid = ?", quoteIdent(d.name), quoteIdent(name))
	for _, u := range updates {
		if _, err := q.ExecContext(ctx, updateSQL, u.value, u.rowid); err != nil {
			return err
		}
	}
	d.store.logger.Debug("attribute values replaced", "dataset", d.name, "attribute", name, "rows", len(updates))
	return nil
}
