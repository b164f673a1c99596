package metavault

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Schema evolution for datasets. Attribute columns are added lazily on
// write and only ever carry nullable TEXT; column removal rebuilds the
// table without the column, since the engine has no DROP COLUMN that
// preserves an arbitrary primary key layout across versions.

// columns returns the dataset's column names in table order, key column
// included.
func (d *Dataset) columns(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(d.name)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to read table info: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dflt             any
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table info: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// addColumn issues the additive schema change for one attribute
func (d *Dataset) addColumn(ctx context.Context, q querier, name string) error {
	query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", quoteIdent(d.name), quoteIdent(name))
	if _, err := q.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to add column %q: %w", name, err)
	}
	d.store.logger.Debug("column added", "dataset", d.name, "attribute", name)
	return nil
}

// ensureColumns adds a backing column for every attribute name not yet
// present. It is idempotent and issues no statements when nothing is
// missing.
func (d *Dataset) ensureColumns(ctx context.Context, q querier, names []string) error {
	if len(names) == 0 {
		return nil
	}
	existing, err := d.columns(ctx, q)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}
	for _, name := range names {
		if have[name] {
			continue
		}
		if err := d.addColumn(ctx, q, name); err != nil {
			return err
		}
		have[name] = true
	}
	return nil
}

// rebuildWithoutColumn replaces the table with a copy that lacks the
// given attribute column: create replacement, copy every remaining
// column, drop the original, rename the replacement into place. In
// auto-commit mode the whole sequence runs in one native transaction, so
// a crash mid-rebuild cannot lose the table; in manual-commit mode it is
// part of the caller's open unit of work.
func (d *Dataset) rebuildWithoutColumn(ctx context.Context, attribute string) error {
	q, done, err := d.store.txn(ctx)
	if err != nil {
		return err
	}
	return done(d.rebuildWithoutColumnOn(ctx, q, attribute))
}

func (d *Dataset) rebuildWithoutColumnOn(ctx context.Context, q querier, attribute string) error {
	existing, err := d.columns(ctx, q)
	if err != nil {
		return err
	}

	keyColumn := d.store.config.KeyColumn
	remaining := make([]string, 0, len(existing))
	found := false
	for _, name := range existing {
		if name == attribute {
			found = true
			continue
		}
		if name != keyColumn {
			remaining = append(remaining, name)
		}
	}
	if !found {
		return fmt.Errorf("attribute %q: %w", attribute, ErrNotFound)
	}

	tmp := "metavault_rebuild_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (%s TEXT PRIMARY KEY", quoteIdent(tmp), quoteIdent(keyColumn))
	for _, name := range remaining {
		fmt.Fprintf(&b, ", %s TEXT", quoteIdent(name))
	}
	b.WriteString(")")
	if _, err := q.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("failed to create replacement table: %w", err)
	}

	kept := make([]string, 0, len(remaining)+1)
	kept = append(kept, quoteIdent(keyColumn))
	for _, name := range remaining {
		kept = append(kept, quoteIdent(name))
	}
	copySQL := fmt.Sprintf("INSERT INTO %s SELECT %s FROM %s",
		quoteIdent(tmp), strings.Join(kept, ", "), quoteIdent(d.name))
	if _, err := q.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("failed to copy rows: %w", err)
	}

	if _, err := q.ExecContext(ctx, "DROP TABLE "+quoteIdent(d.name)); err != nil {
		return fmt.Errorf("failed to drop original table: %w", err)
	}
	renameSQL := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(tmp), quoteIdent(d.name))
	if _, err := q.ExecContext(ctx, renameSQL); err != nil {
		return fmt.Errorf("failed to rename replacement table: %w", err)
	}

	d.store.logger.Info("attribute removed", "dataset", d.name, "attribute", attribute)
	return nil
}
