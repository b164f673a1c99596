package metavault

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// All statements go through it so that manual-commit mode can route every
// operation onto one shared unit of work.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Store owns the backing SQLite connection and the registry of dataset
// names. One store instance shares a single connection across every
// dataset derived from it; concurrent use from multiple goroutines is the
// caller's responsibility.
type Store struct {
	db     *sql.DB
	config Config
	logger Logger

	mu     sync.Mutex
	tx     *sql.Tx // open unit of work in manual-commit mode
	closed bool
}

// Open creates a store for the SQLite database at path with default
// configuration. Call Init before use.
func Open(path string) (*Store, error) {
	config := DefaultConfig()
	config.Path = path
	return OpenWithConfig(config)
}

// OpenWithConfig creates a store with custom configuration. Call Init
// before use.
func OpenWithConfig(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, wrapError("open", fmt.Errorf("database path cannot be empty"))
	}
	if config.KeyColumn == "" {
		config.KeyColumn = DefaultKeyColumn
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = DefaultConfig().BusyTimeout
	}
	if config.Logger == nil {
		config.Logger = NewStdLogger(LevelWarn)
	}

	return &Store{
		config: config,
		logger: config.Logger,
	}, nil
}

// Init opens the database connection
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("init", ErrStoreClosed)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)",
		s.config.Path, s.config.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return wrapError("init", fmt.Errorf("failed to open database: %w", err))
	}

	// One connection only: datasets share a single unit of work and the
	// manual-commit transaction must see every statement.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return wrapError("init", fmt.Errorf("failed to reach database: %w", err))
	}

	s.db = db
	return nil
}

// Close releases the backing connection. An uncommitted manual-commit
// unit of work is rolled back.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// conn returns the querier every statement should run on: the shared
// transaction in manual-commit mode (lazily begun), the database
// otherwise.
func (s *Store) conn(ctx context.Context) (querier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if !s.config.ManualCommit {
		return s.db, nil
	}
	if s.tx == nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to begin unit of work: %w", err)
		}
		s.tx = tx
	}
	return s.tx, nil
}

// txn returns a querier for a multi-statement operation together with a
// done function. In auto-commit mode a fresh transaction is begun and
// done commits it (or rolls back on error), so the operation is atomic
// and durable as one unit. In manual-commit mode the shared unit of work
// is reused and done is a passthrough; the caller's Commit decides.
func (s *Store) txn(ctx context.Context) (querier, func(error) error, error) {
	if s.config.ManualCommit {
		q, err := s.conn(ctx)
		if err != nil {
			return nil, nil, err
		}
		return q, func(err error) error { return err }, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrStoreClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	done := func(opErr error) error {
		if opErr != nil {
			_ = tx.Rollback()
			return opErr
		}
		return tx.Commit()
	}
	return tx, done, nil
}

// Begin starts a restore point for risky operations that might need
// rolling back. Only valid in manual-commit mode.
func (s *Store) Begin(ctx context.Context) error {
	if !s.config.ManualCommit {
		return wrapError("begin", ErrManualCommitRequired)
	}
	_, err := s.conn(ctx)
	return wrapError("begin", err)
}

// Commit makes every statement since the last boundary durable. In
// auto-commit mode, or when nothing is pending, it is a no-op.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("commit", ErrStoreClosed)
	}
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return wrapError("commit", err)
	}
	return nil
}

// Rollback discards every statement since the last boundary. Only valid
// in manual-commit mode.
func (s *Store) Rollback() error {
	if !s.config.ManualCommit {
		return wrapError("rollback", ErrManualCommitRequired)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("rollback", ErrStoreClosed)
	}
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil {
		return wrapError("rollback", err)
	}
	return nil
}

// KeyColumn returns the name of the identifying key column
func (s *Store) KeyColumn() string {
	return s.config.KeyColumn
}

// Datasets returns the names of all datasets in the store
func (s *Store) Datasets(ctx context.Context) ([]string, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, wrapError("datasets", err)
	}

	rows, err := q.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY rowid")
	if err != nil {
		return nil, wrapError("datasets", fmt.Errorf("failed to list tables: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapError("datasets", fmt.Errorf("failed to scan table name: %w", err))
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("datasets", err)
	}
	return names, nil
}

// HasDataset reports whether a dataset with the given name exists
func (s *Store) HasDataset(ctx context.Context, name string) (bool, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return false, wrapError("has_dataset", err)
	}

	var exists bool
	err = q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM sqlite_master WHERE type='table' AND name = ?)", name).Scan(&exists)
	if err != nil {
		return false, wrapError("has_dataset", err)
	}
	return exists, nil
}

// Len returns the number of datasets in the store
func (s *Store) Len(ctx context.Context) (int, error) {
	names, err := s.Datasets(ctx)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// CreateDataset creates a dataset with the given name and optional
// initial attribute columns. Creating an existing dataset is a no-op
// that returns its handle.
func (s *Store) CreateDataset(ctx context.Context, name string, attributes ...string) (*Dataset, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, wrapError("create_dataset", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY",
		quoteIdent(name), quoteIdent(s.config.KeyColumn))
	for _, attr := range attributes {
		fmt.Fprintf(&b, ", %s TEXT", quoteIdent(attr))
	}
	b.WriteString(")")

	if _, err := q.ExecContext(ctx, b.String()); err != nil {
		return nil, wrapError("create_dataset", fmt.Errorf("failed to create table: %w", err))
	}

	s.logger.Debug("dataset created", "dataset", name, "attributes", len(attributes))
	return &Dataset{store: s, name: name}, nil
}

// RemoveDataset drops a dataset and all of its entries. Removing a
// dataset that does not exist is not an error.
func (s *Store) RemoveDataset(ctx context.Context, name string) error {
	q, err := s.conn(ctx)
	if err != nil {
		return wrapError("remove_dataset", err)
	}
	if _, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		return wrapError("remove_dataset", fmt.Errorf("failed to drop table: %w", err))
	}
	s.logger.Debug("dataset removed", "dataset", name)
	return nil
}

// Dataset returns a handle for an existing dataset. It fails with
// ErrNotFound when no dataset with that name exists.
func (s *Store) Dataset(ctx context.Context, name string) (*Dataset, error) {
	exists, err := s.HasDataset(ctx, name)
	if err != nil {
		return nil, wrapError("dataset", err)
	}
	if !exists {
		return nil, wrapError("dataset", fmt.Errorf("dataset %q: %w", name, ErrNotFound))
	}
	return &Dataset{store: s, name: name}, nil
}

// PutDataset creates a dataset from a collection in one shot. It fails
// with ErrDatasetExists when the dataset already exists and is not
// empty; an existing empty dataset is replaced. Clear or remove the
// dataset first to overwrite.
func (s *Store) PutDataset(ctx context.Context, name string, collection *Collection) (*Dataset, error) {
	exists, err := s.HasDataset(ctx, name)
	if err != nil {
		return nil, wrapError("put_dataset", err)
	}
	if exists {
		ds := &Dataset{store: s, name: name}
		empty, err := ds.IsEmpty(ctx)
		if err != nil {
			return nil, wrapError("put_dataset", err)
		}
		if !empty {
			return nil, wrapError("put_dataset", fmt.Errorf("dataset %q: %w", name, ErrDatasetExists))
		}
		if err := s.RemoveDataset(ctx, name); err != nil {
			return nil, wrapError("put_dataset", err)
		}
	}

	ds, err := s.CreateDataset(ctx, name, attributeUnion(collection)...)
	if err != nil {
		return nil, wrapError("put_dataset", err)
	}
	if err := ds.BatchInsert(ctx, collection); err != nil {
		return nil, wrapError("put_dataset", err)
	}
	return ds, nil
}

// attributeUnion returns the attribute names across all entries of a
// collection, in first-encountered order.
func attributeUnion(collection *Collection) []string {
	if collection == nil {
		return nil
	}
	var names []string
	seen := make(map[string]bool)
	for _, key := range collection.Keys() {
		entry, _ := collection.Get(key)
		for _, name := range entryAttributeNames(entry) {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// quoteIdent quotes a SQL identifier, escaping embedded quotes
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
