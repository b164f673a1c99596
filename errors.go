package metavault

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNotFound is returned when a key, attribute or dataset does not exist
	ErrNotFound = errors.New("not found")

	// ErrDatasetExists is returned when creating over a dataset that already
	// exists and is not empty
	ErrDatasetExists = errors.New("dataset already exists and is not empty")

	// ErrEmptyCriteria is returned when a search is invoked with no criteria
	ErrEmptyCriteria = errors.New("empty search criteria")

	// ErrManualCommitRequired is returned when transaction control is invoked
	// on a store that is not in manual-commit mode
	ErrManualCommitRequired = errors.New("manual commit is not enabled")

	// ErrUnsupportedFormat is returned when an export/import path has an
	// extension other than .jsonl, .json or .csv
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrStoreClosed is returned when trying to use a closed store
	ErrStoreClosed = errors.New("store is closed")

	// ErrSampleTooLarge is returned when a random subset is requested with
	// more entries than the collection holds
	ErrSampleTooLarge = errors.New("sample amount exceeds collection size")
)

// StoreError wraps errors with operation context
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("metavault: %v", e.Err)
	}
	return fmt.Sprintf("metavault: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
