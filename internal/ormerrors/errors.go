// Package ormerrors defines the error taxonomy shared by every layer of the
// ORM and sync engine. Each kind has a package-level sentinel for
// errors.Is checks plus a concrete type carrying structured fields for
// callers that want more than a string.
package ormerrors

import (
	"errors"
	"fmt"
)

var (
	ErrColumnMutationNotSupported = errors.New("column mutation not supported")
	ErrConstraintChange           = errors.New("constraint change not supported")
	ErrAmbiguousRename            = errors.New("ambiguous rename: missing renamedFrom")
	ErrMissingRequiredColumns     = errors.New("missing required columns")
	ErrAuthorizationDenied        = errors.New("authorization denied")
	ErrDriver                     = errors.New("driver error")
	ErrAnalyzerParse              = errors.New("sql analyzer parse error")
	ErrNetwork                    = errors.New("network error")
	ErrConflictRejection          = errors.New("batch rejected")
	ErrValidation                 = errors.New("validation error")
)

// SchemaMigrationError reports a disallowed schema change detected while
// diffing two snapshots.
type SchemaMigrationError struct {
	Table   string
	Column  string
	Sub     error // one of ErrColumnMutationNotSupported, ErrConstraintChange, ErrAmbiguousRename
	Detail  string
}

func (e *SchemaMigrationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema migration: %s.%s: %s: %s", e.Table, e.Column, e.Sub, e.Detail)
	}
	return fmt.Sprintf("schema migration: %s: %s: %s", e.Table, e.Sub, e.Detail)
}

func (e *SchemaMigrationError) Unwrap() error { return e.Sub }

// MissingRequiredColumnsError names the required columns that were absent
// from an Insert call.
type MissingRequiredColumnsError struct {
	Table   string
	Columns []string
}

func (e *MissingRequiredColumnsError) Error() string {
	return fmt.Sprintf("insert into %s: missing required columns: %v", e.Table, e.Columns)
}

func (e *MissingRequiredColumnsError) Unwrap() error { return ErrMissingRequiredColumns }

// AuthorizationDeniedError records the table and rule index that rejected
// an operation.
type AuthorizationDeniedError struct {
	Table    string
	RuleIdx  int
	Reason   string
}

func (e *AuthorizationDeniedError) Error() string {
	return fmt.Sprintf("authorization denied on %s (rule %d): %s", e.Table, e.RuleIdx, e.Reason)
}

func (e *AuthorizationDeniedError) Unwrap() error { return ErrAuthorizationDenied }

// DriverError wraps a failure surfaced by the underlying SQLite engine.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string { return fmt.Sprintf("driver: %s: %v", e.Op, e.Err) }
func (e *DriverError) Unwrap() error { return e.Err }

// AnalyzerParseError wraps a SQL text the analyzer could not parse.
type AnalyzerParseError struct {
	SQL string
	Err error
}

func (e *AnalyzerParseError) Error() string {
	return fmt.Sprintf("analyzer: cannot parse sql: %v (sql=%q)", e.Err, e.SQL)
}

func (e *AnalyzerParseError) Unwrap() error { return errors.Join(ErrAnalyzerParse, e.Err) }

// NetworkError is the distinguished retryable remote-call failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network: %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return errors.Join(ErrNetwork, e.Err) }

// ConflictRejectionError records why the server rejected a mutation batch.
type ConflictRejectionError struct {
	BatchID string
	Reason  string
}

func (e *ConflictRejectionError) Error() string {
	return fmt.Sprintf("batch %s rejected: %s", e.BatchID, e.Reason)
}

func (e *ConflictRejectionError) Unwrap() error { return ErrConflictRejection }

// ValidationError wraps a failure from a host-supplied Validator[T].
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return errors.Join(ErrValidation, e.Err) }
