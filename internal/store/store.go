// Package store persists task records as flat field maps so that a running
// job can update a single field (progress, status) without rewriting the
// whole record.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a task has no record in the store.
var ErrNotFound = errors.New("task not found")

// Record is the field map of one task.
type Record = map[string]string

// TaskStore is the shared key/value store holding task records. Every write
// of one or more fields is applied atomically.
type TaskStore interface {
	// Set writes one field of a task record, creating the record if needed.
	Set(ctx context.Context, taskID, field, value string) error
	// SetFields writes several fields of a task record.
	SetFields(ctx context.Context, taskID string, fields map[string]string) error
	// SetFieldsUnless writes fields only while the current value of guard
	// is not one of blocked. The check and the write are one atomic step,
	// also across processes sharing the backend. It reports whether the
	// write happened, and returns ErrNotFound for a missing record.
	SetFieldsUnless(ctx context.Context, taskID, guard string, blocked []string, fields map[string]string) (bool, error)
	// Get returns every field of a task record or ErrNotFound.
	Get(ctx context.Context, taskID string) (Record, error)
	Exists(ctx context.Context, taskID string) (bool, error)
	// List returns all known task ids in creation order where the backend
	// can tell, sorted otherwise.
	List(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
