package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound           = errors.New("not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrValidation         = errors.New("validation failed")
)

// EmbeddingError indicates the embedding provider could not produce a vector.
// Always recoverable: callers fail open (cache miss, metric fallback) rather
// than aborting their primary operation.
type EmbeddingError struct {
	Message string
	Err     error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("embedding: %s", e.Message)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// DimensionMismatchError indicates two vectors of different lengths were
// compared.
type DimensionMismatchError struct {
	LenA int
	LenB int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: %d != %d", e.LenA, e.LenB)
}

// StateError indicates session state the control loop could not execute.
// The router itself falls back to safe defaults on unknown phases and
// actions; a routed node with no registered implementation surfaces as
// this error from the session loop.
type StateError struct {
	Phase   string
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state error in phase %q: %s", e.Phase, e.Message)
}

// StorageError indicates a checkpoint or cache backend failure. Mid-session
// checkpoint errors propagate to the caller; cache errors are absorbed at
// the call site.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
