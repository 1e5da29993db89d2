package types

import (
	"context"
	"errors"
	"fmt"
)

// Error categories. Every typed error below matches exactly one of these
// through errors.Is.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrEmbeddingService = errors.New("embedding service error")
	ErrStorage          = errors.New("storage error")
	ErrCorruption       = errors.New("data corruption")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DimensionMismatchError reports a vector whose length differs from the
// configured embedding width. It is a validation error and never retried.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: want %d, got %d", e.Want, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrValidation }

type EmbeddingServiceError struct {
	Attempts int
	Err      error
}

func (e *EmbeddingServiceError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("embedding service failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("embedding service failed: %v", e.Err)
}

func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

func (e *EmbeddingServiceError) Is(target error) bool { return target == ErrEmbeddingService }

type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// CorruptionError reports a persisted embedding whose width disagrees with
// the embedder contract.
type CorruptionError struct {
	ChunkID int64
	Want    int
	Got     int
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("chunk %d: stored embedding has %d dimensions, want %d", e.ChunkID, e.Got, e.Want)
}

func (e *CorruptionError) Is(target error) bool { return target == ErrCorruption }

// Retriable reports whether err is worth another embedding attempt.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrCorruption) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
