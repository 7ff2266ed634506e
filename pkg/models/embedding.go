package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SourceKind identifies the analyzed unit an embedding was generated from.
type SourceKind string

const (
	SourceFile     SourceKind = "file"
	SourceFunction SourceKind = "function"
	SourcePattern  SourceKind = "pattern"
)

// Valid reports whether the kind is a known value.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceFile, SourceFunction, SourcePattern:
		return true
	}
	return false
}

// IndexState tracks an embedding's progress through the asynchronous ANN
// index build.
type IndexState string

const (
	IndexPending IndexState = "pending"
	IndexIndexed IndexState = "indexed"
	IndexFailed  IndexState = "failed"
)

// Embedding is a stored vector for a unit of analyzed code. The dimension is
// fixed per model; the content hash makes re-insertion idempotent.
type Embedding struct {
	ID          int64      `json:"id"`
	ProjectID   string     `json:"project_id"`
	SourceKind  SourceKind `json:"source_kind"`
	SourcePath  string     `json:"source_path"`
	Model       string     `json:"model"`
	ContentHash string     `json:"content_hash"`
	Vector      []float32  `json:"-"`
	IndexState  IndexState `json:"index_state"`
	CreatedAt   time.Time  `json:"created_at"`
}

// HashContent returns the deterministic fingerprint used for duplicate
// detection on insert.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
