package trace

// ============================================================================
// Trace Error Definitions
// ============================================================================

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed indicates the trace log is closed
	ErrClosed = errors.New("trace: already closed")

	// ErrInvalidBufferSize indicates a non-positive buffer size
	ErrInvalidBufferSize = errors.New("trace: buffer size must be positive")
)

// ChecksumError represents a record whose checksum does not match its content
type ChecksumError struct {
	Seq      uint64 // Sequence number of the failed record
	Expected uint32 // Checksum recomputed from content
	Actual   uint32 // Checksum stored in the record
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("trace: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)", e.Seq, e.Expected, e.Actual)
}

// CorruptionError represents a line that cannot be decoded
type CorruptionError struct {
	Line  int   // 1-based line number in the file
	Cause error // Underlying decode error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("trace: corrupted record at line %d: %v", e.Line, e.Cause)
}

func (e *CorruptionError) Unwrap() error {
	return e.Cause
}
