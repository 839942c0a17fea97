package vcdiagram

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformedDocument = errors.New("malformed diagram document")
	ErrNotFound          = errors.New("search pattern not found")
	ErrAmbiguousMatch    = errors.New("search pattern matches more than once")
	ErrEmptySearch       = errors.New("search pattern is empty")
	ErrExportTimeout     = errors.New("diagram export timed out")
	ErrConcurrentExport  = errors.New("diagram export already in progress")
	ErrHistoryIndex      = errors.New("history index out of range")
)

// MalformedDocumentError means the input held no recoverable diagram structure.
// Callers treat it as "no update".
type MalformedDocumentError struct {
	Offset int // byte offset where scanning gave up, -1 if not positional
	Reason string
}

func (e *MalformedDocumentError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%v: %s (at byte %d)", ErrMalformedDocument, e.Reason, e.Offset)
	}
	return fmt.Sprintf("%v: %s", ErrMalformedDocument, e.Reason)
}

func (e *MalformedDocumentError) Unwrap() error { return ErrMalformedDocument }

// EditError reports the operation that aborted a patch batch.
type EditError struct {
	Index       int    // zero-based index of the failing operation
	Total       int    // operations in the batch
	Applied     int    // operations that succeeded before the failure
	Search      string // the failing search pattern
	Occurrences int    // matches found for Search (0 or 2+, capped at 2)
	Err         error  // ErrNotFound, ErrAmbiguousMatch or ErrEmptySearch
}

func (e *EditError) Error() string {
	return fmt.Sprintf("edit %d of %d: %v (%d edit(s) would have succeeded before it): %q",
		e.Index+1, e.Total, e.Err, e.Applied, truncate(e.Search, 120))
}

func (e *EditError) Unwrap() error { return e.Err }

// ExportTimeoutError is returned when the rendering surface does not answer in time.
type ExportTimeoutError struct {
	RequestID string
	After     time.Duration
}

func (e *ExportTimeoutError) Error() string {
	return fmt.Sprintf("%v after %s", ErrExportTimeout, e.After)
}

func (e *ExportTimeoutError) Unwrap() error { return ErrExportTimeout }

// ConcurrentExportError rejects an export while another one is pending.
type ConcurrentExportError struct {
	PendingID string
}

func (e *ConcurrentExportError) Error() string {
	return fmt.Sprintf("%v (pending request %s)", ErrConcurrentExport, e.PendingID)
}

func (e *ConcurrentExportError) Unwrap() error { return ErrConcurrentExport }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
