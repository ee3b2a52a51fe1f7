package catalog

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by the stage that produced it.
type Kind int

const (
	// KindUnknown is used for errors that were never classified.
	KindUnknown Kind = iota
	// KindFetch covers network, timeout and navigation failures.
	KindFetch
	// KindParse covers malformed raw records.
	KindParse
	// KindValidation covers records rejected by normalization (missing name).
	KindValidation
	// KindPersistence covers catalog store write failures.
	KindPersistence
	// KindEmbedding covers embedding provider failures.
	KindEmbedding
	// KindIndex covers vector index failures.
	KindIndex
)

func (k Kind) String() string {
	switch k {
	case KindFetch:
		return "fetch"
	case KindParse:
		return "parse"
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	case KindEmbedding:
		return "embedding"
	case KindIndex:
		return "index"
	default:
		return "unknown"
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the operation that failed.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Result is the classified outcome of processing a single listing.
type Result struct {
	Source   SourceCode
	SKU      string
	Decision DedupDecision
	Err      error
}

// OK reports whether the listing was persisted.
func (r Result) OK() bool { return r.Err == nil }

// Kind returns the failure kind, or KindUnknown for a success.
func (r Result) Kind() Kind {
	if r.Err == nil {
		return KindUnknown
	}
	return KindOf(r.Err)
}
