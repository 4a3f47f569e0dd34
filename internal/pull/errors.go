package pull

import "strings"

// Category classifies a download failure once, at the transport boundary.
// Policy code consumes the category and never re-parses message text.
type Category int

const (
	CategoryUnknown Category = iota
	// Non-retryable: the condition will not clear on its own.
	CategoryNoSpace
	CategoryPermission
	// Retryable: transient transport conditions.
	CategoryTimeout
	CategoryConnReset
	CategoryStreamEnded
	CategoryNetwork
)

// String returns the category as a short, stable token.
func (c Category) String() string {
	switch c {
	case CategoryNoSpace:
		return "no_space"
	case CategoryPermission:
		return "permission"
	case CategoryTimeout:
		return "timeout"
	case CategoryConnReset:
		return "connection_reset"
	case CategoryStreamEnded:
		return "stream_ended"
	case CategoryNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Retryable reports whether the retry-then-fallback policy applies.
func (c Category) Retryable() bool {
	switch c {
	case CategoryTimeout, CategoryConnReset, CategoryStreamEnded, CategoryNetwork:
		return true
	default:
		return false
	}
}

// Error is a categorized download failure with a caller-facing message free
// of transport detail.
type Error struct {
	Category Category
	Message  string
}

func (e *Error) Error() string { return e.Message }

// newError builds a categorized Error with a human-readable message.
func newError(cat Category, msg string) *Error { return &Error{Category: cat, Message: msg} }

// ErrNoSpace constructs a no-space download error for modelID.
func ErrNoSpace(modelID string) error {
	return newError(CategoryNoSpace, userMessage(CategoryNoSpace, modelID))
}

// ErrPermission constructs a permission-denied download error for modelID.
func ErrPermission(modelID string) error {
	return newError(CategoryPermission, userMessage(CategoryPermission, modelID))
}

// ErrNetwork constructs a generic network download error for modelID.
func ErrNetwork(modelID string) error {
	return newError(CategoryNetwork, userMessage(CategoryNetwork, modelID))
}

// CategoryOf extracts the category of an error produced by this package.
func CategoryOf(err error) Category {
	if pe, ok := err.(*Error); ok {
		return pe.Category
	}
	return CategoryUnknown
}

// classify maps a raw transport error string onto a Category. This text
// matching happens in exactly one place; everything downstream works with the
// resulting enum.
func classify(msg string) Category {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "no space") || strings.Contains(m, "disk full") ||
		strings.Contains(m, "out of space") || strings.Contains(m, "enospc"):
		return CategoryNoSpace
	case strings.Contains(m, "permission denied") || strings.Contains(m, "unauthorized") ||
		strings.Contains(m, "forbidden") || strings.Contains(m, "access denied"):
		return CategoryPermission
	case strings.Contains(m, "timeout") || strings.Contains(m, "timed out") ||
		strings.Contains(m, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(m, "connection reset") || strings.Contains(m, "broken pipe") ||
		strings.Contains(m, "connection refused"):
		return CategoryConnReset
	case strings.Contains(m, "unexpected eof") || strings.Contains(m, "unexpected end") ||
		strings.Contains(m, "stream ended"):
		return CategoryStreamEnded
	case strings.Contains(m, "network") || strings.Contains(m, "temporarily unavailable") ||
		strings.Contains(m, "no such host") || strings.Contains(m, "tls"):
		return CategoryNetwork
	default:
		return CategoryUnknown
	}
}

// userMessage renders a category as a message suitable for end users.
func userMessage(cat Category, modelID string) string {
	switch cat {
	case CategoryNoSpace:
		return "not enough disk space to download " + modelID
	case CategoryPermission:
		return "permission denied while downloading " + modelID
	case CategoryTimeout, CategoryConnReset, CategoryStreamEnded, CategoryNetwork:
		return "network problem while downloading " + modelID + "; please try again"
	default:
		return "download of " + modelID + " failed"
	}
}
