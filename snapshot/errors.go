package snapshot

import "errors"

var (
	// ErrNoTasks is returned for an empty batch.
	ErrNoTasks = errors.New("snapshot: no tasks provided")
	// ErrNoHTML is returned when a task has no document.
	ErrNoHTML = errors.New("snapshot: no HTML provided")
	// ErrTooManyTasks is returned when a batch exceeds the configured limit.
	ErrTooManyTasks = errors.New("snapshot: too many tasks")
	// ErrUnsafeBase is returned when a document's <base href> points at a
	// private or non-http address.
	ErrUnsafeBase = errors.New("snapshot: unsafe base href")
)

// IsBadRequest reports whether err is a caller mistake rather than a
// rendering failure.
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrNoTasks) ||
		errors.Is(err, ErrNoHTML) ||
		errors.Is(err, ErrTooManyTasks) ||
		errors.Is(err, ErrUnsafeBase)
}
