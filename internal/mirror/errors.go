package mirror

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates an unknown entry id or missing backing content.
var ErrNotFound = errors.New("entry not found")

// ValidationError reports bad client input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// FetchError reports an HTTP or network failure while retrieving the
// target page. Creation aborts and nothing is persisted.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StorageError reports that the backing store is unavailable. It is kept
// distinct from fetch errors so the API can report it separately.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
