package fetch

import "fmt"

// ErrClass is the coarse cause classification carried by Error.
type ErrClass string

// Cause classes a failed fetch can surface with.
const (
	ClassTimeout    ErrClass = "timeout"
	ClassNetwork    ErrClass = "network"
	ClassHTTPStatus ErrClass = "http_status"
	ClassCanceled   ErrClass = "canceled"
)

// Error is the typed failure returned once retries are exhausted (or the
// failure is terminal). Callers treat it as the unit's fetch_fail stop
// condition; it is never swallowed inside the fetch layer.
type Error struct {
	URL        string
	Class      ErrClass
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
