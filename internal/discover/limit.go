package discover

import "sync/atomic"

// Limit is a run-wide cap on discovered items, shared across units. A nil
// *Limit or a non-positive cap never triggers.
//
// Hitting the cap stops units without marking them done, so a later
// uncapped run resumes from the page cursor instead of treating the
// truncation as listing exhaustion.
type Limit struct {
	max int64
	n   atomic.Int64
}

// NewLimit returns a cap of max items; max <= 0 disables the limit.
func NewLimit(max int) *Limit {
	if max <= 0 {
		return nil
	}
	l := &Limit{max: int64(max)}
	return l
}

// Reached reports whether the cap has been met.
func (l *Limit) Reached() bool {
	if l == nil {
		return false
	}
	return l.n.Load() >= l.max
}

// Add records n newly discovered items.
func (l *Limit) Add(n int) {
	if l == nil || n <= 0 {
		return
	}
	l.n.Add(int64(n))
}

// Count returns the number of items recorded so far.
func (l *Limit) Count() int {
	if l == nil {
		return 0
	}
	return int(l.n.Load())
}
