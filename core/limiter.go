package core

import (
	"fmt"
	"sync/atomic"
)

// ModelLimiter caps the number of model calls of one run. It is shared by
// every node of the run, parallel branches included.
type ModelLimiter struct {
	max  int64
	used atomic.Int64
}

// NewModelLimiter creates a limiter admitting max calls; max <= 0 admits any
// number.
func NewModelLimiter(max int) *ModelLimiter {
	return &ModelLimiter{max: int64(max)}
}

// Increment records a call and fails with ErrModelCallLimit once the budget
// is spent. A refused call still counts.
func (ml *ModelLimiter) Increment() error {
	n := ml.used.Add(1)
	if ml.max > 0 && n > ml.max {
		return fmt.Errorf("%w: %d", ErrModelCallLimit, ml.max)
	}
	return nil
}

// Count returns the calls recorded so far.
func (ml *ModelLimiter) Count() int { return int(ml.used.Load()) }

// Remaining returns the calls left, or -1 without a limit.
func (ml *ModelLimiter) Remaining() int {
	if ml.max <= 0 {
		return -1
	}
	return int(max(ml.max-ml.used.Load(), 0))
}
