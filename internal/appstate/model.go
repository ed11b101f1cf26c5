package appstate

import (
	"fmt"
	"time"
)

// SmearedClock is the process-wide smeared-timestamp generator described
// in spec.md §4.3 and §9: every allocation returns max(now, last+1),
// guaranteeing outgoing messages never display out of send order even
// when the wall clock hasn't advanced between two sends. A single
// instance is shared by every caller under mu, the same serialisation
// point §5 requires for writes.
type SmearedClock struct {
	mu    chan struct{} // 1-buffered channel used as a non-reentrant mutex
	last  int64
	store *Store
}

const keyLastSmearedTimestamp = "last_smeared_timestamp"

// NewSmearedClock restores a SmearedClock from persisted state (if store is
// non-nil) so a process restart never re-issues a timestamp already handed
// out to a prior outgoing message.
func NewSmearedClock(store *Store) *SmearedClock {
	c := &SmearedClock{mu: make(chan struct{}, 1), store: store}
	c.mu <- struct{}{}
	if store != nil {
		if v, err := store.Get(keyLastSmearedTimestamp); err == nil && v != "" {
			var last int64
			if _, err := fmt.Sscan(v, &last); err == nil {
				c.last = last
			}
		}
	}
	return c
}

// Next allocates a single smeared timestamp.
func (c *SmearedClock) Next() int64 {
	return c.NextN(1)[0]
}

// NextN allocates n sequential smeared timestamps, used when preparing a
// batch of forwarded messages so their relative order is stable (§4.3).
func (c *SmearedClock) NextN(n int) []int64 {
	if n <= 0 {
		return nil
	}
	<-c.mu
	defer func() { c.mu <- struct{}{} }()

	now := time.Now().Unix()
	next := c.last + 1
	if now > next {
		next = now
	}
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = next
		next++
	}
	c.last = out[n-1]
	if c.store != nil {
		_ = c.store.Set(keyLastSmearedTimestamp, fmt.Sprintf("%d", c.last))
	}
	return out
}
