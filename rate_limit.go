package netagent

import (
	"strings"
	"sync"
	"time"
)

// deviceRateLimiter bounds how many commands may be dispatched to a single
// device within a sliding window. limit <= 0 disables the limiter.
type deviceRateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	records map[string][]time.Time
}

func newDeviceRateLimiter(limit int, window time.Duration) *deviceRateLimiter {
	return &deviceRateLimiter{
		limit:   limit,
		window:  window,
		records: make(map[string][]time.Time),
	}
}

// allow records a dispatch to addr at now and reports whether it is within
// the window limit.
func (r *deviceRateLimiter) allow(addr string, now time.Time) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.pruneLocked(addr, now)
	if len(list) >= r.limit {
		return false
	}
	r.records[addr] = append(list, now)
	return true
}

func (r *deviceRateLimiter) pruneLocked(addr string, now time.Time) []time.Time {
	list := r.records[addr]
	if len(list) == 0 {
		return nil
	}
	cutoff := now.Add(-r.window)
	kept := list[:0]
	for _, t := range list {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(r.records, addr)
		return nil
	}
	r.records[addr] = kept
	return kept
}
