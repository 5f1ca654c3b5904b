// SPDX-License-Identifier: Apache-2.0

package alert

import (
	"sync"
	"time"
)

// Limiter is a fixed-window alert rate limiter. The bucket key is the
// window number floor(now/window); counters for past windows expire after
// one extra window of slack.
type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	buckets map[int64]int
	now     func() time.Time
}

// NewLimiter creates a limiter allowing max events per window.
func NewLimiter(max int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Hour
	}
	return &Limiter{
		max:     max,
		window:  window,
		buckets: make(map[int64]int),
		now:     time.Now,
	}
}

// Allow reports whether another event fits in the current window, and
// counts it when it does.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.now().UnixMilli() / l.window.Milliseconds()
	for k := range l.buckets {
		if k < bucket-1 {
			delete(l.buckets, k)
		}
	}

	if l.max > 0 && l.buckets[bucket] >= l.max {
		return false
	}
	l.buckets[bucket]++
	return true
}

// Sent returns how many events were counted in the current window.
func (l *Limiter) Sent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buckets[l.now().UnixMilli()/l.window.Milliseconds()]
}
