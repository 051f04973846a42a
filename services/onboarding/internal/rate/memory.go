package rate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLimiter keeps a log of request times per key. A request is counted
// only when it is allowed, so refused retries do not extend the wait.
type MemoryLimiter struct {
	mu     sync.Mutex
	policy Policy
	sent   map[string][]time.Time
	swept  time.Time
}

func NewMemory(policy Policy) *MemoryLimiter {
	return &MemoryLimiter{policy: policy, sent: map[string][]time.Time{}}
}

func (l *MemoryLimiter) Allow(_ context.Context, key Key, now time.Time) (Decision, error) {
	if !l.policy.valid() {
		return Decision{}, fmt.Errorf("invalid rate policy %d per %s", l.policy.Limit, l.policy.Window)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.policy.Window)
	if now.Sub(l.swept) >= l.policy.Window {
		for k, times := range l.sent {
			if len(inWindow(times, cutoff)) == 0 {
				delete(l.sent, k)
			}
		}
		l.swept = now
	}

	id := key.Digest()
	times := inWindow(l.sent[id], cutoff)
	if len(times) >= l.policy.Limit {
		l.sent[id] = times
		return Decision{RetryAfter: times[0].Sub(cutoff)}, nil
	}

	l.sent[id] = append(times, now)
	return Decision{Allowed: true, Remaining: l.policy.Limit - len(times) - 1}, nil
}

// Len reports the number of accounts with requests in their window.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}

// inWindow drops the times at or before cutoff. times is in send order.
func inWindow(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}
