package provider

import (
	"sync"
	"time"
)

// BudgetLimiter enforces a provider's request and token budget over a sliding
// window. Exceeding the budget yields a rate_limited error locally, without
// burning a real provider call.
type BudgetLimiter struct {
	mu          sync.Mutex
	maxRequests int
	maxTokens   int
	window      time.Duration

	requests []int64 // unix second per accepted request
	tokens   []tokenEntry
	now      func() time.Time
}

type tokenEntry struct {
	at    int64
	count int
}

// NewBudgetLimiter creates a limiter. Zero maxima disable the corresponding
// budget; a zero window defaults to one minute.
func NewBudgetLimiter(maxRequests, maxTokens int, window time.Duration) *BudgetLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &BudgetLimiter{
		maxRequests: maxRequests,
		maxTokens:   maxTokens,
		window:      window,
		now:         time.Now,
	}
}

// Allow reserves one request worth estTokens within the current window.
// When the budget is exhausted it returns false plus the wait until the
// oldest entry leaves the window.
func (l *BudgetLimiter) Allow(estTokens int) (bool, time.Duration) {
	if l == nil || (l.maxRequests == 0 && l.maxTokens == 0) {
		return true, 0
	}

	now := l.now()
	ts := now.Unix()
	cutoff := ts - int64(l.window.Seconds())

	l.mu.Lock()
	defer l.mu.Unlock()

	l.requests = trimRequests(l.requests, cutoff)
	l.tokens = trimTokens(l.tokens, cutoff)

	if l.maxRequests > 0 && len(l.requests) >= l.maxRequests {
		return false, l.waitFor(l.requests[0], ts)
	}
	if l.maxTokens > 0 && l.tokenCount()+estTokens > l.maxTokens && l.tokenCount() > 0 {
		return false, l.waitFor(l.tokens[0].at, ts)
	}

	l.requests = append(l.requests, ts)
	if estTokens > 0 {
		l.tokens = append(l.tokens, tokenEntry{at: ts, count: estTokens})
	}
	return true, 0
}

// RecordTokens adjusts the reservation with the actual token usage reported
// by the provider.
func (l *BudgetLimiter) RecordTokens(n int) {
	if l == nil || l.maxTokens == 0 || n <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = append(l.tokens, tokenEntry{at: l.now().Unix(), count: n})
}

func (l *BudgetLimiter) tokenCount() int {
	total := 0
	for _, e := range l.tokens {
		total += e.count
	}
	return total
}

func (l *BudgetLimiter) waitFor(oldest, now int64) time.Duration {
	wait := time.Duration(oldest+int64(l.window.Seconds())-now+1) * time.Second
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

func trimRequests(in []int64, cutoff int64) []int64 {
	i := 0
	for i < len(in) && in[i] <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]int64, len(in)-i)
	copy(out, in[i:])
	return out
}

func trimTokens(in []tokenEntry, cutoff int64) []tokenEntry {
	i := 0
	for i < len(in) && in[i].at <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]tokenEntry, len(in)-i)
	copy(out, in[i:])
	return out
}
