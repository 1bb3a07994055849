package conversation

import (
	"sync"
	"time"

	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
)

// rateEntry is a plain counter+timestamp pair, not a token bucket.
type rateEntry struct {
	count    int
	lastSeen time.Time
}

// rateLimiter enforces a per-patient message ceiling. The counter resets
// after window of inactivity; inside the window the (max+1)-th message is
// rejected.
type rateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string]*rateEntry
	now     func() time.Time
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		max:     max,
		window:  window,
		entries: make(map[string]*rateEntry),
		now:     time.Now,
	}
}

// Allow records one message for the patient and returns ErrRateLimited once
// the ceiling is exceeded within the window.
func (l *rateLimiter) Allow(patientID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[patientID]
	if !ok || now.Sub(e.lastSeen) > l.window {
		l.entries[patientID] = &rateEntry{count: 1, lastSeen: now}
		return nil
	}

	if e.count >= l.max {
		return domain.ErrRateLimited
	}
	e.count++
	e.lastSeen = now
	return nil
}
