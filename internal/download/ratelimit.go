package download

import (
	"sync"
	"time"
)

const (
	// DefaultLimit requests per window per IP.
	DefaultLimit = 30

	// DefaultWindow for the fixed-window counter.
	DefaultWindow = time.Minute
)

type window struct {
	start time.Time
	count int
}

// FixedWindow is an in-process per-IP fixed-window counter. Concurrent
// requests from one IP serialize only around the increment-and-check;
// no cross-process coordination exists or is needed.
type FixedWindow struct {
	mu      sync.Mutex
	limit   int
	span    time.Duration
	now     func() time.Time
	windows map[string]*window
}

// NewFixedWindow creates a limiter allowing limit requests per span.
func NewFixedWindow(limit int, span time.Duration) *FixedWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if span <= 0 {
		span = DefaultWindow
	}
	return &FixedWindow{
		limit:   limit,
		span:    span,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow increments the caller's counter and reports whether the request
// fits in the current window.
func (l *FixedWindow) Allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[ip]
	if !ok || now.Sub(w.start) >= l.span {
		l.windows[ip] = &window{start: now, count: 1}
		l.pruneLocked(now)
		return true
	}

	w.count++
	return w.count <= l.limit
}

// pruneLocked drops stale windows so the map stays bounded by active
// clients. Called on window rollover, which keeps it off the hot path.
func (l *FixedWindow) pruneLocked(now time.Time) {
	if len(l.windows) < 1024 {
		return
	}
	for ip, w := range l.windows {
		if now.Sub(w.start) >= l.span {
			delete(l.windows, ip)
		}
	}
}
