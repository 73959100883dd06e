package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/framegate/framegate/internal/logging"
)

// ZapSink writes events to the structured log.
type ZapSink struct {
	log *logging.Logger
}

// NewZapSink creates a sink over the given logger.
func NewZapSink(log *logging.Logger) *ZapSink {
	return &ZapSink{log: log}
}

func (s *ZapSink) Log(_ context.Context, ev Event) {
	s.log.Info("fallback event",
		zap.String("event_id", ev.ID),
		zap.String("session_id", ev.SessionID),
		zap.String("slug", ev.Slug),
		zap.String("type", string(ev.Type)),
		zap.String("reason", string(ev.Reason)),
		zap.String("chosen_mode", ev.ChosenMode),
		zap.String("outcome", ev.Outcome),
		zap.Any("metadata", ev.Metadata),
	)
}

// Memory keeps the most recent events in a bounded ring. It backs the
// inspection endpoint and tests; it is not durable storage.
type Memory struct {
	mu    sync.RWMutex
	ring  []Event
	next  int
	count int
}

// NewMemory creates a ring holding up to capacity events.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 256
	}
	return &Memory{ring: make([]Event, capacity)}
}

func (m *Memory) Log(_ context.Context, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring[m.next] = ev
	m.next = (m.next + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}
}

// Recent returns up to limit events, newest first, optionally filtered
// by slug. Empty slug matches everything.
func (m *Memory) Recent(slug string, limit int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > m.count {
		limit = m.count
	}

	out := make([]Event, 0, limit)
	for i := 1; i <= m.count && len(out) < limit; i++ {
		idx := (m.next - i + len(m.ring)) % len(m.ring)
		ev := m.ring[idx]
		if slug == "" || ev.Slug == slug {
			out = append(out, ev)
		}
	}
	return out
}
