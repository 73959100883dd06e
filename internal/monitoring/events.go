package monitoring

import (
	"context"

	"github.com/framegate/framegate/internal/events"
)

// EventSink mirrors fallback events into Prometheus counters. It
// implements events.Logger and is normally fanned out alongside the
// structured-log sink.
type EventSink struct {
	metrics *Metrics
}

// NewEventSink creates the sink.
func NewEventSink(metrics *Metrics) *EventSink {
	return &EventSink{metrics: metrics}
}

func (s *EventSink) Log(_ context.Context, ev events.Event) {
	switch ev.Type {
	case events.TypeDemoView:
		s.metrics.DemoViews.WithLabelValues(ev.Slug).Inc()
	case events.TypeModeAttempt:
		reason := string(ev.Reason)
		if reason == "" {
			reason = "initial"
		}
		s.metrics.ModeAttempts.WithLabelValues(ev.Slug, ev.ChosenMode, reason).Inc()
	case events.TypeSettled:
		s.metrics.Settles.WithLabelValues(ev.Slug, ev.ChosenMode, ev.Outcome).Inc()
	}
}
