package observability

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"anchorledger/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "anchorledger",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of ledger notifications segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(kind))
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// LogEmitter writes every ledger notification to a structured logger and
// counts it by type.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements events.Emitter.
func (l LogEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	Events().RecordEvent(evt.EventType())
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{slog.String("type", evt.EventType())}
	if payload, ok := evt.(events.Payload); ok {
		rendered := payload.Event()
		if rendered.Block != 0 {
			attrs = append(attrs, slog.Uint64("block", rendered.Block))
		}
		keys := make([]string, 0, len(rendered.Attributes))
		for key := range rendered.Attributes {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			attrs = append(attrs, slog.String(key, rendered.Attributes[key]))
		}
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, "ledger event", attrs...)
}
