package sessions

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/chartsense/internal/sessions"

// storeMetrics holds the counters reported by the store.
// Without a configured MeterProvider they are no-ops.
type storeMetrics struct {
	saved       metric.Int64Counter
	evicted     metric.Int64Counter
	removedDays metric.Int64Counter
}

func newStoreMetrics() *storeMetrics {
	meter := otel.Meter(meterName)

	saved, _ := meter.Int64Counter("chartsense.sessions.saved",
		metric.WithDescription("Analysis records appended to a day bucket"))
	evicted, _ := meter.Int64Counter("chartsense.sessions.evicted",
		metric.WithDescription("Records dropped because a day bucket exceeded its cap"))
	removedDays, _ := meter.Int64Counter("chartsense.sessions.retention.removed_days",
		metric.WithDescription("Day buckets deleted by the retention sweep"))

	return &storeMetrics{
		saved:       saved,
		evicted:     evicted,
		removedDays: removedDays,
	}
}

func (m *storeMetrics) recordSave(ctx context.Context, evicted int) {
	if m == nil {
		return
	}
	if m.saved != nil {
		m.saved.Add(ctx, 1)
	}
	if evicted > 0 && m.evicted != nil {
		m.evicted.Add(ctx, int64(evicted))
	}
}

func (m *storeMetrics) recordRetention(ctx context.Context, removed int) {
	if m == nil || m.removedDays == nil || removed == 0 {
		return
	}
	m.removedDays.Add(ctx, int64(removed))
}
