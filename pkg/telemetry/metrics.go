package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments groups the engine's metric instruments.
type Instruments struct {
	Interactions    metric.Int64Counter
	CheckIns        metric.Int64Counter
	LocationLookups metric.Int64Counter
	SyncTasks       metric.Int64Counter
	Rescans         metric.Int64Counter
	RescanDuration  metric.Float64Histogram
}

var (
	instruments     *Instruments
	instrumentsOnce sync.Once
	instrumentsMu   sync.RWMutex
)

func initInstruments(meter metric.Meter) {
	inst := newInstruments(meter)
	instrumentsMu.Lock()
	instruments = inst
	instrumentsMu.Unlock()
}

func newInstruments(meter metric.Meter) *Instruments {
	// Instrument creation only fails on invalid names; the returned no-op fallback is fine
	interactions, _ := meter.Int64Counter("pulse_interactions_total",
		metric.WithDescription("Content interactions recorded, by kind"))
	checkIns, _ := meter.Int64Counter("pulse_checkins_total",
		metric.WithDescription("Check-in attempts, by outcome"))
	lookups, _ := meter.Int64Counter("pulse_location_lookups_total",
		metric.WithDescription("Location cache resolutions, by result"))
	syncTasks, _ := meter.Int64Counter("pulse_sync_tasks_total",
		metric.WithDescription("Durable store sync tasks, by kind and outcome"))
	rescans, _ := meter.Int64Counter("pulse_heat_rescans_total",
		metric.WithDescription("Full heat score rescans"))
	rescanDuration, _ := meter.Float64Histogram("pulse_heat_rescan_seconds",
		metric.WithDescription("Full heat score rescan duration"),
		metric.WithUnit("s"))

	return &Instruments{
		Interactions:    interactions,
		CheckIns:        checkIns,
		LocationLookups: lookups,
		SyncTasks:       syncTasks,
		Rescans:         rescans,
		RescanDuration:  rescanDuration,
	}
}

// Metrics returns the engine instruments, bound to the global meter provider when Init was not called
func Metrics() *Instruments {
	instrumentsMu.RLock()
	inst := instruments
	instrumentsMu.RUnlock()
	if inst != nil {
		return inst
	}
	instrumentsOnce.Do(func() {
		initInstruments(otel.Meter("pulse"))
	})
	instrumentsMu.RLock()
	defer instrumentsMu.RUnlock()
	return instruments
}

// Count adds one to counter with the given string attributes as key/value pairs
func Count(ctx context.Context, counter metric.Int64Counter, kv ...string) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
