package piecescheduler

import (
	"github.com/rcrowley/go-metrics"
)

type schedulerMetrics struct {
	registry metrics.Registry

	Mode            metrics.Gauge
	Peers           metrics.Gauge
	Progress        metrics.GaugeFloat64
	ActiveRequests  metrics.Gauge
	Ticks           metrics.Meter
	EmptyTicks      metrics.Counter
	PiecesOffered   metrics.Meter
	StaleReoffers   metrics.Counter
	ModeTransitions metrics.Counter
}

func (s *Scheduler) initMetrics(r metrics.Registry) {
	s.metrics = &schedulerMetrics{
		registry: r,

		Mode:           metrics.NewRegisteredFunctionalGauge("mode", r, func() int64 { return int64(s.Mode()) }),
		Peers:          metrics.NewRegisteredFunctionalGauge("peers", r, func() int64 { return s.peers.Load() }),
		Progress:       metrics.NewRegisteredFunctionalGaugeFloat64("progress", r, s.progressPercent),
		ActiveRequests: metrics.NewRegisteredFunctionalGauge("active_requests", r, func() int64 { return int64(s.table.Len()) }),

		Ticks:           metrics.NewRegisteredMeter("ticks", r),
		EmptyTicks:      metrics.NewRegisteredCounter("empty_ticks", r),
		PiecesOffered:   metrics.NewRegisteredMeter("pieces_offered", r),
		StaleReoffers:   metrics.NewRegisteredCounter("stale_reoffers", r),
		ModeTransitions: metrics.NewRegisteredCounter("mode_transitions", r),
	}
}

func (m *schedulerMetrics) Close() {
	m.Ticks.Stop()
	m.PiecesOffered.Stop()
	m.registry.UnregisterAll()
}
