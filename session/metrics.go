package session

import (
	"time"

	"github.com/rcrowley/go-metrics"
)

type sessionMetrics struct {
	registry metrics.Registry

	Uptime         metrics.Gauge
	PiecesComplete metrics.Gauge
	AdvisorCalls   metrics.Gauge
	AdvisorDropped metrics.Gauge
	SpeedDownload  metrics.Meter
	SpeedUpload    metrics.Meter
}

func (s *Session) initMetrics(r metrics.Registry) {
	s.metrics = &sessionMetrics{
		registry: r,

		Uptime: metrics.NewRegisteredFunctionalGauge("uptime", r, func() int64 { return int64(s.now().Sub(s.createdAt) / time.Second) }),
		PiecesComplete: metrics.NewRegisteredFunctionalGauge("pieces_complete", r, func() int64 {
			return int64(s.Status().PiecesComplete)
		}),
		AdvisorCalls:   metrics.NewRegisteredFunctionalGauge("advisor_calls", r, func() int64 { return s.advisor.Stats().Calls }),
		AdvisorDropped: metrics.NewRegisteredFunctionalGauge("advisor_dropped", r, func() int64 { return s.advisor.Stats().Dropped }),
		SpeedDownload:  metrics.NewRegisteredMeter("speed_download", r),
		SpeedUpload:    metrics.NewRegisteredMeter("speed_upload", r),
	}
}

func (m *sessionMetrics) Close() {
	m.SpeedDownload.Stop()
	m.SpeedUpload.Stop()
}
