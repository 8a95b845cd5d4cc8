// Package metrics метрики Prometheus сервиса транскрипции
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Исходы транскрипции (метка outcome)
const (
	OutcomeFinished  = "finished"
	OutcomeTruncated = "truncated"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

// Metrics метрики декодера и сервиса.
// Каждый экземпляр держит свой реестр.
type Metrics struct {
	registry *prometheus.Registry

	DecodeSteps     prometheus.Counter
	Transcriptions  *prometheus.CounterVec
	ActiveRequests  prometheus.Gauge
	EncodeDuration  prometheus.Histogram
	StepDuration    prometheus.Histogram
	TokensGenerated prometheus.Histogram
	MalformedTokens prometheus.Counter
	ClipDuration    prometheus.Histogram
	ModelDownloads  *prometheus.CounterVec
}

// NewMetrics создаёт и регистрирует все метрики
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		DecodeSteps: f.NewCounter(prometheus.CounterOpts{
			Name: "livewhisper_decode_steps_total",
			Help: "Total number of decoder steps executed",
		}),
		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livewhisper_transcriptions_total",
			Help: "Transcription requests by outcome",
		}, []string{"outcome"}),
		ActiveRequests: f.NewGauge(prometheus.GaugeOpts{
			Name: "livewhisper_active_requests",
			Help: "Requests currently decoding (0 or 1)",
		}),
		EncodeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "livewhisper_encode_duration_seconds",
			Help:    "Time spent in spectrogram and encoder models",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),
		StepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "livewhisper_step_duration_seconds",
			Help:    "Time spent in one decoder step",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}),
		TokensGenerated: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "livewhisper_tokens_generated",
			Help:    "Tokens generated per request",
			Buckets: prometheus.LinearBuckets(0, 25, 18), // 0 to 425
		}),
		MalformedTokens: f.NewCounter(prometheus.CounterOpts{
			Name: "livewhisper_malformed_tokens_total",
			Help: "Generated tokens rendered with U+FFFD",
		}),
		ClipDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "livewhisper_clip_duration_seconds",
			Help:    "Duration of submitted clips",
			Buckets: prometheus.LinearBuckets(0, 3, 11), // 0 to 30s
		}),
		ModelDownloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livewhisper_model_downloads_total",
			Help: "Model downloads by final status",
		}, []string{"status"}),
	}
}

// Registry возвращает реестр метрик
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler HTTP handler для /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
