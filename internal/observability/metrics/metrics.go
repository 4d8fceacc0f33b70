// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "call_monitoring"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Live stream metrics
	StreamsTotal        prometheus.Counter
	StreamsActive       prometheus.Gauge
	StreamsRejected     prometheus.Counter
	StreamsCompleted    prometheus.Counter
	StreamsFailed       *prometheus.CounterVec
	StreamDuration      prometheus.Histogram
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	StreamLimitExceeded *prometheus.CounterVec

	// Ingestion metrics
	CallsIngested     *prometheus.CounterVec
	SegmentsPersisted prometheus.Counter
	UploadsRejected   prometheus.Counter
	RemoteFetchErrors prometheus.Counter

	// Conversion metrics
	ConversionLatency *prometheus.HistogramVec
	ConversionErrors  *prometheus.CounterVec

	// STT metrics
	STTLatency   *prometheus.HistogramVec
	STTErrors    *prometheus.CounterVec
	STTFallbacks prometheus.Counter

	// LLM metrics
	LLMLatency *prometheus.HistogramVec
	LLMErrors  *prometheus.CounterVec

	// Analysis job metrics
	AnalysesTotal      *prometheus.CounterVec
	AnalysisRetries    prometheus.Counter
	AnalysisQueueDepth prometheus.Gauge

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// HTTP and gRPC metrics
	HTTPRequestDuration *prometheus.HistogramVec
	GRPCRequests        *prometheus.CounterVec
	GRPCLatency         *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		StreamsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of live media streams accepted",
		}),
		StreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently active live media streams",
		}),
		StreamsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_rejected_total",
			Help:      "Live media streams rejected at capacity",
		}),
		StreamsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_completed_total",
			Help:      "Live media streams that produced a call",
		}),
		StreamsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_failed_total",
			Help:      "Live media streams that ended without a call",
		}, []string{"reason"}),
		StreamDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of live media streams in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total decoded audio bytes received on live streams",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total media frames received on live streams",
		}),
		StreamLimitExceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_limit_exceeded_total",
			Help:      "Total number of times live stream buffer limits were exceeded",
		}, []string{"limit_type"}),

		CallsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ingested_total",
			Help:      "Calls persisted, by source",
		}, []string{"source"}),
		SegmentsPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_persisted_total",
			Help:      "Transcript segments persisted",
		}),
		UploadsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_rejected_total",
			Help:      "Uploads rejected by validation",
		}),
		RemoteFetchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_fetch_errors_total",
			Help:      "Failed remote transcript fetches",
		}),

		ConversionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_latency_seconds",
			Help:      "Audio format conversion latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"converter"}),
		ConversionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_errors_total",
			Help:      "Audio format conversion failures",
		}, []string{"converter"}),

		STTLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_latency_seconds",
			Help:      "Speech-to-text processing latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"engine"}),
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"engine", "error_type"}),
		STTFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_fallbacks_total",
			Help:      "Transcriptions served by the fallback engine",
		}),

		LLMLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "LLM analysis request latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"provider"}),
		LLMErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_errors_total",
			Help:      "LLM analysis errors",
		}, []string{"provider", "error_type"}),

		AnalysesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Analysis jobs finished, by kind and outcome",
		}, []string{"kind", "outcome"}),
		AnalysisRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_retries_total",
			Help:      "Analysis attempts retried after a provider error",
		}),
		AnalysisQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analysis_queue_depth",
			Help:      "Analysis jobs waiting for a worker",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC calls handled, by method and status code",
		}, []string{"method", "code"}),
		GRPCLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_latency_seconds",
			Help:      "gRPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// RecordStreamStart records a new live stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a live stream ending. reason is empty on success.
func (m *Metrics) RecordStreamEnd(reason string, durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	if reason == "" {
		m.StreamsCompleted.Inc()
		return
	}
	m.StreamsFailed.WithLabelValues(reason).Inc()
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordLimitExceeded records when a stream buffer limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.StreamLimitExceeded.WithLabelValues(limitType).Inc()
}

// RecordIngested records a persisted call and its segments.
func (m *Metrics) RecordIngested(source string, segments int) {
	m.CallsIngested.WithLabelValues(source).Inc()
	m.SegmentsPersisted.Add(float64(segments))
}

// RecordConversion records an audio conversion attempt.
func (m *Metrics) RecordConversion(converter string, err error, latencySeconds float64) {
	m.ConversionLatency.WithLabelValues(converter).Observe(latencySeconds)
	if err != nil {
		m.ConversionErrors.WithLabelValues(converter).Inc()
	}
}

// RecordSTT records a transcription attempt.
func (m *Metrics) RecordSTT(engine string, err error, latencySeconds float64) {
	m.STTLatency.WithLabelValues(engine).Observe(latencySeconds)
	if err != nil {
		m.STTErrors.WithLabelValues(engine, "transcribe").Inc()
	}
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(engine, errorType string) {
	m.STTErrors.WithLabelValues(engine, errorType).Inc()
}

// RecordLLM records an LLM request. errorType is empty on success.
func (m *Metrics) RecordLLM(provider, errorType string, latencySeconds float64) {
	m.LLMLatency.WithLabelValues(provider).Observe(latencySeconds)
	if errorType != "" {
		m.LLMErrors.WithLabelValues(provider, errorType).Inc()
	}
}

// RecordAnalysis records a finished analysis job.
func (m *Metrics) RecordAnalysis(kind, outcome string) {
	m.AnalysesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordGRPC records a finished gRPC call.
func (m *Metrics) RecordGRPC(method, code string, latencySeconds float64) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
	m.GRPCLatency.WithLabelValues(method).Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
