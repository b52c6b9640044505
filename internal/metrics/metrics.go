// Package metrics holds the Prometheus collectors for both processes.
// All metrics are low-cardinality (provider/queue names only, never frame or
// track ids).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesReceivedTotal counts frames read off the camera stream.
	FramesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardcar_frames_received_total",
		Help: "Frames read from the camera video socket",
	})

	// FramesProcessedTotal counts frames that made it through the router.
	FramesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardcar_frames_processed_total",
		Help: "Frames fully processed by the detection router",
	})

	// FramesSkippedTotal counts frames dropped for decode or scoring errors.
	FramesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardcar_frames_skipped_total",
		Help: "Frames skipped due to decode or processing errors",
	})

	// DetectLatency tracks per-frame detector latency by provider.
	DetectLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guardcar_detect_latency_ms",
		Help:    "Detection latency in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000},
	}, []string{"provider"})

	// FallbacksTotal counts remote failures answered by the local detector.
	FallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardcar_detector_fallbacks_total",
		Help: "Remote detector failures served by the local fallback",
	}, []string{"provider"})

	// BreakerState exposes the circuit state (0=closed, 1=open, 2=half-open).
	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guardcar_breaker_state",
		Help: "Remote-path circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	// SuspicionScore is the latest computed score.
	SuspicionScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guardcar_suspicion_score",
		Help: "Latest suspicion score",
	})

	// QueuePublishTotal counts broker publishes by queue.
	QueuePublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardcar_queue_publish_total",
		Help: "Messages published per broker queue",
	}, []string{"queue"})

	// QueueDropTotal counts messages dropped before reaching the broker.
	QueueDropTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardcar_queue_drop_total",
		Help: "Messages dropped on full publish channels per queue",
	}, []string{"queue"})

	// RecordingTransitionsTotal counts start/stop commands by direction.
	RecordingTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardcar_recording_transitions_total",
		Help: "Recording state transitions by direction (start|stop)",
	}, []string{"direction"})

	// Recording mirrors the recording-controller state.
	Recording = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guardcar_recording",
		Help: "Whether the camera is recording (1) or idle (0)",
	})

	// CameraUp reports the last camera health probe result.
	CameraUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guardcar_camera_up",
		Help: "Camera control API health (1=up, 0=down)",
	})

	// BrokerConnected reports fabric connection state.
	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guardcar_broker_connected",
		Help: "Broker connection state (1=connected, 0=down)",
	})

	// SSEClients gauges connected SSE subscribers (backend).
	SSEClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guardcar_sse_clients",
		Help: "Connected SSE subscribers",
	})

	// WSClients gauges connected WebSocket video viewers (backend).
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guardcar_ws_clients",
		Help: "Connected WebSocket video clients",
	})

	// HTTPRequestsTotal counts backend HTTP requests by path pattern and code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardcar_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"route", "status"})
)

func RecordFallback(provider string) {
	FallbacksTotal.WithLabelValues(provider).Inc()
}

func RecordPublish(queue string) {
	QueuePublishTotal.WithLabelValues(queue).Inc()
}

func RecordQueueDrop(queue string) {
	QueueDropTotal.WithLabelValues(queue).Inc()
}

func SetBreakerState(state int) {
	BreakerState.Set(float64(state))
}

func SetRecording(on bool) {
	if on {
		Recording.Set(1)
	} else {
		Recording.Set(0)
	}
}

func SetCameraUp(up bool) {
	if up {
		CameraUp.Set(1)
	} else {
		CameraUp.Set(0)
	}
}

func SetBrokerConnected(up bool) {
	if up {
		BrokerConnected.Set(1)
	} else {
		BrokerConnected.Set(0)
	}
}

// Handler serves the default registry; both processes mount it at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
