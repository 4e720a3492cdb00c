// Package metrics exposes the ANC engine's Prometheus instrumentation: the
// chunk counters and convergence gauge spec.md's "telemetry" design note
// describes but never gives a consumer. See internal/health for the
// accompanying liveness/readiness HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksProcessed counts filter cycles that actually ran the NLMS
	// update (the "Active" state in spec §4.2's state machine).
	ChunksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "anc",
		Name:      "chunks_processed_total",
		Help:      "Number of error chunks that drove a full NLMS adaptation cycle.",
	})

	// GatedChunks counts chunks gated out by the signal-level threshold
	// (the "Gated" state in spec §4.2's state machine).
	GatedChunks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "anc",
		Name:      "gated_chunks_total",
		Help:      "Number of error chunks gated out by the signal-level threshold.",
	})

	// FormatErrors counts malformed wire payloads dropped by the codec.
	FormatErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "anc",
		Name:      "format_errors_total",
		Help:      "Number of chunks dropped due to a malformed wire payload.",
	})

	// Converged is 1 when the filter's IsConverged() check currently
	// reports true, 0 otherwise. Advisory only, per spec §4.2.
	Converged = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "anc",
		Name:      "converged",
		Help:      "1 if the adaptive filter's convergence indicator is currently true.",
	})

	// ReconnectAttempts counts broker reconnect attempts following a
	// disconnect.
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "anc",
		Name:      "broker_reconnect_attempts_total",
		Help:      "Number of MQTT reconnect attempts made since process start.",
	})

	// NumericAnomalies counts chunks dropped because a NaN or Inf value
	// was found in an input chunk or in the adapted weight vector
	// (anc.Filter's reset-and-continue recovery).
	NumericAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "anc",
		Name:      "numeric_anomalies_total",
		Help:      "Number of chunks dropped due to a NaN or Inf value in the filter pipeline.",
	})
)
