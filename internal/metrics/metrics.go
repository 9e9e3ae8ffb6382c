// Package metrics defines the Prometheus instrumentation shared by the
// pipeline components. Collectors are registered on the default registry and
// served by the ops HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmitted counts pack requests accepted into the queue.
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packsmith_jobs_submitted_total",
		Help: "Pack requests accepted into the job queue.",
	})

	// JobsCompleted counts finished jobs by outcome.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packsmith_jobs_completed_total",
		Help: "Finished jobs, labeled by outcome.",
	}, []string{"outcome"})

	// QueueDepth tracks requests waiting for a worker.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "packsmith_queue_depth",
		Help: "Pack requests waiting for a worker.",
	})

	// SweepRemovals counts scratch entries deleted by the TTL sweeper.
	SweepRemovals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packsmith_scratch_sweep_removals_total",
		Help: "Scratch entries removed by the TTL sweeper.",
	})

	// AdmissionRejected counts submissions refused by the per-user gate.
	AdmissionRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "packsmith_admission_rejected_total",
		Help: "Submissions refused by the per-user admission gate.",
	})

	// StickerCalls counts remote sticker-service calls by method and status.
	StickerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packsmith_sticker_calls_total",
		Help: "Remote sticker-service calls, labeled by method and status.",
	}, []string{"method", "status"})
)
