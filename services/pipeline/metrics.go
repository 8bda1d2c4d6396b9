package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_pipeline_jobs_enqueued_total",
		Help: "Jobs pushed onto pipeline queues.",
	}, []string{"queue"})

	batchesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_pipeline_batches_total",
		Help: "Batches applied to the engine by result (success, partial, failed).",
	}, []string{"result"})

	documentsIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_pipeline_documents_indexed_total",
		Help: "Documents the engine accepted through the pipeline.",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_pipeline_batch_duration_seconds",
		Help:    "Time to ensure the collection and import one batch.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)
