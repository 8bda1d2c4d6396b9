package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	authValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_auth_validations_total",
		Help: "API key validations by outcome.",
	}, []string{"outcome"})

	authCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_auth_cache_lookups_total",
		Help: "API key cache lookups by result.",
	}, []string{"result"})

	searchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_search_duration_seconds",
		Help:    "Search latency through the gateway by result.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	submissionsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_index_submissions_total",
		Help: "Index submissions by result.",
	}, []string{"result"})
)
