// Package metrics holds the Prometheus collectors shared by the gateway components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "palmyra_reports"

var (
	// HTTPRequests counts served requests by route pattern and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes request latency by route pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// TenantPools tracks live tenant connection pools held by the broker.
	TenantPools = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tenant_pools",
		Help:      "Live tenant database connection pools.",
	})

	// TenantPoolCreations counts pool dials by outcome.
	TenantPoolCreations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tenant_pool_creations_total",
		Help:      "Tenant connection pool creations by outcome.",
	}, []string{"outcome"})

	// QueryExecutions counts executed report queries by outcome category.
	QueryExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_executions_total",
		Help:      "Report query executions by outcome.",
	}, []string{"outcome"})

	// QueryDuration observes end-to-end report query latency.
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_seconds",
		Help:      "Report query latency including the count query.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// SQLRejections counts safety gate rejections.
	SQLRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sql_rejections_total",
		Help:      "Submissions rejected by the SQL safety gate.",
	})

	// RenderJobs counts finished render jobs by state.
	RenderJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "render_jobs_total",
		Help:      "Finished render jobs by terminal state.",
	}, []string{"state"})

	// RenderJobsReclaimed counts jobs the queue sweep failed or requeued after their lease lapsed.
	RenderJobsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "render_jobs_reclaimed_total",
		Help:      "Render jobs reclaimed from lost workers.",
	})

	// RenderDuration observes time spent rendering a single job.
	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "render_duration_seconds",
		Help:      "HTML to PDF render latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// RendererInstances reports renderer pool occupancy by state (idle, acquired, total).
	RendererInstances = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "renderer_instances",
		Help:      "Renderer instances by state.",
	}, []string{"state"})

	// RendererEvictions counts idle renderer instances destroyed by the sweep.
	RendererEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "renderer_evictions_total",
		Help:      "Idle renderer instances destroyed by eviction.",
	})
)
