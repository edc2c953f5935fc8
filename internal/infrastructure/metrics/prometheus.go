package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the registerer the metric sets are added to and the
// gatherer the /metrics endpoint serves from.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

type HandlerMetrics struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	gatherer        prometheus.Gatherer
}

type ServiceMetrics struct {
	MethodCount    *prometheus.CounterVec
	MethodDuration *prometheus.HistogramVec
	// OrphanedObjects counts objects left in the object store with no ad
	// referencing them, by the operation and step that left them behind.
	OrphanedObjects *prometheus.CounterVec
}

type RepositoryMetrics struct {
	QueryCount    *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

type ObjectStoreMetrics struct {
	OperationCount    *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	UploadedBytes     prometheus.Counter
}

// counterAndHistogram registers the <layer>_<unit>_total counter and its
// matching duration histogram sharing one label set.
func counterAndHistogram(factory promauto.Factory, counterName, counterHelp, histogramName, histogramHelp string, labels ...string) (*prometheus.CounterVec, *prometheus.HistogramVec) {
	counter := factory.NewCounterVec(prometheus.CounterOpts{Name: counterName, Help: counterHelp}, labels)
	histogram := factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    histogramName,
		Help:    histogramHelp,
		Buckets: prometheus.DefBuckets,
	}, labels)
	return counter, histogram
}

func NewHandlerMetrics(reg Registry) *HandlerMetrics {
	count, duration := counterAndHistogram(promauto.With(reg),
		"handler_requests_total", "Total number of HTTP requests handled by the handler layer.",
		"handler_request_duration_seconds", "Histogram of response latency for handler in seconds.",
		"method", "endpoint", "status",
	)

	return &HandlerMetrics{
		RequestCount:    count,
		RequestDuration: duration,
		gatherer:        reg,
	}
}

func NewServiceMetrics(reg prometheus.Registerer) *ServiceMetrics {
	factory := promauto.With(reg)
	count, duration := counterAndHistogram(factory,
		"service_methods_total", "Total number of service methods executed.",
		"service_method_duration_seconds", "Histogram of service method execution duration in seconds.",
		"method", "status",
	)

	return &ServiceMetrics{
		MethodCount:    count,
		MethodDuration: duration,
		OrphanedObjects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "service_orphaned_objects_total",
			Help: "Objects left in the object store without a referencing ad.",
		}, []string{"method", "reason"}),
	}
}

func NewRepositoryMetrics(reg prometheus.Registerer) *RepositoryMetrics {
	count, duration := counterAndHistogram(promauto.With(reg),
		"repository_queries_total", "Total number of database queries executed.",
		"repository_query_duration_seconds", "Histogram of database query execution duration in seconds.",
		"query", "status",
	)

	return &RepositoryMetrics{
		QueryCount:    count,
		QueryDuration: duration,
	}
}

func NewObjectStoreMetrics(reg prometheus.Registerer) *ObjectStoreMetrics {
	factory := promauto.With(reg)
	count, duration := counterAndHistogram(factory,
		"objectstore_operations_total", "Total number of object store operations.",
		"objectstore_operation_duration_seconds", "Histogram of object store operation duration in seconds.",
		"backend", "operation", "status",
	)

	return &ObjectStoreMetrics{
		OperationCount:    count,
		OperationDuration: duration,
		UploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "objectstore_uploaded_bytes_total",
			Help: "Total number of bytes written to the object store.",
		}),
	}
}

// HTTPHandler serves every metric gathered by the registry the handler
// metrics were created with.
func (hm *HandlerMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(hm.gatherer, promhttp.HandlerOpts{})
}
