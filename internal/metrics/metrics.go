package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors used by the relay.
type Registry struct {
	ActiveConnections  *prometheus.GaugeVec
	DataPointsTotal    prometheus.Counter
	FanoutTotal        *prometheus.CounterVec
	DroppedSends       prometheus.Counter
	Rejections         *prometheus.CounterVec
	BatchesFlushed     prometheus.Counter
	BulkRecordsDropped prometheus.Counter
}

// NewRegistry creates Prometheus metrics collectors.
func NewRegistry() *Registry {
	return &Registry{
		ActiveConnections: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parrot_connections_active",
			Help: "Number of active WebSocket connections by role",
		}, []string{"role"}),
		DataPointsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parrot_data_points_total",
			Help: "Total number of accepted sensor data frames",
		}),
		FanoutTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parrot_fanout_messages_total",
			Help: "Total number of fan-out messages enqueued by path",
		}, []string{"path"}),
		DroppedSends: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parrot_dropped_sends_total",
			Help: "Total number of subscriber sends dropped due to a full buffer",
		}),
		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parrot_rejections_total",
			Help: "Total number of rejected producer operations by reason",
		}, []string{"reason"}),
		BatchesFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parrot_bulk_batches_total",
			Help: "Total number of bulk batches flushed to bulk listeners",
		}),
		BulkRecordsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parrot_bulk_records_dropped_total",
			Help: "Total number of bulk records dropped at the queue cap",
		}),
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
