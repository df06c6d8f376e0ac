package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ReasonTableFull = "table_full"
	ReasonDial      = "dial"
	ReasonAccept    = "accept"

	DirToBackend = "to_backend"
	DirToClient  = "to_client"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{Name: "tcprelay_active_connections", Help: "Occupied connection table slots"})
	TableCapacity     = promauto.NewGauge(prometheus.GaugeOpts{Name: "tcprelay_table_capacity", Help: "Connection table capacity"})
	AcceptedTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "tcprelay_connections_accepted_total", Help: "Client connections paired with a backend"})
	RefusedTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tcprelay_connections_refused_total", Help: "Client connections refused or failed before relaying"}, []string{"reason"})
	TeardownTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tcprelay_teardowns_total", Help: "Connections torn down by cause"}, []string{"reason"})
	BytesRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tcprelay_bytes_relayed_total", Help: "Bytes written to the peer socket"}, []string{"direction"})
	BackpressureTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tcprelay_backpressure_total", Help: "Times reading a side was suspended because its peer could not keep up"}, []string{"direction"})
	ConnectionBytes   = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tcprelay_connection_bytes", Help: "Total bytes relayed per connection", Buckets: prometheus.ExponentialBuckets(64, 4, 12)})
)
