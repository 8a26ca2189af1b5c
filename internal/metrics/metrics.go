package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var operations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "myfs",
		Name:      "operations_total",
		Help:      "Filesystem operations by name and result code.",
	},
	[]string{"op", "code"},
)

// ObserveOp records one completed operation. code is the kernel error code
// returned to the client, 0 for success.
func ObserveOp(op string, code int64) {
	operations.WithLabelValues(op, strconv.FormatInt(code, 10)).Inc()
}

// RegisterMountsGauge publishes the live mount count through a callback so
// the core stays free of metrics plumbing.
func RegisterMountsGauge(count func() int) {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "myfs",
			Name:      "mounts",
			Help:      "Number of live mounts.",
		},
		func() float64 { return float64(count()) },
	)
}
