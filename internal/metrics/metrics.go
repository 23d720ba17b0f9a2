// Package metrics exposes Prometheus counters for the billing domain.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Module provides the domain metrics.
var Module = fx.Provide(New)

type Metrics struct {
	DocumentsCreated *prometheus.CounterVec
	PaymentsRecorded prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		DocumentsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "documents_created_total",
			Help:      "Billing documents created, by kind.",
		}, []string{"kind"}),
		PaymentsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "payments_recorded_total",
			Help:      "Invoice payments recorded.",
		}),
	}
}
