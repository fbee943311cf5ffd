// Package metrics exposes settlement and delivery counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leadmarket"

type Metrics struct {
	registry *prometheus.Registry

	Settlements        *prometheus.CounterVec
	SettlementDuration *prometheus.HistogramVec
	Deliveries         *prometheus.CounterVec
	SignatureFailures  *prometheus.CounterVec
	PurchasesCreated   *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts by payment method and outcome.",
		}, []string{"method", "outcome"}),
		SettlementDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Time spent inside settlement, lock wait included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Outbound notification attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		SignatureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signature_failures_total",
			Help:      "Inbound events rejected by signature verification.",
		}, []string{"reason"}),
		PurchasesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_created_total",
			Help:      "Purchases accepted by payment method.",
		}, []string{"method"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Settlements,
		m.SettlementDuration,
		m.Deliveries,
		m.SignatureFailures,
		m.PurchasesCreated,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
