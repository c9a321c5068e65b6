// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/hospitalityhub/platform/services/entitlement-service/internal/bulk"
	"github.com/hospitalityhub/platform/services/entitlement-service/internal/tiers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "entitlements"

type Metrics struct {
	registry         *prometheus.Registry
	transitions      *prometheus.CounterVec
	gateDecisions    *prometheus.CounterVec
	bulkItems        *prometheus.CounterVec
	usageUnavailable prometheus.Counter
	catalogReloads   *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Subscription transition attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		gateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_gate_decisions_total",
			Help:      "Feature gate decisions by feature and result.",
		}, []string{"feature", "allowed"}),
		bulkItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_items_total",
			Help:      "Bulk operation items by operation and outcome.",
		}, []string{"operation", "outcome"}),
		usageUnavailable: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_unavailable_total",
			Help:      "Requests denied because usage could not be measured.",
		}),
		catalogReloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_replacements_total",
			Help:      "Tier catalog replacement attempts by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveTransition(kind, outcome string) {
	m.transitions.WithLabelValues(kind, outcome).Inc()
}

// ObserveGate labels unknown flags as "unknown" to keep label cardinality bounded.
func (m *Metrics) ObserveGate(feature string, allowed bool) {
	label := "unknown"
	if f, ok := tiers.ParseFeature(feature); ok {
		label = string(f)
	}
	m.gateDecisions.WithLabelValues(label, strconv.FormatBool(allowed)).Inc()
}

func (m *Metrics) ObserveBulkItem(operation string, outcome bulk.Outcome) {
	m.bulkItems.WithLabelValues(operation, string(outcome)).Inc()
}

func (m *Metrics) UsageUnavailable() { m.usageUnavailable.Inc() }

func (m *Metrics) ObserveCatalogReplace(err error) {
	result := "applied"
	if err != nil {
		result = "rejected"
	}
	m.catalogReloads.WithLabelValues(result).Inc()
}
