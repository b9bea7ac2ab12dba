// Package metrics holds the Prometheus collectors shared by the mirror,
// the bindings, the memory store and the websocket transport.
//
// A nil *Metrics is valid and records nothing, so components can take it as
// an optional dependency.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "refmirror"

// Label values for binding kinds.
const (
	KindValue      = "value"
	KindPriority   = "priority"
	KindCollection = "collection"
)

type Metrics struct {
	mirrorOps      *prometheus.CounterVec
	headFallbacks  prometheus.Counter
	notifications  prometheus.Counter
	bindingsActive *prometheus.GaugeVec
	bindingWrites  *prometheus.CounterVec
	storeEvents    *prometheus.CounterVec
	wsConnections  prometheus.Gauge
}

// New creates the collectors and registers them on reg (the default
// registerer when nil). Collectors already registered by an earlier call are
// reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	var err error

	if m.mirrorOps, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mirror",
		Name:      "operations_total",
		Help:      "Structural operations applied to ordered mirrors.",
	}, []string{"op"})); err != nil {
		return nil, err
	}

	if m.headFallbacks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mirror",
		Name:      "head_fallbacks_total",
		Help:      "Inserts whose predecessor was missing and landed at the head.",
	})); err != nil {
		return nil, err
	}

	if m.notifications, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sequence",
		Name:      "notifications_total",
		Help:      "Throttled change notifications published by read-only sequences.",
	})); err != nil {
		return nil, err
	}

	if m.bindingsActive, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "binding",
		Name:      "active",
		Help:      "Bindings constructed and not yet unbound.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}

	if m.bindingWrites, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "binding",
		Name:      "writes_total",
		Help:      "Local writes proxied to the remote store.",
	}, []string{"kind", "result"})); err != nil {
		return nil, err
	}

	if m.storeEvents, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "events_total",
		Help:      "Events delivered to store subscribers.",
	}, []string{"event"})); err != nil {
		return nil, err
	}

	if m.wsConnections, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "connections_active",
		Help:      "Open websocket store sessions.",
	})); err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) MirrorOp(op string) {
	if m == nil {
		return
	}
	m.mirrorOps.WithLabelValues(op).Inc()
}

func (m *Metrics) HeadFallback() {
	if m == nil {
		return
	}
	m.headFallbacks.Inc()
}

func (m *Metrics) SequenceNotified() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

func (m *Metrics) BindingOpened(kind string) {
	if m == nil {
		return
	}
	m.bindingsActive.WithLabelValues(kind).Inc()
}

func (m *Metrics) BindingClosed(kind string) {
	if m == nil {
		return
	}
	m.bindingsActive.WithLabelValues(kind).Dec()
}

func (m *Metrics) BindingWrite(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.bindingWrites.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) StoreEvent(event string) {
	if m == nil {
		return
	}
	m.storeEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) WSConnectionOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) WSConnectionClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}
