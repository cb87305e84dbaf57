// Package metrics counts push receiver events for Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pushreceiver "github.com/slush-dev/push-receiver"
)

// Sink is a pushreceiver.Sink decorator that records every event before
// passing it on.
type Sink struct {
	next     pushreceiver.Sink
	registry *prometheus.Registry

	events     *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	registered prometheus.Gauge
}

var _ pushreceiver.ContextSink = (*Sink)(nil)

// NewSink wraps next and registers its collectors on a fresh registry.
func NewSink(next pushreceiver.Sink) *Sink {
	s := &Sink{
		next:     next,
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_receiver",
				Name:      "events_total",
				Help:      "Events emitted to the consumer.",
			},
			[]string{"kind"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_receiver",
				Name:      "events_dropped_total",
				Help:      "Events dropped because the consumer was gone or shutdown came first.",
			},
			[]string{"kind"},
		),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "push_receiver",
			Name:      "registered",
			Help:      "1 once a registration succeeded in this process.",
		}),
	}
	s.registry.MustRegister(s.events, s.dropped, s.registered)
	return s
}

// Send records ev and forwards it.
func (s *Sink) Send(ev pushreceiver.Event) {
	s.SendContext(context.Background(), ev)
}

// SendContext records ev and forwards it, giving up when ctx is done.
func (s *Sink) SendContext(ctx context.Context, ev pushreceiver.Event) bool {
	kind := Kind(ev)
	if !s.next.Alive() {
		s.dropped.WithLabelValues(kind).Inc()
		return false
	}
	if _, ok := ev.(pushreceiver.TokenUpdated); ok {
		s.registered.Set(1)
	}
	if !pushreceiver.Deliver(ctx, s.next, ev) {
		s.dropped.WithLabelValues(kind).Inc()
		return false
	}
	s.events.WithLabelValues(kind).Inc()
	return true
}

// Alive reports whether the wrapped sink is alive.
func (s *Sink) Alive() bool {
	return s.next.Alive()
}

// Registry returns the registry holding the sink's collectors.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Kind returns the metric label for ev.
func Kind(ev pushreceiver.Event) string {
	switch ev.(type) {
	case pushreceiver.ServiceStarted:
		return "service_started"
	case pushreceiver.TokenUpdated:
		return "token_updated"
	case pushreceiver.NotificationReceived:
		return "notification_received"
	case pushreceiver.ServiceError:
		return "service_error"
	default:
		return "other"
	}
}
