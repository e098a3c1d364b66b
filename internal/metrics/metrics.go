// Package metrics exports Prometheus counters for the authentication
// lifecycle, fed by the event bus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"mfa-gateway/internal/event"
)

// Listener counts lifecycle events per realm and provider.
type Listener struct {
	events *prometheus.CounterVec
}

// NewListener registers the counters on reg and returns the bus listener.
func NewListener(reg prometheus.Registerer, namespace string) *Listener {
	if namespace == "" {
		namespace = "mfa"
	}
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Total number of MFA lifecycle events",
		},
		[]string{"type", "realm", "provider"},
	)
	reg.MustRegister(events)
	return &Listener{events: events}
}

// HandleAuthEvent implements event.Listener. Counting never fails a request.
func (l *Listener) HandleAuthEvent(ctx context.Context, e event.Event) error {
	l.events.WithLabelValues(string(e.Type), e.RealmName, e.Provider).Inc()
	return nil
}
