package observability

import (
	"context"

	prom "github.com/prometheus/client_golang/prometheus"
)

// NotifyCountKey is the Data key whose integer value PrometheusObserver adds
// to the notifications counter.
const NotifyCountKey = "notified"

// PrometheusObserver counts events by type and source, and listener
// notifications by source.
type PrometheusObserver struct {
	events        *prom.CounterVec
	notifications *prom.CounterVec
}

// NewPrometheusObserver creates the counters and registers them on reg.
// A nil reg uses a fresh private registry.
func NewPrometheusObserver(reg prom.Registerer) *PrometheusObserver {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	po := &PrometheusObserver{
		events: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "observable",
			Name:      "events_total",
			Help:      "State container events by type and source",
		}, []string{"type", "source"}),
		notifications: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "observable",
			Name:      "notifications_total",
			Help:      "Listener callbacks invoked by notify passes",
		}, []string{"source"}),
	}
	reg.MustRegister(po.events, po.notifications)
	return po
}

func (p *PrometheusObserver) OnEvent(ctx context.Context, event Event) {
	if p == nil || p.events == nil {
		return
	}
	p.events.WithLabelValues(string(event.Type), event.Source).Inc()

	if n, ok := event.Data[NotifyCountKey].(int); ok && n > 0 {
		p.notifications.WithLabelValues(event.Source).Add(float64(n))
	}
}
