package handlers

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	requests       *prometheus.CounterVec
	fragments      prometheus.Counter
	streamFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (metrics, error) {
	m := metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatstream",
			Name:      "http_requests_total",
			Help:      "Handled HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatstream",
			Name:      "streamed_fragments_total",
			Help:      "Reply fragments written to clients.",
		}),
		streamFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatstream",
			Name:      "stream_failures_total",
			Help:      "Reply streams that ended with an error record.",
		}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.fragments, m.streamFailures} {
		if err := reg.Register(c); err != nil {
			return metrics{}, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// instrument counts the requests of route by status code. The promhttp delegator keeps http.Flusher
// available to the streaming handler.
func (m Main) instrument(route string, h http.HandlerFunc) http.Handler {
	return promhttp.InstrumentHandlerCounter(
		m.metrics.requests.MustCurryWith(prometheus.Labels{"route": route}),
		h,
	)
}
