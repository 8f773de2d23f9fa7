// Package metrics exposes the viewer's Prometheus gauges/counters and an
// optional loopback HTTP endpoint, mirroring internal/agent/metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	VisibleNodes   prometheus.Gauge
	VisibleEdges   prometheus.Gauge
	EventRate      prometheus.Gauge
	EventTotal     prometheus.Counter
	GCRemovedTotal prometheus.Counter
	ExplainQueries *prometheus.CounterVec
	NetDisconnects prometheus.Counter
}

func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VisibleNodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spacegraph_viewer_visible_nodes",
			Help: "Nodes currently within the visible-set cap.",
		}),
		VisibleEdges: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spacegraph_viewer_visible_edges",
			Help: "Raw plus aggregated edges currently visible.",
		}),
		EventRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spacegraph_viewer_event_rate",
			Help: "Deltas applied in the trailing one-second window.",
		}),
		EventTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacegraph_viewer_events_total",
			Help: "Total deltas applied since connecting.",
		}),
		GCRemovedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacegraph_viewer_gc_removed_total",
			Help: "Orphaned file nodes removed by the GC pass.",
		}),
		ExplainQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spacegraph_viewer_explain_queries_total",
			Help: "Shortest-path queries, by whether a path was found.",
		}, []string{"found"}),
		NetDisconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacegraph_viewer_net_disconnects_total",
			Help: "Agent connection drops observed by the netclient.",
		}),
	}
}

// Serve runs a loopback-only HTTP server exposing /metrics until ctx is
// cancelled. A blank addr is a no-op.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics: serve %s: %w", addr, err)
	}
}
