// Package metrics exposes the agent's Prometheus counters/gauges and an
// optional loopback HTTP endpoint to scrape them. Off by default: a
// caller only starts Serve when a --metrics-addr flag is set.
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

// Metrics holds every counter/gauge the agent publishes.
type Metrics struct {
	SnapshotNodes      prometheus.Gauge
	SnapshotEdges      prometheus.Gauge
	BusSubscribers     prometheus.Gauge
	BusDeltasPublished *prometheus.CounterVec
	BusDeltasDropped   prometheus.Counter
	WatchFSBatches     prometheus.Counter
	WatchFSCoalesced   prometheus.Counter
	WatchProcPolls     prometheus.Counter
	ServerConnections  prometheus.Gauge
}

// New constructs and registers the agent's metric set against reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SnapshotNodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spacegraph_agent_snapshot_nodes",
			Help: "Node count in the most recently built snapshot.",
		}),
		SnapshotEdges: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spacegraph_agent_snapshot_edges",
			Help: "Edge count in the most recently built snapshot.",
		}),
		BusSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spacegraph_agent_bus_subscribers",
			Help: "Currently connected viewer subscribers.",
		}),
		BusDeltasPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spacegraph_agent_bus_deltas_published_total",
			Help: "Deltas published to the bus, by kind.",
		}, []string{"kind"}),
		BusDeltasDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacegraph_agent_bus_deltas_dropped_total",
			Help: "Deltas dropped because a subscriber's queue was full.",
		}),
		WatchFSBatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacegraph_agent_watchfs_batches_total",
			Help: "Coalesced filesystem-event batches flushed.",
		}),
		WatchFSCoalesced: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacegraph_agent_watchfs_coalesced_events_total",
			Help: "Raw fsnotify events absorbed into a coalescing window.",
		}),
		WatchProcPolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacegraph_agent_watchproc_polls_total",
			Help: "Process-change batches forwarded from the process watcher.",
		}),
		ServerConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spacegraph_agent_server_connections",
			Help: "Currently connected viewer clients.",
		}),
	}
}

// Serve runs a loopback-only HTTP server exposing /metrics until ctx is
// cancelled. A blank addr disables the endpoint entirely (the caller
// should simply not call Serve in that case; this guard exists so
// wiring code can call it unconditionally).
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
