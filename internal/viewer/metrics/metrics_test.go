package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.VisibleNodes.Set(5)
	m.EventTotal.Inc()
	m.ExplainQueries.WithLabelValues("true").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestServeNoopOnBlankAddr(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Serve(context.Background(), "", reg); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}
