// Command spacegraph-viewer connects to a spacegraph-agent's Unix Domain
// Socket, maintains the live graph state (layout, timeline, search,
// explain), and exposes it headlessly through a status table and a
// handful of inspection subcommands. 3D rendering and interactive UI
// panels are out of scope; this binary is the engine and CLI around it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/spacegraph-dev/spacegraph/internal/config"
	"github.com/spacegraph-dev/spacegraph/internal/core"
	"github.com/spacegraph-dev/spacegraph/internal/logger"
	"github.com/spacegraph-dev/spacegraph/internal/viewer/explain"
	"github.com/spacegraph-dev/spacegraph/internal/viewer/graph"
	viewermetrics "github.com/spacegraph-dev/spacegraph/internal/viewer/metrics"
	"github.com/spacegraph-dev/spacegraph/internal/viewer/netclient"
	"github.com/spacegraph-dev/spacegraph/internal/viewer/state"
)

func main() {
	var (
		socketFlag      string
		configFlag      string
		logLevelFlag    string
		logFileFlag     string
		metricsAddrFlag string
	)

	root := &cobra.Command{
		Use:   "spacegraph-viewer",
		Short: "Connect to a spacegraph-agent and maintain the live graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession(socketFlag, configFlag, logLevelFlag, logFileFlag, metricsAddrFlag)
			if err != nil {
				return err
			}
			return sess.run(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&socketFlag, "socket", "", "agent Unix Domain Socket path (default: $XDG_RUNTIME_DIR/spacegraph.sock)")
	root.PersistentFlags().StringVar(&configFlag, "config", config.DefaultViewerConfigPath(), "path to viewer.yaml")
	root.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "debug, info, warn, or error (default info)")
	root.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "also write logs to this file")
	root.PersistentFlags().StringVar(&metricsAddrFlag, "metrics-addr", "", "loopback address to serve /metrics on (default: disabled)")

	root.AddCommand(statusCmd(&socketFlag, &configFlag, &logLevelFlag, &logFileFlag, &metricsAddrFlag))
	root.AddCommand(findCmd(&socketFlag, &configFlag, &logLevelFlag, &logFileFlag, &metricsAddrFlag))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "spacegraph-viewer:", err)
		os.Exit(1)
	}
}

// session owns one connection to an agent plus the graph state it
// drives. Every subcommand builds one and runs it for as long as it
// needs the live graph.
type session struct {
	client *netclient.Client
	state  *state.GraphState
	log    *slog.Logger

	reg     *prometheus.Registry
	metrics *viewermetrics.Metrics

	metricsAddr string
	incoming    chan netclient.Incoming
}

func newSession(socketFlag, configFlag, logLevelFlag, logFileFlag, metricsAddrFlag string) (*session, error) {
	fileCfg, err := config.LoadViewerConfig(configFlag)
	if err != nil {
		return nil, err
	}

	sockPath := config.SocketPath(firstNonEmpty(socketFlag, fileCfg.SocketPath))
	metricsAddr := firstNonEmpty(metricsAddrFlag, fileCfg.MetricsAddr)
	if err := logger.Init(firstNonEmpty(logLevelFlag, fileCfg.LogLevel, "info"), firstNonEmpty(logFileFlag, fileCfg.LogFile)); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log := logger.Log

	reg := prometheus.NewRegistry()
	m := viewermetrics.New(reg)

	incoming := make(chan netclient.Incoming, 256)
	client := &netclient.Client{
		SockPath: sockPath,
		Stream:   "agent",
		Out:      incoming,
		Log:      log,
	}

	st := state.New()
	applyViewerConfig(st, fileCfg)

	return &session{
		client:      client,
		state:       st,
		log:         log,
		reg:         reg,
		metrics:     m,
		metricsAddr: metricsAddr,
		incoming:    incoming,
	}, nil
}

// applyViewerConfig layers any non-nil fields from the optional
// viewer.yaml over GraphState's defaults.
func applyViewerConfig(st *state.GraphState, cfg *config.ViewerConfig) {
	if cfg.LayoutForce != nil {
		st.Cfg.LayoutForce = *cfg.LayoutForce
	}
	if cfg.LinkDistance != nil {
		st.Cfg.LinkDistance = *cfg.LinkDistance
	}
	if cfg.Repulsion != nil {
		st.Cfg.Repulsion = *cfg.Repulsion
	}
	if cfg.Damping != nil {
		st.Cfg.Damping = *cfg.Damping
	}
	if cfg.MaxStep != nil {
		st.Cfg.MaxStep = *cfg.MaxStep
	}
	if cfg.Radius != nil {
		st.Cfg.Radius = *cfg.Radius
	}
	if cfg.MaxVisibleNodes != nil {
		st.Cfg.MaxVisibleNodes = *cfg.MaxVisibleNodes
	}
	if cfg.ProgressiveNodesPerFrame != nil {
		st.Cfg.ProgressiveNodesPerFrame = *cfg.ProgressiveNodesPerFrame
	}
	if cfg.GCEnabled != nil {
		st.Cfg.GCEnabled = *cfg.GCEnabled
	}
}

// run drives the session until ctx is cancelled: the netclient reader in
// one goroutine, a fixed-rate tick loop applying incoming messages,
// stepping layout, tending glow/GC, and refreshing /metrics gauges.
func (s *session) run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- s.client.Run(ctx) }()
	go func() { errCh <- viewermetrics.Serve(ctx, s.metricsAddr, s.reg) }()

	const tickInterval = 16 * time.Millisecond
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.log.Info("spacegraph-viewer connected", "socket", s.client.SockPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				return err
			}
		case inc := <-s.incoming:
			s.handleIncoming(inc)
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *session) handleIncoming(inc netclient.Incoming) {
	switch inc.Kind {
	case netclient.IncomingConnected:
		s.log.Debug("connected to agent", "stream", inc.Stream)
	case netclient.IncomingDisconnected:
		s.metrics.NetDisconnects.Inc()
		s.state.Clear()
		s.log.Warn("disconnected from agent, graph cleared", "stream", inc.Stream)
	case netclient.IncomingError:
		s.log.Warn("netclient error", "stream", inc.Stream, "err", inc.Err)
	case netclient.IncomingIdentity, netclient.IncomingSnapshot, netclient.IncomingEvent:
		now := time.Now()
		s.state.Apply(inc.Msg, now)
		s.metrics.EventTotal.Inc()
	}
}

func (s *session) tick(now time.Time) {
	s.state.TickGlow(now)
	s.state.TickGC(now)

	vis := s.state.VisibleSetCapped()
	raw, agg := s.state.VisibleEdgeCounts(vis)
	s.state.SetVisibleCounts(len(vis), raw, agg)

	if s.state.Cfg.LayoutForce {
		s.state.ProgressivePrepare(vis)
		s.state.ForceStep(vis, 0.016)
	}

	s.metrics.VisibleNodes.Set(float64(len(vis)))
	s.metrics.VisibleEdges.Set(float64(raw + agg))
	s.metrics.EventRate.Set(s.state.Perf.EventRate)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// statusCmd prints a live-refreshing table of node/edge/visible/event
// rate counts while connected to stdout's TTY, falling back to a single
// plain snapshot when stdout isn't a terminal (piped output, cron).
func statusCmd(socketFlag, configFlag, logLevelFlag, logFileFlag, metricsAddrFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show live node/edge/event counts from the connected agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession(*socketFlag, *configFlag, *logLevelFlag, *logFileFlag, *metricsAddrFlag)
			if err != nil {
				return err
			}

			isTTY := term.IsTerminal(int(os.Stdout.Fd()))
			ctx := cmd.Context()
			if !isTTY {
				return sess.runOnceAndPrint(ctx)
			}
			return sess.runLiveStatus(ctx)
		},
	}
}

func (s *session) runOnceAndPrint(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	go s.client.Run(ctx)

	deadline := time.After(2500 * time.Millisecond)
	for {
		select {
		case <-ctx.Done():
			s.printStatusLine(os.Stdout)
			return nil
		case <-deadline:
			s.printStatusLine(os.Stdout)
			return nil
		case inc := <-s.incoming:
			s.handleIncoming(inc)
		}
	}
}

func (s *session) runLiveStatus(ctx context.Context) error {
	go s.client.Run(ctx)

	// Redraw is rate-limited independent of how fast deltas arrive: a
	// bursty agent shouldn't make the terminal flicker faster than a
	// human can read it.
	redrawLimiter := rate.NewLimiter(rate.Limit(2), 1)

	physics := time.NewTicker(16 * time.Millisecond)
	defer physics.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case inc := <-s.incoming:
			s.handleIncoming(inc)
		case now := <-physics.C:
			s.tick(now)
			if redrawLimiter.Allow() {
				fmt.Print("\033[H\033[2J")
				s.printStatusLine(os.Stdout)
			}
		}
	}
}

func (s *session) printStatusLine(w *os.File) {
	vis := s.state.VisibleSetCapped()
	raw, agg := s.state.VisibleEdgeCounts(vis)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NODES\tVISIBLE\tRAW EDGES\tAGG EDGES\tEVENTS\tEVENT RATE")
	fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%.1f/s\n",
		s.state.Model.NodeCount(), len(vis), raw, agg, s.state.Perf.EventTotal, s.state.Perf.EventRate)
	tw.Flush()
}

// findCmd searches currently known nodes by substring, the headless
// counterpart to the viewer's in-scene search overlay.
func findCmd(socketFlag, configFlag, logLevelFlag, logFileFlag, metricsAddrFlag *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "find [query]",
		Short: "Search node id/path/cmdline/exe/name for a substring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession(*socketFlag, *configFlag, *logLevelFlag, *logFileFlag, *metricsAddrFlag)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			go sess.client.Run(ctx)

			waitForFirstSnapshot(ctx, sess)

			sess.state.Ui.SearchQuery = args[0]
			sess.state.RecomputeSearchHits(limit)

			if len(sess.state.Ui.SearchHits) == 0 {
				fmt.Println("no matches")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLABEL")
			for _, id := range sess.state.Ui.SearchHits {
				n, ok := sess.state.Model.Node(id)
				label := string(id)
				if ok {
					label = graph.NodeLabelLong(n)
				}
				fmt.Fprintf(w, "%s\t%s\n", id, label)
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 25, "maximum hits to print")

	cmd.AddCommand(explainCmd(socketFlag, configFlag, logLevelFlag, logFileFlag, metricsAddrFlag))
	return cmd
}

// explainCmd prints the shortest path between two node IDs, the
// headless counterpart of the viewer's two-node "explain" overlay.
func explainCmd(socketFlag, configFlag, logLevelFlag, logFileFlag, metricsAddrFlag *string) *cobra.Command {
	var maxDepth int
	cmd := &cobra.Command{
		Use:   "explain [node-a] [node-b]",
		Short: "Show the shortest path between two nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession(*socketFlag, *configFlag, *logLevelFlag, *logFileFlag, *metricsAddrFlag)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			go sess.client.Run(ctx)
			waitForFirstSnapshot(ctx, sess)

			if maxDepth < 1 {
				maxDepth = sess.state.Cfg.ExplainMaxDepth
			}
			allowed := make(map[core.NodeId]bool)
			sess.state.Model.Each(func(id core.NodeId, n core.Node) { allowed[id] = true })

			steps, found := explain.ShortestPath(sess.state.Model, core.NodeId(args[0]), core.NodeId(args[1]), maxDepth, allowed)
			if !found {
				fmt.Println("no path found")
				return nil
			}
			for _, st := range steps {
				fmt.Printf("%s --[%s]--> %s\n", st.From, st.Class, st.To)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "maximum hops to search (default: viewer config)")
	return cmd
}

func waitForFirstSnapshot(ctx context.Context, sess *session) {
	for {
		select {
		case <-ctx.Done():
			return
		case inc := <-sess.incoming:
			sess.handleIncoming(inc)
			if inc.Kind == netclient.IncomingSnapshot {
				return
			}
		}
	}
}
