// Command spacegraph-agent discovers processes, files, and users on this
// host, keeps a live graph of them, and serves it over a Unix Domain
// Socket to any number of connected spacegraph-viewer clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spacegraph-dev/spacegraph/internal/agent"
	"github.com/spacegraph-dev/spacegraph/internal/agent/bus"
	agentmetrics "github.com/spacegraph-dev/spacegraph/internal/agent/metrics"
	"github.com/spacegraph-dev/spacegraph/internal/agent/pathpolicy"
	"github.com/spacegraph-dev/spacegraph/internal/agent/procfs"
	"github.com/spacegraph-dev/spacegraph/internal/agent/server"
	"github.com/spacegraph-dev/spacegraph/internal/agent/snapshot"
	"github.com/spacegraph-dev/spacegraph/internal/agent/watchfs"
	"github.com/spacegraph-dev/spacegraph/internal/agent/watchproc"
	"github.com/spacegraph-dev/spacegraph/internal/config"
	"github.com/spacegraph-dev/spacegraph/internal/core"
	"github.com/spacegraph-dev/spacegraph/internal/logger"
	"github.com/spacegraph-dev/spacegraph/internal/wire"
)

const version = "0.1.0"

func main() {
	var (
		modeFlag        string
		nodeIDFlag      string
		socketFlag      string
		configFlag      string
		includeFlag     []string
		excludeFlag     []string
		logLevelFlag    string
		logFileFlag     string
		metricsAddrFlag string
	)

	root := &cobra.Command{
		Use:   "spacegraph-agent",
		Short: "Discover processes, files, and users and serve a live graph over a Unix socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			fileCfg, err := config.LoadAgentConfig(configFlag)
			if err != nil {
				return err
			}

			mode, err := agent.ParseMode(firstNonEmpty(modeFlag, fileCfg.Mode, string(agent.ModeUser)))
			if err != nil {
				return err
			}

			nodeID := config.NodeID(firstNonEmpty(nodeIDFlag, fileCfg.NodeID))
			sockPath := config.SocketPath(firstNonEmpty(socketFlag, fileCfg.SocketPath))
			metricsAddr := firstNonEmpty(metricsAddrFlag, fileCfg.MetricsAddr)

			includes := config.EffectiveIncludes(mode, firstNonEmptyList(includeFlag, fileCfg.Includes))
			excludes := config.EffectiveExcludes(mode, firstNonEmptyList(excludeFlag, fileCfg.Excludes))

			if err := logger.Init(firstNonEmpty(logLevelFlag, fileCfg.LogLevel, "info"), firstNonEmpty(logFileFlag, fileCfg.LogFile)); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			if agent.ShouldWarnPrivilegedWithoutRoot(mode, os.Geteuid()) {
				logger.Warn("running in privileged mode without root; process and file visibility will be limited to this user", "euid", os.Geteuid())
			}

			return runAgent(cmd.Context(), agentOpts{
				mode:        mode,
				nodeID:      nodeID,
				sockPath:    sockPath,
				includes:    includes,
				excludes:    excludes,
				metricsAddr: metricsAddr,
				log:         logger.Log,
			})
		},
	}

	root.Flags().StringVar(&modeFlag, "mode", "", "discovery mode: user or privileged (default user)")
	root.Flags().StringVar(&nodeIDFlag, "node-id", "", "identifier this agent reports to viewers (default: hostname)")
	root.Flags().StringVar(&socketFlag, "socket", "", "Unix Domain Socket path to bind (default: $XDG_RUNTIME_DIR/spacegraph.sock)")
	root.Flags().StringVar(&configFlag, "config", config.DefaultAgentConfigPath(), "path to agent.yaml")
	root.Flags().StringSliceVar(&includeFlag, "include", nil, "path prefix to watch (repeatable)")
	root.Flags().StringSliceVar(&excludeFlag, "exclude", nil, "path prefix to exclude (repeatable)")
	root.Flags().StringVar(&logLevelFlag, "log-level", "", "debug, info, warn, or error (default info)")
	root.Flags().StringVar(&logFileFlag, "log-file", "", "also write logs to this file")
	root.Flags().StringVar(&metricsAddrFlag, "metrics-addr", "", "loopback address to serve /metrics on, e.g. 127.0.0.1:9090 (default: disabled)")

	root.AddCommand(doctorCmd(&configFlag))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "spacegraph-agent:", err)
		os.Exit(1)
	}
}

type agentOpts struct {
	mode        agent.Mode
	nodeID      string
	sockPath    string
	includes    []string
	excludes    []string
	metricsAddr string
	log         *slog.Logger
}

// runAgent wires policy, the snapshot builder, both watchers, the bus,
// the socket server, and the optional metrics endpoint together, and
// runs them all until ctx is cancelled. Every goroutine's error is
// collected by the errgroup; the first one to fail cancels the rest.
func runAgent(ctx context.Context, o agentOpts) error {
	policy := pathpolicy.New(o.includes, o.excludes)
	b := bus.New()
	reg := prometheus.NewRegistry()
	m := agentmetrics.New(reg)

	fsWatcher, err := watchfs.New(o.nodeID, policy, o.includes, o.log)
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}
	procWatcher := watchproc.New(o.nodeID, o.log)

	caps := wire.Capabilities{
		Privileged:   o.mode == agent.ModePrivileged,
		FdEdges:      true,
		AllProcesses: o.mode == agent.ModePrivileged,
	}

	srv := &server.Server{
		SocketPath:   o.sockPath,
		NodeID:       o.nodeID,
		Hostname:     hostnameOrNodeID(o.nodeID),
		AgentVersion: version,
		Capabilities: caps,
		Bus:          b,
		Snapshot: func() (snapshot.Result, error) {
			return snapshot.Build(o.nodeID, policy, o.log)
		},
		Log:          o.log,
		OnConnect:    func() { m.ServerConnections.Inc() },
		OnDisconnect: func() { m.ServerConnections.Dec() },
	}

	fsOut := make(chan []core.Delta, 64)
	procOut := make(chan []core.Delta, 64)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fsWatcher.Run(gctx, fsOut)
		return nil
	})
	g.Go(func() error {
		procWatcher.Run(gctx, procOut)
		return nil
	})
	g.Go(func() error {
		forwardBatches(fsOut, b, m, "fs")
		return nil
	})
	g.Go(func() error {
		forwardBatches(procOut, b, m, "proc")
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		return agentmetrics.Serve(gctx, o.metricsAddr, reg)
	})

	o.log.Info("spacegraph-agent listening",
		"socket", o.sockPath, "node_id", o.nodeID, "mode", o.mode,
		"includes", o.includes, "excludes", o.excludes)

	return g.Wait()
}

// forwardBatches republishes every batch a watcher emits onto the bus
// until its channel closes (which happens when ctx is cancelled), and
// keeps the watchfs/watchproc counters current for /metrics.
func forwardBatches(in <-chan []core.Delta, b *bus.Bus, m *agentmetrics.Metrics, source string) {
	for batch := range in {
		b.PublishBatch(batch)
		switch source {
		case "fs":
			m.WatchFSBatches.Inc()
		case "proc":
			m.WatchProcPolls.Inc()
		}
		for _, d := range batch {
			m.BusDeltasPublished.WithLabelValues(string(d.Kind)).Inc()
		}
	}
}

func hostnameOrNodeID(nodeID string) string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return nodeID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyList(primary []string, fallback []string) []string {
	if len(primary) > 0 {
		return primary
	}
	return fallback
}

// doctorCmd reports whether /proc is readable and how many processes
// and watchable roots the current user can actually see, so an operator
// can tell user-mode-limited visibility from a real misconfiguration.
func doctorCmd(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check /proc visibility and watch roots before starting the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			pids, err := procfs.ListPids()
			if err != nil {
				fmt.Fprintf(w, "proc\tERROR\t%v\n", err)
			} else {
				fmt.Fprintf(w, "proc\tOK\t%d pids visible\n", len(pids))
			}

			passwd, err := procfs.ParsePasswd()
			if err != nil {
				fmt.Fprintf(w, "passwd\tERROR\t%v\n", err)
			} else {
				fmt.Fprintf(w, "passwd\tOK\t%d accounts\n", len(passwd))
			}

			fileCfg, err := config.LoadAgentConfig(*configFlag)
			if err != nil {
				fmt.Fprintf(w, "config\tERROR\t%v\n", err)
				return nil
			}
			fmt.Fprintf(w, "config\tOK\t%s\n", *configFlag)

			mode, _ := agent.ParseMode(firstNonEmpty(fileCfg.Mode, string(agent.ModeUser)))
			includes := config.EffectiveIncludes(mode, fileCfg.Includes)
			for _, root := range includes {
				if _, err := os.Stat(root); err != nil {
					fmt.Fprintf(w, "watch root\tMISSING\t%s\n", root)
					continue
				}
				fmt.Fprintf(w, "watch root\tOK\t%s\n", root)
			}

			socketPath := config.SocketPath(fileCfg.SocketPath)
			fmt.Fprintf(w, "socket path\t-\t%s\n", socketPath)
			return nil
		},
	}
}
