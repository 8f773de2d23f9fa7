package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacegraph-dev/spacegraph/internal/agent/bus"
	"github.com/spacegraph-dev/spacegraph/internal/agent/snapshot"
	"github.com/spacegraph-dev/spacegraph/internal/core"
	"github.com/spacegraph-dev/spacegraph/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServerServesIdentitySnapshotAndEvents(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "spacegraph.sock")
	b := bus.New()

	srv := &Server{
		SocketPath:   sockPath,
		NodeID:       "host1",
		Hostname:     "host1",
		AgentVersion: "test",
		Capabilities: wire.Capabilities{Privileged: true, FdEdges: true, AllProcesses: true},
		Bus:          b,
		Snapshot: func() (snapshot.Result, error) {
			return snapshot.Result{
				Nodes: []core.Node{core.NewProcessNode(core.ProcessNode{ID: core.IDProcess("host1", 1), Pid: 1, Exe: "/sbin/init"})},
			}, nil
		},
		Log: discardLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	var conn net.Conn
	var err error
	require.Eventually(t, func() bool {
		conn, err = net.Dial("unix", sockPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	defer conn.Close()

	dec := wire.NewDecoder(conn)

	identity, err := dec.Decode()
	require.NoError(t, err)
	require.Equal(t, wire.MsgIdentity, identity.Kind)
	require.Equal(t, "host1", identity.Identity.NodeID)

	snap, err := dec.Decode()
	require.NoError(t, err)
	require.Equal(t, wire.MsgSnapshot, snap.Kind)
	require.Len(t, snap.Snapshot.Nodes, 1)

	// A delta published after the connection is up should arrive as an
	// Event frame.
	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)
	b.Publish(core.UpsertNode(core.NewFileNode(core.FileNode{ID: core.IDFile("host1", "/etc/hosts"), Path: "/etc/hosts", Kind: core.FileKindRegular})))

	ev, err := dec.Decode()
	require.NoError(t, err)
	require.Equal(t, wire.MsgEvent, ev.Kind)
	require.Equal(t, core.DeltaUpsertNode, ev.Event.Kind)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
