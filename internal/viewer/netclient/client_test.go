package netclient

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/spacegraph-dev/spacegraph/internal/core"
	"github.com/spacegraph-dev/spacegraph/internal/wire"
)

func TestClientReceivesIdentitySnapshotAndEvent(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		dec := wire.NewDecoder(conn)
		if _, err := dec.Decode(); err != nil { // hello
			return
		}

		enc := wire.NewEncoder(conn)
		_ = enc.Encode(wire.IdentityMsg(wire.NodeIdentity{NodeID: "n1"}))
		_ = enc.Encode(wire.SnapshotMsg(wire.Snapshot{}))
		_ = enc.Encode(wire.EventMsg(core.BatchBegin(1)))
		time.Sleep(50 * time.Millisecond)
	}()

	out := make(chan Incoming, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c := &Client{SockPath: sockPath, Stream: "agent1", Out: out}
	go c.Run(ctx)

	want := []IncomingKind{IncomingConnected, IncomingIdentity, IncomingSnapshot, IncomingEvent}
	for _, w := range want {
		select {
		case inc := <-out:
			if inc.Kind != w {
				t.Fatalf("expected %s, got %s", w, inc.Kind)
			}
			if inc.Stream != "agent1" {
				t.Fatalf("expected stream label agent1, got %s", inc.Stream)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}

	<-serverDone
}

func TestClientReportsDisconnectWhenNothingListening(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "nobody-home.sock")

	out := make(chan Incoming, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	c := &Client{SockPath: sockPath, Stream: "agent1", Out: out}
	go c.Run(ctx)

	select {
	case inc := <-out:
		if inc.Kind != IncomingError {
			t.Fatalf("expected an error event first, got %s", inc.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the connect error")
	}

	select {
	case inc := <-out:
		if inc.Kind != IncomingDisconnected {
			t.Fatalf("expected a disconnect event after the error, got %s", inc.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the disconnect event")
	}
}
