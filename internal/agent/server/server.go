// Package server binds the agent's Unix Domain Socket and speaks the
// wire protocol to each connected viewer: identity, one snapshot, then
// a live stream of bus deltas.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/spacegraph-dev/spacegraph/internal/agent/bus"
	"github.com/spacegraph-dev/spacegraph/internal/agent/snapshot"
	"github.com/spacegraph-dev/spacegraph/internal/wire"
)

// initialFrameWait bounds how long a new connection waits for an
// optional first frame from the viewer before the identity is sent.
const initialFrameWait = 200 * time.Millisecond

// SocketMode is the permission bits applied to the bound socket: owner
// read/write only, since the graph exposes process command lines and
// file paths that shouldn't be world-readable.
const SocketMode = 0o600

// Server accepts viewer connections over a Unix Domain Socket.
type Server struct {
	SocketPath   string
	NodeID       string
	Hostname     string
	AgentVersion string
	Capabilities wire.Capabilities

	Bus      *bus.Bus
	Snapshot func() (snapshot.Result, error)
	Log      *slog.Logger

	// OnConnect/OnDisconnect, if set, are called for /metrics gauges.
	OnConnect    func()
	OnDisconnect func()
}

// ListenAndServe binds the socket (removing a stale one left by a
// previous crashed run), accepts connections until ctx is cancelled, and
// cleans the socket file up on return.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("server: remove stale socket %s: %w", s.SocketPath, err)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("server: bind unix socket %s: %w", s.SocketPath, err)
	}
	defer os.Remove(s.SocketPath)

	if err := unix.Chmod(s.SocketPath, SocketMode); err != nil {
		ln.Close()
		return fmt.Errorf("server: chmod socket %s: %w", s.SocketPath, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.Log.Warn("server: accept failed", "err", err)
			continue
		}
		connID := uuid.NewString()
		go s.handleConn(ctx, conn, connID)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn, connID string) {
	defer conn.Close()
	log := s.Log.With("conn_id", connID)
	log.Debug("server: viewer connected")
	if s.OnConnect != nil {
		s.OnConnect()
	}
	defer func() {
		if s.OnDisconnect != nil {
			s.OnDisconnect()
		}
		log.Debug("server: viewer disconnected")
	}()

	dec := wire.NewDecoder(conn)
	enc := wire.NewEncoder(conn)

	// Tolerate (but don't require) an initial Hello/RequestSnapshot
	// frame from the client; a viewer that sends nothing before
	// expecting data is still served correctly once initialFrameWait
	// has passed.
	_ = conn.SetReadDeadline(time.Now().Add(initialFrameWait))
	if hello, err := tryReadOneFrame(dec); err != nil {
		log.Debug("server: no initial frame from viewer", "err", err)
	} else {
		log.Debug("server: received initial frame", "kind", hello.Kind)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if err := enc.Encode(wire.IdentityMsg(wire.NodeIdentity{
		NodeID:       s.NodeID,
		Hostname:     s.Hostname,
		AgentVersion: s.AgentVersion,
		Capabilities: s.Capabilities,
	})); err != nil {
		log.Debug("server: send identity failed", "err", err)
		return
	}

	snap, err := s.Snapshot()
	if err != nil {
		log.Warn("server: build snapshot failed", "err", err)
		return
	}
	if err := enc.Encode(wire.SnapshotMsg(wire.Snapshot{Nodes: snap.Nodes, Edges: snap.Edges})); err != nil {
		log.Debug("server: send snapshot failed", "err", err)
		return
	}

	subID, deltas := s.Bus.Subscribe()
	defer s.Bus.Unsubscribe(subID)

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deltas:
			if !ok {
				return
			}
			if err := enc.Encode(wire.EventMsg(d)); err != nil {
				log.Debug("server: send event failed", "err", err)
				return
			}
		}
	}
}

// tryReadOneFrame attempts a single non-fatal read of a client frame.
// Any decode error (including a client that sent nothing before the read
// deadline, or closed its write side) is treated as "no frame", not a
// connection-ending error.
func tryReadOneFrame(dec *wire.Decoder) (wire.Msg, error) {
	return dec.Decode()
}
