// Package wire defines the agent<->viewer protocol: the Msg envelope and
// the length-delimited framing codec it travels in over the Unix Domain
// Socket. Payload types (core.Node, core.Edge, core.Delta) live in
// internal/core; this package only adds the session-level messages that
// wrap them.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/spacegraph-dev/spacegraph/internal/core"
)

type MsgKind string

const (
	MsgHello           MsgKind = "Hello"
	MsgIdentity        MsgKind = "Identity"
	MsgRequestSnapshot MsgKind = "RequestSnapshot"
	MsgSnapshot        MsgKind = "Snapshot"
	MsgEvent           MsgKind = "Event"
	MsgPing            MsgKind = "Ping"
	MsgPong            MsgKind = "Pong"
)

// Capabilities advertises what the connected agent can see, so the
// viewer can explain gaps (e.g. a user-mode agent missing fd edges for
// processes it doesn't own) instead of silently showing a partial graph.
type Capabilities struct {
	Privileged   bool `json:"privileged"`
	FdEdges      bool `json:"fd_edges"`
	AllProcesses bool `json:"all_processes"`
}

// NodeIdentity introduces the agent to a freshly connected viewer.
type NodeIdentity struct {
	NodeID       string       `json:"node_id"`
	Hostname     string       `json:"hostname"`
	AgentVersion string       `json:"agent_version"`
	Capabilities Capabilities `json:"capabilities"`
}

// Snapshot is the full graph state sent once per connection, immediately
// after Identity, before any Event deltas.
type Snapshot struct {
	Nodes []core.Node `json:"nodes"`
	Edges []core.Edge `json:"edges"`
}

// Msg is the tagged envelope every frame on the wire carries.
type Msg struct {
	Kind     MsgKind
	Identity *NodeIdentity
	Snapshot *Snapshot
	Event    *core.Delta
}

func HelloMsg() Msg           { return Msg{Kind: MsgHello} }
func RequestSnapshotMsg() Msg { return Msg{Kind: MsgRequestSnapshot} }
func PingMsg() Msg            { return Msg{Kind: MsgPing} }
func PongMsg() Msg            { return Msg{Kind: MsgPong} }

func IdentityMsg(id NodeIdentity) Msg { return Msg{Kind: MsgIdentity, Identity: &id} }
func SnapshotMsg(s Snapshot) Msg      { return Msg{Kind: MsgSnapshot, Snapshot: &s} }
func EventMsg(d core.Delta) Msg       { return Msg{Kind: MsgEvent, Event: &d} }

type msgEnvelope struct {
	Type MsgKind         `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (m Msg) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	var err error
	switch m.Kind {
	case MsgHello, MsgRequestSnapshot, MsgPing, MsgPong:
		// no payload
	case MsgIdentity:
		raw, err = json.Marshal(m.Identity)
	case MsgSnapshot:
		raw, err = json.Marshal(m.Snapshot)
	case MsgEvent:
		raw, err = json.Marshal(m.Event)
	default:
		return nil, fmt.Errorf("wire: marshal msg: unknown kind %q", m.Kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(msgEnvelope{Type: m.Kind, Data: raw})
}

func (m *Msg) UnmarshalJSON(b []byte) error {
	var env msgEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	switch env.Type {
	case MsgHello, MsgRequestSnapshot, MsgPing, MsgPong:
		*m = Msg{Kind: env.Type}
	case MsgIdentity:
		var id NodeIdentity
		if err := json.Unmarshal(env.Data, &id); err != nil {
			return fmt.Errorf("wire: unmarshal identity: %w", err)
		}
		*m = IdentityMsg(id)
	case MsgSnapshot:
		var s Snapshot
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return fmt.Errorf("wire: unmarshal snapshot: %w", err)
		}
		*m = SnapshotMsg(s)
	case MsgEvent:
		var d core.Delta
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return fmt.Errorf("wire: unmarshal event: %w", err)
		}
		*m = EventMsg(d)
	default:
		return fmt.Errorf("wire: unmarshal msg: unknown type %q", env.Type)
	}
	return nil
}
