package wire

import (
	"bytes"
	"testing"

	"github.com/spacegraph-dev/spacegraph/internal/core"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	msgs := []Msg{
		HelloMsg(),
		IdentityMsg(NodeIdentity{NodeID: "host1", Hostname: "host1", AgentVersion: "0.1.0", Capabilities: Capabilities{Privileged: true, FdEdges: true, AllProcesses: true}}),
		SnapshotMsg(Snapshot{
			Nodes: []core.Node{core.NewProcessNode(core.ProcessNode{ID: core.IDProcess("host1", 1), Pid: 1, Exe: "/sbin/init"})},
			Edges: []core.Edge{{From: core.IDProcess("host1", 1), To: core.IDFile("host1", "/etc/hosts"), Kind: core.Opens(3, core.FdModeRead)}},
		}),
		EventMsg(core.BatchBegin(1)),
		PingMsg(),
		PongMsg(),
	}

	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			t.Fatalf("encode %v: %v", m.Kind, err)
		}
	}

	dec := NewDecoder(&buf)
	for i, want := range msgs {
		got, err := dec.Decode()
		if err != nil {
			t.Fatalf("decode msg %d: %v", i, err)
		}
		if got.Kind != want.Kind {
			t.Fatalf("msg %d: got kind %q want %q", i, got.Kind, want.Kind)
		}
	}
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	// length prefix claiming more than MaxFrameSize
	for i := range prefix {
		prefix[i] = 0xFF
	}
	buf.Write(prefix[:])

	dec := NewDecoder(&buf)
	if _, err := dec.Decode(); err == nil {
		t.Fatal("expected error decoding oversized frame")
	}
}
