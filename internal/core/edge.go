package core

import (
	"encoding/json"
	"fmt"
)

// EdgeKind is the tagged union of edge variants. Opens carries fd/mode;
// Execs and RunsAs carry no extra data.
type EdgeKind struct {
	Kind EdgeKindTag
	Fd   int32  // only set for Opens
	Mode FdMode // only set for Opens
}

type EdgeKindTag string

const (
	EdgeKindOpens  EdgeKindTag = "Opens"
	EdgeKindExecs  EdgeKindTag = "Execs"
	EdgeKindRunsAs EdgeKindTag = "RunsAs"
)

// FdMode is the r/w/rw/? classification derived from a file descriptor's
// open flags (see internal/agent/procfs for the flags-to-mode mapping).
type FdMode string

const (
	FdModeRead    FdMode = "r"
	FdModeWrite   FdMode = "w"
	FdModeReadWrite FdMode = "rw"
	FdModeUnknown FdMode = "?"
)

func Opens(fd int32, mode FdMode) EdgeKind {
	return EdgeKind{Kind: EdgeKindOpens, Fd: fd, Mode: mode}
}

func Execs() EdgeKind { return EdgeKind{Kind: EdgeKindExecs} }

func RunsAs() EdgeKind { return EdgeKind{Kind: EdgeKindRunsAs} }

// Edge is a directed, typed relationship between two nodes. The viewer's
// model keeps one raw edge per (From, To, kind[, fd]); upserting the same
// edge again does not add a second raw edge but still advances
// AggregatedEdge.Count.
type Edge struct {
	From NodeId
	To   NodeId
	Kind EdgeKind
}

type edgeEnvelope struct {
	From NodeId          `json:"from"`
	To   NodeId          `json:"to"`
	Kind json.RawMessage `json:"kind"`
}

type edgeKindEnvelope struct {
	Type EdgeKindTag     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type opensData struct {
	Fd   int32  `json:"fd"`
	Mode FdMode `json:"mode"`
}

func (k EdgeKind) MarshalJSON() ([]byte, error) {
	env := edgeKindEnvelope{Type: k.Kind}
	if k.Kind == EdgeKindOpens {
		raw, err := json.Marshal(opensData{Fd: k.Fd, Mode: k.Mode})
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

func (k *EdgeKind) UnmarshalJSON(b []byte) error {
	var env edgeKindEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	switch env.Type {
	case EdgeKindOpens:
		var d opensData
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &d); err != nil {
				return fmt.Errorf("core: unmarshal opens edge: %w", err)
			}
		}
		*k = Opens(d.Fd, d.Mode)
	case EdgeKindExecs:
		*k = Execs()
	case EdgeKindRunsAs:
		*k = RunsAs()
	default:
		return fmt.Errorf("core: unmarshal edge kind: unknown type %q", env.Type)
	}
	return nil
}

func (e Edge) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Kind)
	if err != nil {
		return nil, err
	}
	return json.Marshal(edgeEnvelope{From: e.From, To: e.To, Kind: raw})
}

func (e *Edge) UnmarshalJSON(b []byte) error {
	var env edgeEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	var k EdgeKind
	if err := json.Unmarshal(env.Kind, &k); err != nil {
		return err
	}
	e.From, e.To, e.Kind = env.From, env.To, k
	return nil
}

// AggregatedEdge is the viewer-side summary the graph model maintains per
// distinct (From, To, Kind.Kind) triple: how many times it's been seen,
// when it first/last occurred, and how many of the underlying raw edges
// are still "live" (haven't been individually removed). The class tag
// erases the fd/mode payload for bucketing purposes; LastKind retains the
// fd/mode of the most recently upserted raw edge for display.
type AggregatedEdge struct {
	From      NodeId
	To        NodeId
	Kind      EdgeKindTag
	Count     uint64
	FirstTs   int64 // unix nanos
	LastTs    int64 // unix nanos
	LiveCount uint64
	LastKind  EdgeKind
}
