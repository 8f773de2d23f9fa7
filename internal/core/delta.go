package core

import (
	"encoding/json"
	"fmt"
)

// DeltaKind tags the six delta variants the agent streams after a
// snapshot. BatchBegin/BatchEnd bracket a set of node/edge changes that
// arrived as one logical unit (one coalesced fs event, one proc-diff
// tick) so the viewer can glow them together.
type DeltaKind string

const (
	DeltaBatchBegin DeltaKind = "BatchBegin"
	DeltaBatchEnd   DeltaKind = "BatchEnd"
	DeltaUpsertNode DeltaKind = "UpsertNode"
	DeltaRemoveNode DeltaKind = "RemoveNode"
	DeltaUpsertEdge DeltaKind = "UpsertEdge"
	DeltaRemoveEdge DeltaKind = "RemoveEdge"
)

// Delta is the tagged union the agent's Bus carries and the viewer's
// GraphState.Apply consumes. Exactly one payload field is populated,
// selected by Kind.
type Delta struct {
	Kind    DeltaKind
	BatchID uint64 // BatchBegin, BatchEnd
	Node    *Node   // UpsertNode
	NodeID  NodeId  // RemoveNode
	Edge    *Edge   // UpsertEdge, RemoveEdge
}

func BatchBegin(id uint64) Delta { return Delta{Kind: DeltaBatchBegin, BatchID: id} }
func BatchEnd(id uint64) Delta   { return Delta{Kind: DeltaBatchEnd, BatchID: id} }
func UpsertNode(n Node) Delta    { return Delta{Kind: DeltaUpsertNode, Node: &n} }
func RemoveNode(id NodeId) Delta { return Delta{Kind: DeltaRemoveNode, NodeID: id} }
func UpsertEdge(e Edge) Delta    { return Delta{Kind: DeltaUpsertEdge, Edge: &e} }
func RemoveEdge(e Edge) Delta    { return Delta{Kind: DeltaRemoveEdge, Edge: &e} }

type deltaEnvelope struct {
	Type DeltaKind       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type batchData struct {
	BatchID uint64 `json:"batch_id"`
}

type nodeIDData struct {
	ID NodeId `json:"id"`
}

func (d Delta) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	var err error
	switch d.Kind {
	case DeltaBatchBegin, DeltaBatchEnd:
		raw, err = json.Marshal(batchData{BatchID: d.BatchID})
	case DeltaUpsertNode:
		raw, err = json.Marshal(d.Node)
	case DeltaRemoveNode:
		raw, err = json.Marshal(nodeIDData{ID: d.NodeID})
	case DeltaUpsertEdge, DeltaRemoveEdge:
		raw, err = json.Marshal(d.Edge)
	default:
		return nil, fmt.Errorf("core: marshal delta: unknown kind %q", d.Kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(deltaEnvelope{Type: d.Kind, Data: raw})
}

func (d *Delta) UnmarshalJSON(b []byte) error {
	var env deltaEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	switch env.Type {
	case DeltaBatchBegin, DeltaBatchEnd:
		var bd batchData
		if err := json.Unmarshal(env.Data, &bd); err != nil {
			return fmt.Errorf("core: unmarshal batch delta: %w", err)
		}
		d.Kind, d.BatchID = env.Type, bd.BatchID
	case DeltaUpsertNode:
		var n Node
		if err := json.Unmarshal(env.Data, &n); err != nil {
			return fmt.Errorf("core: unmarshal upsert-node delta: %w", err)
		}
		*d = UpsertNode(n)
	case DeltaRemoveNode:
		var nd nodeIDData
		if err := json.Unmarshal(env.Data, &nd); err != nil {
			return fmt.Errorf("core: unmarshal remove-node delta: %w", err)
		}
		*d = RemoveNode(nd.ID)
	case DeltaUpsertEdge:
		var e Edge
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return fmt.Errorf("core: unmarshal upsert-edge delta: %w", err)
		}
		*d = UpsertEdge(e)
	case DeltaRemoveEdge:
		var e Edge
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return fmt.Errorf("core: unmarshal remove-edge delta: %w", err)
		}
		*d = RemoveEdge(e)
	default:
		return fmt.Errorf("core: unmarshal delta: unknown type %q", env.Type)
	}
	return nil
}
