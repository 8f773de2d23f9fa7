// Package core holds the data model shared by the agent and the viewer:
// node/edge identifiers, the tagged Node/Edge/Delta variants, and the
// aggregated-edge index. Both sides of the wire protocol import this
// package; it has no dependency on either the agent or the viewer.
package core

import "fmt"

// NodeId is an opaque, globally unique string-shaped identifier scoped by
// an agent node_id. Callers never parse it; only the three constructors
// below produce one.
type NodeId string

// IDProcess builds the NodeId for a process on the given agent node.
func IDProcess(nodeID string, pid int32) NodeId {
	return NodeId(fmt.Sprintf("%s:process:pid:%d", nodeID, pid))
}

// IDUser builds the NodeId for a user on the given agent node.
func IDUser(nodeID string, uid uint32) NodeId {
	return NodeId(fmt.Sprintf("%s:user:%d", nodeID, uid))
}

// IDFile builds the NodeId for a file on the given agent node.
func IDFile(nodeID string, path string) NodeId {
	return NodeId(fmt.Sprintf("%s:file:%s", nodeID, path))
}
