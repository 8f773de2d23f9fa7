// Package netclient connects to an agent's Unix Domain Socket and turns
// its framed Msg stream into a channel of Incoming events the viewer's
// state engine (and CLI) can consume without caring about reconnects.
package netclient

import "github.com/spacegraph-dev/spacegraph/internal/wire"

type IncomingKind string

const (
	IncomingConnected    IncomingKind = "Connected"
	IncomingDisconnected IncomingKind = "Disconnected"
	IncomingIdentity     IncomingKind = "Identity"
	IncomingSnapshot     IncomingKind = "Snapshot"
	IncomingEvent        IncomingKind = "Event"
	IncomingOther        IncomingKind = "Other"
	IncomingError        IncomingKind = "Error"
)

// Incoming is one event the reader goroutine hands to its caller: a
// connection lifecycle transition, a classified message, or an error
// that doesn't necessarily end the connection.
type Incoming struct {
	Stream string
	Kind   IncomingKind
	Msg    wire.Msg
	Err    string
}

func connected(stream string) Incoming    { return Incoming{Stream: stream, Kind: IncomingConnected} }
func disconnected(stream string) Incoming { return Incoming{Stream: stream, Kind: IncomingDisconnected} }

func classify(stream string, m wire.Msg) Incoming {
	switch m.Kind {
	case wire.MsgIdentity:
		return Incoming{Stream: stream, Kind: IncomingIdentity, Msg: m}
	case wire.MsgSnapshot:
		return Incoming{Stream: stream, Kind: IncomingSnapshot, Msg: m}
	case wire.MsgEvent:
		return Incoming{Stream: stream, Kind: IncomingEvent, Msg: m}
	default:
		return Incoming{Stream: stream, Kind: IncomingOther, Msg: m}
	}
}

func errIncoming(stream, msg string) Incoming {
	return Incoming{Stream: stream, Kind: IncomingError, Err: msg}
}
