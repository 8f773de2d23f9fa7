// Package timeline tracks node lifespans, batch spans, and a bounded
// event log so the viewer can scrub backward through recent graph
// history instead of only showing the current instant.
package timeline

import (
	"time"

	"github.com/spacegraph-dev/spacegraph/internal/core"
)

type EventKind string

const (
	EventNodeUpsert EventKind = "NodeUpsert"
	EventNodeRemove EventKind = "NodeRemove"
	EventEdgeUpsert EventKind = "EdgeUpsert"
	EventEdgeRemove EventKind = "EdgeRemove"
	EventBatchBegin EventKind = "BatchBegin"
	EventBatchEnd   EventKind = "BatchEnd"
)

// Event is one entry in the timeline's event log.
type Event struct {
	Ts      time.Time
	Kind    EventKind
	A       core.NodeId // node id, or edge's From
	B       core.NodeId // edge's To, empty for node events
	EdgeKnd core.EdgeKindTag
	BatchID uint64
}

// NodeLife tracks the observed lifespan of a node: when it first
// appeared, when it was last touched, and when (if ever) it was
// removed.
type NodeLife struct {
	FirstSeen time.Time
	LastSeen  time.Time
	RemovedAt *time.Time
}

// BatchSpan tracks when a coalesced batch of deltas started and ended.
type BatchSpan struct {
	ID    uint64
	Start time.Time
	End   *time.Time
}

// State is the timeline engine's substate: window/scale/pause controls,
// the bounded event log, and the derived node-life/batch-span indexes.
type State struct {
	Window       time.Duration
	Scale        float64
	Pause        bool
	FrozenNow    *time.Time
	ScrubSeconds float64

	Events     []Event
	MaxEvents  int
	NodeLife   map[core.NodeId]*NodeLife
	BatchSpans []BatchSpan
}

const (
	DefaultWindow    = 60 * time.Second
	DefaultScale     = 0.35
	DefaultMaxEvents = 20000
)

func NewState() *State {
	return &State{
		Window:    DefaultWindow,
		Scale:     DefaultScale,
		MaxEvents: DefaultMaxEvents,
		NodeLife:  make(map[core.NodeId]*NodeLife),
	}
}

// EffectiveNow returns the timestamp the timeline should treat as "now":
// baseNow normally, or the moment pause began (frozen) minus however far
// the user has scrubbed backward.
func (s *State) EffectiveNow(baseNow time.Time) time.Time {
	if s.FrozenNow == nil {
		return baseNow
	}
	base := *s.FrozenNow
	scrub := s.ScrubSeconds
	if scrub < 0 {
		scrub = 0
	}
	return base.Add(-time.Duration(scrub * float64(time.Second)))
}

func (s *State) WindowStart(now time.Time) time.Time {
	return now.Add(-s.Window)
}

// SetPause toggles pause. Pausing freezes "now" at the current instant;
// unpausing clears the freeze and resets any scrub offset, so resuming
// playback always starts from the live edge again.
func (s *State) SetPause(pause bool, now time.Time) {
	if pause && !s.Pause {
		frozen := now
		s.FrozenNow = &frozen
	} else if !pause && s.Pause {
		s.FrozenNow = nil
		s.ScrubSeconds = 0
	}
	s.Pause = pause
}

func (s *State) RecordNodeUpsert(id core.NodeId, ts time.Time) {
	nl, ok := s.NodeLife[id]
	if !ok {
		nl = &NodeLife{FirstSeen: ts, LastSeen: ts}
		s.NodeLife[id] = nl
		return
	}
	if ts.Before(nl.FirstSeen) {
		nl.FirstSeen = ts
	}
	if ts.After(nl.LastSeen) {
		nl.LastSeen = ts
	}
	if nl.RemovedAt != nil && !ts.Before(*nl.RemovedAt) {
		nl.RemovedAt = nil
	}
}

func (s *State) RecordNodeRemove(id core.NodeId, ts time.Time) {
	nl, ok := s.NodeLife[id]
	if !ok {
		nl = &NodeLife{FirstSeen: ts, LastSeen: ts}
		s.NodeLife[id] = nl
	} else if ts.After(nl.LastSeen) {
		nl.LastSeen = ts
	}
	removedAt := ts
	nl.RemovedAt = &removedAt
}

func (s *State) RecordBatchBegin(id uint64, ts time.Time) {
	s.BatchSpans = append(s.BatchSpans, BatchSpan{ID: id, Start: ts})
}

// RecordBatchEnd finds the most recent open span with a matching id and
// closes it (searching from the end, since a batch id space can wrap
// and an old open span should never be closed by a newer begin/end
// pair).
func (s *State) RecordBatchEnd(id uint64, ts time.Time) {
	for i := len(s.BatchSpans) - 1; i >= 0; i-- {
		if s.BatchSpans[i].ID == id && s.BatchSpans[i].End == nil {
			end := ts
			s.BatchSpans[i].End = &end
			return
		}
	}
}

// Push records an event's lifecycle side effects, then appends it to
// the log.
func (s *State) Push(ev Event) {
	switch ev.Kind {
	case EventNodeUpsert:
		s.RecordNodeUpsert(ev.A, ev.Ts)
	case EventNodeRemove:
		s.RecordNodeRemove(ev.A, ev.Ts)
	case EventBatchBegin:
		s.RecordBatchBegin(ev.BatchID, ev.Ts)
	case EventBatchEnd:
		s.RecordBatchEnd(ev.BatchID, ev.Ts)
	}
	s.Events = append(s.Events, ev)
}

// Trim drops events beyond MaxEvents (oldest first), then drops
// whatever remains that's older than the current window, then drops
// batch spans that closed before the window start. Open batch spans
// are never dropped, since their start might still matter even if it
// predates the window by a lot (a still-running batch is still live).
func (s *State) Trim(now time.Time) {
	if over := len(s.Events) - s.MaxEvents; over > 0 {
		s.Events = s.Events[over:]
	}

	windowStart := s.WindowStart(now)
	cut := 0
	for cut < len(s.Events) && s.Events[cut].Ts.Before(windowStart) {
		cut++
	}
	s.Events = s.Events[cut:]

	kept := s.BatchSpans[:0]
	for _, span := range s.BatchSpans {
		if span.End != nil && span.End.Before(windowStart) {
			continue
		}
		kept = append(kept, span)
	}
	s.BatchSpans = kept
}

// NodeLifeInterval returns the visible portion of a node's lifespan,
// clipped to [windowStart, now]. ok is false if the node has no
// recorded life, or its clipped interval is empty/inverted.
func (s *State) NodeLifeInterval(id core.NodeId, now time.Time) (start, end time.Time, ok bool) {
	nl, present := s.NodeLife[id]
	if !present {
		return time.Time{}, time.Time{}, false
	}
	windowStart := s.WindowStart(now)
	start = nl.FirstSeen
	if start.Before(windowStart) {
		start = windowStart
	}
	end = now
	if nl.RemovedAt != nil && nl.RemovedAt.Before(now) {
		end = *nl.RemovedAt
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// ActiveBatchSpan returns the most recent still-open batch span, if
// any.
func (s *State) ActiveBatchSpan() (BatchSpan, bool) {
	for i := len(s.BatchSpans) - 1; i >= 0; i-- {
		if s.BatchSpans[i].End == nil {
			return s.BatchSpans[i], true
		}
	}
	return BatchSpan{}, false
}
