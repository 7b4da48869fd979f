package relay

import (
	"sync"
	"time"

	"linguaflow/voice/internal/types"
)

const DefaultCapacity = 200

// Queue is the per-session outbox drained by polling clients. Delivery is
// at-most-once: a drained event is never redelivered. Ordering is FIFO and
// sequence numbers are strictly increasing across drains.
type Queue struct {
	mu        sync.Mutex
	sessionID string
	cap       int
	seq       uint64
	events    []types.Event
}

func New(sessionID string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{sessionID: sessionID, cap: capacity}
}

// Push appends an event with the next sequence number. When the queue is
// over capacity the oldest non-terminal events are dropped and replaced by
// a single coalesced overflow marker, so a stalled poller learns it missed
// data instead of losing it silently.
func (q *Queue) Push(typ string, payload map[string]any) types.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	evt := types.Event{
		SessionID: q.sessionID,
		Seq:       q.seq,
		Type:      typ,
		Ts:        time.Now().UTC(),
		Payload:   payload,
	}
	q.events = append(q.events, evt)
	if len(q.events) > q.cap {
		q.coalesceLocked()
	}
	return evt
}

// Drain atomically removes and returns all queued events in order.
func (q *Queue) Drain() []types.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	if out == nil {
		out = []types.Event{}
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func isOverflowMarker(e types.Event) bool {
	if e.Type != types.EventError || e.Payload == nil {
		return false
	}
	r, ok := e.Payload["reason"].(string)
	return ok && r == "overflow"
}

// coalesceLocked drops the oldest droppable events until the queue fits the
// capacity with one slot used by the marker. Terminal error events survive,
// so the queue may stay over capacity when they dominate; a previous
// overflow marker is absorbed into the new one.
func (q *Queue) coalesceLocked() {
	need := len(q.events) - q.cap + 1
	var kept []types.Event
	dropped := 0
	var lastDroppedSeq uint64
	i := 0
	for ; i < len(q.events) && need > 0; i++ {
		e := q.events[i]
		if isOverflowMarker(e) {
			if n, ok := e.Payload["dropped"].(int); ok {
				dropped += n
			}
			lastDroppedSeq = e.Seq
			need--
			continue
		}
		if e.Type == types.EventError {
			kept = append(kept, e)
			continue
		}
		dropped++
		lastDroppedSeq = e.Seq
		need--
	}
	if dropped == 0 {
		return
	}
	metricOverflowDrops.Add(float64(dropped))
	// The marker takes the sequence of the last event it replaced and slots
	// between the retained events by that sequence, keeping sequences
	// strictly increasing across the queue.
	marker := types.Event{
		SessionID: q.sessionID,
		Seq:       lastDroppedSeq,
		Type:      types.EventError,
		Ts:        time.Now().UTC(),
		Payload:   map[string]any{"reason": "overflow", "dropped": dropped},
	}
	out := make([]types.Event, 0, len(kept)+1+len(q.events)-i)
	placed := false
	for _, e := range kept {
		if !placed && marker.Seq < e.Seq {
			out = append(out, marker)
			placed = true
		}
		out = append(out, e)
	}
	if !placed {
		out = append(out, marker)
	}
	q.events = append(out, q.events[i:]...)
}
