package delta

import (
	"time"

	"github.com/technosupport/ts-wristlink/internal/hub"
)

const (
	// DefaultRingSize bounds the in-memory event log.
	DefaultRingSize = 5000
	// MaxEventsPerResponse caps one poll response.
	MaxEventsPerResponse = 250
)

// StatePayload is the rendered entity state inside a delta event.
type StatePayload struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastUpdated string         `json:"last_updated"`
}

// EventPayload is the JSON shape delivered to watch clients for one state
// change. Rendered once at ingest so all subscribers share it.
type EventPayload struct {
	EntityID    string       `json:"entity_id"`
	State       string       `json:"state"`
	NewState    StatePayload `json:"new_state"`
	ContextID   *string      `json:"context_id"`
	LastUpdated string       `json:"last_updated"`
}

// Event is one tracked entity update with its log cursor.
type Event struct {
	Cursor   uint64
	EntityID string
	Payload  EventPayload
}

// eventLog is a bounded FIFO ring of rendered delta events plus a parallel
// ring of ingest times for events-per-minute telemetry. Not safe for
// concurrent use; the Engine serializes access.
type eventLog struct {
	buf   []Event
	times []time.Time
	head  int
	count int
}

func newEventLog(size int) *eventLog {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &eventLog{
		buf:   make([]Event, size),
		times: make([]time.Time, size),
	}
}

func (l *eventLog) append(ev Event, at time.Time) {
	idx := (l.head + l.count) % len(l.buf)
	l.buf[idx] = ev
	l.times[idx] = at
	if l.count < len(l.buf) {
		l.count++
	} else {
		l.head = (l.head + 1) % len(l.buf)
	}
}

func (l *eventLog) len() int { return l.count }

func (l *eventLog) at(i int) *Event {
	return &l.buf[(l.head+i)%len(l.buf)]
}

// oldestCursor returns the cursor of the oldest retained event, or 0 when
// the log is empty.
func (l *eventLog) oldestCursor() uint64 {
	if l.count == 0 {
		return 0
	}
	return l.at(0).Cursor
}

// collect returns up to limit payloads with cursor > since whose entity is
// subscribed, in cursor order, along with the cursor of the last match.
// When nothing matches, the returned cursor equals since.
func (l *eventLog) collect(since uint64, subscribed map[string]struct{}, limit int) ([]EventPayload, uint64) {
	var matched []EventPayload
	last := since
	for i := 0; i < l.count; i++ {
		ev := l.at(i)
		if ev.Cursor <= since {
			continue
		}
		if _, ok := subscribed[ev.EntityID]; !ok {
			continue
		}
		matched = append(matched, ev.Payload)
		last = ev.Cursor
		if len(matched) >= limit {
			break
		}
	}
	if matched == nil {
		return nil, since
	}
	return matched, last
}

// eventsPerMinute counts ingests in the trailing 60 seconds.
func (l *eventLog) eventsPerMinute(now time.Time) float64 {
	cutoff := now.Add(-time.Minute)
	n := 0
	for i := l.count - 1; i >= 0; i-- {
		if l.times[(l.head+i)%len(l.buf)].Before(cutoff) {
			break
		}
		n++
	}
	return float64(n)
}

// RenderPayload builds the shared delta payload for a new state.
func RenderPayload(s *hub.State) EventPayload {
	var ctxID *string
	if s.ContextID != "" {
		id := s.ContextID
		ctxID = &id
	}
	ts := s.LastUpdated.Format(time.RFC3339Nano)
	return EventPayload{
		EntityID: s.EntityID,
		State:    s.State,
		NewState: StatePayload{
			EntityID:    s.EntityID,
			State:       s.State,
			Attributes:  JSONSafeAttributes(s.Attributes),
			LastUpdated: ts,
		},
		ContextID:   ctxID,
		LastUpdated: ts,
	}
}
