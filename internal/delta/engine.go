package delta

import (
	"context"
	"log"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/technosupport/ts-wristlink/internal/hub"
)

// PollRequest is one validated long-poll call. Entities nil means the
// client did not send a list this round; Since nil means a snapshot
// request.
type PollRequest struct {
	WatchID    string
	ConfigHash string
	Since      *string
	Entities   []string
	Timeout    time.Duration
	Slim       bool
	ForceDelta bool
}

// Envelope is the delta poll response body.
type Envelope struct {
	Events         []EventPayload `json:"events"`
	NextCursor     string         `json:"next_cursor"`
	NeedEntities   bool           `json:"need_entities"`
	ResyncRequired bool           `json:"resync_required"`
	Capabilities   []string       `json:"capabilities,omitempty"`
	InfoSummary    any            `json:"info_summary,omitempty"`
}

// Stats is a point-in-time view of the engine for diagnostics.
type Stats struct {
	RealSessions      int
	MonitoredEntities int
	Cursor            uint64
	BufferLen         int
	BufferCap         int
	EventsPerMinute   float64
}

// Config tunes the engine. Zero values take the package defaults.
type Config struct {
	RingSize   int
	SessionTTL time.Duration
}

// Engine joins the event log and the session table and serves long-poll
// reads with generation-based wakeups.
//
// All mutable state is guarded by mu. Waiters park on genCh, which is
// closed and replaced on every ingest; every waiter wakes, re-scans, and
// either responds or parks again. Spurious wakeups are safe.
type Engine struct {
	store hub.StateStore

	mu         sync.Mutex
	log        *eventLog
	sessions   *sessionTable
	cursor     uint64
	generation uint64
	genCh      chan struct{}
	unsub      func()
}

func NewEngine(store hub.StateStore, cfg Config) *Engine {
	return &Engine{
		store:    store,
		log:      newEventLog(cfg.RingSize),
		sessions: newSessionTable(cfg.SessionTTL),
		genCh:    make(chan struct{}),
	}
}

// Start subscribes the engine to the hub event bus.
func (e *Engine) Start(bus hub.EventBus) error {
	unsub, err := bus.SubscribeStateChanges(e.HandleStateChanged)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.unsub = unsub
	e.mu.Unlock()
	return nil
}

// Shutdown detaches from the event bus.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	unsub := e.unsub
	e.unsub = nil
	e.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// HandleStateChanged ingests one state change: assign the next cursor,
// render the payload once, append to the ring and tick the generation.
func (e *Engine) HandleStateChanged(change hub.StateChange) {
	if change.NewState == nil {
		return
	}
	payload := RenderPayload(change.NewState)

	e.mu.Lock()
	e.cursor++
	e.log.append(Event{
		Cursor:   e.cursor,
		EntityID: change.NewState.EntityID,
		Payload:  payload,
	}, time.Now())
	e.generation++
	close(e.genCh)
	e.genCh = make(chan struct{})
	e.mu.Unlock()
}

// ForceResync clears all sessions so every watch does a full refresh.
func (e *Engine) ForceResync() {
	e.mu.Lock()
	e.sessions.clear()
	e.mu.Unlock()
	log.Printf("[INFO] Delta engine: sessions cleared, watches will resync")
}

// Stats returns diagnostic counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		RealSessions:      e.sessions.realCount(),
		MonitoredEntities: e.sessions.subscribedTotal(),
		Cursor:            e.cursor,
		BufferLen:         e.log.len(),
		BufferCap:         len(e.log.buf),
		EventsPerMinute:   e.log.eventsPerMinute(time.Now()),
	}
}

// HandlePoll serves one long-poll request. The returned status is an HTTP
// status code; the envelope is nil for 204. A non-nil error means the
// request context was cancelled and the caller should not write a body.
func (e *Engine) HandlePoll(ctx context.Context, req PollRequest) (int, *Envelope, error) {
	now := time.Now()

	e.mu.Lock()
	e.sessions.prune(now)
	session := e.sessions.touch(req.WatchID, req.ConfigHash, req.Entities, now)

	if !session.EntitiesSynced {
		env := e.envelopeLocked(nil, e.cursor, true, false)
		e.mu.Unlock()
		return http.StatusOK, env, nil
	}

	// No cursor: full snapshot from the current state store.
	if req.Since == nil || *req.Since == "" {
		events := e.snapshotLocked(session.Entities, req.Slim)
		env := e.envelopeLocked(events, e.cursor, false, false)
		e.mu.Unlock()
		return http.StatusOK, env, nil
	}

	since, invalid := parseSince(*req.Since)
	if invalid || e.staleLocked(since) {
		env := e.envelopeLocked(nil, e.cursor, false, true)
		e.mu.Unlock()
		return http.StatusGone, env, nil
	}

	sub := session.Entities
	events, next := e.log.collect(since, sub, MaxEventsPerResponse)
	if len(events) > 0 {
		env := e.respondLocked(events, next, req.Slim)
		e.mu.Unlock()
		return http.StatusOK, env, nil
	}
	// Nothing subscribed happened up to the current cursor; don't
	// re-scan that span on the next wakeup.
	since = e.cursor

	if req.ForceDelta {
		env := e.envelopeLocked(nil, e.cursor, false, false)
		e.mu.Unlock()
		return http.StatusOK, env, nil
	}

	deadline := now.Add(req.Timeout)
	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	for {
		ch := e.genCh
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			e.dropSession(req.WatchID)
			return 0, nil, ctx.Err()
		case <-timer.C:
			return http.StatusNoContent, nil, nil
		case <-ch:
		}

		e.mu.Lock()
		events, next := e.log.collect(since, sub, MaxEventsPerResponse)
		if len(events) > 0 {
			env := e.respondLocked(events, next, req.Slim)
			e.mu.Unlock()
			return http.StatusOK, env, nil
		}
		since = e.cursor
		if time.Now().After(deadline) {
			e.mu.Unlock()
			return http.StatusNoContent, nil, nil
		}
	}
}

func (e *Engine) dropSession(watchID string) {
	e.mu.Lock()
	e.sessions.drop(watchID)
	e.mu.Unlock()
}

// snapshotLocked builds one synthetic event per subscribed entity from the
// current state store, skipping entities the hub does not know.
func (e *Engine) snapshotLocked(sub map[string]struct{}, slim bool) []EventPayload {
	ids := make([]string, 0, len(sub))
	for id := range sub {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	events := make([]EventPayload, 0, len(ids))
	for _, id := range ids {
		state := e.store.Get(id)
		if state == nil {
			continue
		}
		p := RenderPayload(state)
		if slim {
			p = SlimPayload(p)
		}
		events = append(events, p)
	}
	return events
}

func (e *Engine) respondLocked(events []EventPayload, next uint64, slim bool) *Envelope {
	if slim {
		events = slimAll(events)
	}
	return e.envelopeLocked(events, next, false, false)
}

func (e *Engine) envelopeLocked(events []EventPayload, next uint64, needEntities, resync bool) *Envelope {
	if events == nil {
		events = []EventPayload{}
	}
	return &Envelope{
		Events:         events,
		NextCursor:     strconv.FormatUint(next, 10),
		NeedEntities:   needEntities,
		ResyncRequired: resync,
	}
}

// staleLocked reports whether a cursor is out of range: ahead of the
// current cursor (process restarted) or older than the oldest retained
// event minus one (ring eviction).
func (e *Engine) staleLocked(since uint64) bool {
	if since > e.cursor {
		return true
	}
	if e.log.len() == 0 {
		return false
	}
	oldest := e.log.oldestCursor()
	return oldest > 0 && since+1 < oldest
}

// parseSince parses the client cursor. Non-numeric input is invalid;
// negative values clamp to zero.
func parseSince(since string) (uint64, bool) {
	n, err := strconv.ParseInt(since, 10, 64)
	if err != nil {
		return 0, true
	}
	if n < 0 {
		return 0, false
	}
	return uint64(n), false
}
