package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrSnapshotFailed  = errors.New("hub: snapshot failed")
	ErrAuthRejected    = errors.New("hub: websocket auth rejected")
	ErrAlreadyStarted  = errors.New("hub: client already started")
	errUnexpectedFrame = errors.New("hub: unexpected websocket frame")
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
)

// Client speaks the hub's websocket API for events and state, and its REST
// API for camera snapshots. It implements EventBus, StateStore and
// CameraSource.
//
// The state cache mirrors the hub's state machine so Get/All are instant
// in-memory reads; it is primed from get_states on every (re)connect and
// kept current from the state_changed subscription.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client

	mu       sync.RWMutex
	states   map[string]*State
	subs     map[int]func(StateChange)
	nextSub  int
	started  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		states:   make(map[string]*State),
		subs:     make(map[int]func(StateChange)),
		stopChan: make(chan struct{}),
	}
}

// Start launches the websocket read loop with reconnect. Blocks until the
// first connection attempt has resolved so callers start with a primed
// state cache when the hub is reachable.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	firstAttempt := make(chan error, 1)
	c.wg.Add(1)
	go c.runLoop(firstAttempt)
	return <-firstAttempt
}

func (c *Client) Stop() {
	close(c.stopChan)
	c.wg.Wait()
}

// SubscribeStateChanges implements EventBus.
func (c *Client) SubscribeStateChanges(cb func(StateChange)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = cb
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}, nil
}

// Get implements StateStore.
func (c *Client) Get(entityID string) *State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.states[entityID]
}

// All implements StateStore.
func (c *Client) All(domain string) []*State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	prefix := domain + "."
	var out []*State
	for id, s := range c.states {
		if strings.HasPrefix(id, prefix) {
			out = append(out, s)
		}
	}
	return out
}

// Snapshot implements CameraSource via the hub's camera proxy endpoint.
func (c *Client) Snapshot(ctx context.Context, entityID string, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := fmt.Sprintf("%s/api/camera_proxy/%s", c.baseURL, url.PathEscape(entityID))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSnapshotFailed, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}

func (c *Client) runLoop(firstAttempt chan<- error) {
	defer c.wg.Done()

	delay := reconnectBaseDelay
	first := true
	for {
		started := time.Now()
		err := c.connectAndRead(func() {
			if first {
				firstAttempt <- nil
				first = false
			}
		})
		if first {
			firstAttempt <- err
			first = false
		}
		if time.Since(started) > time.Minute {
			// The connection held for a while; start backoff over.
			delay = reconnectBaseDelay
		}

		select {
		case <-c.stopChan:
			return
		default:
		}

		if err != nil {
			log.Printf("[WARN] Hub connection lost: %v (retrying in %v)", err, delay)
		}
		select {
		case <-c.stopChan:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// wsMessage is the envelope of every hub websocket frame.
type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

type wsState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastUpdated time.Time      `json:"last_updated"`
	Context     *struct {
		ID string `json:"id"`
	} `json:"context"`
}

func (w *wsState) toState() *State {
	s := &State{
		EntityID:    w.EntityID,
		State:       w.State,
		Attributes:  w.Attributes,
		LastUpdated: w.LastUpdated,
	}
	if w.Context != nil {
		s.ContextID = w.Context.ID
	}
	return s
}

func (c *Client) connectAndRead(onReady func()) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-c.stopChan
		conn.Close()
	}()

	if err := c.authenticate(conn); err != nil {
		return err
	}
	if err := c.primeStates(conn); err != nil {
		return err
	}
	if err := c.writeJSON(conn, map[string]any{
		"id": 2, "type": "subscribe_events", "event_type": "state_changed",
	}); err != nil {
		return err
	}
	log.Printf("[INFO] Hub connected (%d states cached)", c.stateCount())
	onReady()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type != "event" || msg.Event == nil {
			continue
		}
		var evt struct {
			EventType string `json:"event_type"`
			Data      struct {
				EntityID string   `json:"entity_id"`
				NewState *wsState `json:"new_state"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg.Event, &evt); err != nil {
			log.Printf("[DEBUG] Hub event decode error: %v", err)
			continue
		}
		if evt.EventType != "state_changed" {
			continue
		}
		c.applyChange(evt.Data.EntityID, evt.Data.NewState)
	}
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return err
	}
	if hello.Type != "auth_required" {
		return errUnexpectedFrame
	}
	if err := c.writeJSON(conn, map[string]any{"type": "auth", "access_token": c.token}); err != nil {
		return err
	}
	var reply wsMessage
	if err := conn.ReadJSON(&reply); err != nil {
		return err
	}
	if reply.Type != "auth_ok" {
		return ErrAuthRejected
	}
	return nil
}

func (c *Client) primeStates(conn *websocket.Conn) error {
	if err := c.writeJSON(conn, map[string]any{"id": 1, "type": "get_states"}); err != nil {
		return err
	}
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.ID != 1 {
			continue
		}
		if msg.Success != nil && !*msg.Success {
			return errors.New("hub: get_states rejected")
		}
		var raw []*wsState
		if err := json.Unmarshal(msg.Result, &raw); err != nil {
			return err
		}
		fresh := make(map[string]*State, len(raw))
		for _, ws := range raw {
			if ws != nil {
				fresh[ws.EntityID] = ws.toState()
			}
		}
		c.mu.Lock()
		c.states = fresh
		c.mu.Unlock()
		return nil
	}
}

func (c *Client) applyChange(entityID string, ws *wsState) {
	var change StateChange
	c.mu.Lock()
	if ws == nil {
		// Entity removed. The delta log ignores removals but the cache
		// must not keep serving the ghost.
		delete(c.states, entityID)
	} else {
		st := ws.toState()
		c.states[st.EntityID] = st
		change.NewState = st
	}
	cbs := make([]func(StateChange), 0, len(c.subs))
	for _, cb := range c.subs {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(change)
	}
}

func (c *Client) stateCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.states)
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}
