package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub speaks just enough of the hub websocket protocol for the
// client: auth handshake, get_states, subscribe_events, then pushed
// state_changed events.
type fakeHub struct {
	t      *testing.T
	states []map[string]any

	mu   sync.Mutex
	conn *websocket.Conn
}

func (f *fakeHub) handler() http.Handler {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		conn.WriteJSON(map[string]any{"type": "auth_required"})
		var authMsg map[string]any
		if err := conn.ReadJSON(&authMsg); err != nil {
			return
		}
		if authMsg["access_token"] != "good-token" {
			conn.WriteJSON(map[string]any{"type": "auth_invalid"})
			return
		}
		conn.WriteJSON(map[string]any{"type": "auth_ok"})

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg["type"] {
			case "get_states":
				ok := true
				conn.WriteJSON(map[string]any{
					"id": msg["id"], "type": "result", "success": &ok, "result": f.states,
				})
			case "subscribe_events":
				ok := true
				conn.WriteJSON(map[string]any{
					"id": msg["id"], "type": "result", "success": &ok,
				})
			}
		}
	})
	mux.HandleFunc("/api/camera_proxy/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("jpeg-bytes"))
	})
	return mux
}

func (f *fakeHub) pushEvent(entityID, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, _ := json.Marshal(map[string]any{
		"event_type": "state_changed",
		"data": map[string]any{
			"entity_id": entityID,
			"new_state": map[string]any{
				"entity_id":    entityID,
				"state":        state,
				"attributes":   map[string]any{},
				"last_updated": time.Now().UTC().Format(time.RFC3339Nano),
			},
		},
	})
	f.conn.WriteJSON(map[string]any{"type": "event", "event": json.RawMessage(payload)})
}

func startClient(t *testing.T) (*Client, *fakeHub) {
	t.Helper()
	fake := &fakeHub{
		t: t,
		states: []map[string]any{
			{"entity_id": "light.a", "state": "on", "attributes": map[string]any{}, "last_updated": "2025-06-01T12:00:00Z"},
		},
	}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "good-token")
	require.NoError(t, client.Start())
	t.Cleanup(client.Stop)
	return client, fake
}

func TestStartPrimesStateCache(t *testing.T) {
	client, _ := startClient(t)

	s := client.Get("light.a")
	require.NotNil(t, s)
	assert.Equal(t, "on", s.State)
	assert.Len(t, client.All("light"), 1)
	assert.Empty(t, client.All("sensor"))
}

func TestEventsReachSubscribersAndCache(t *testing.T) {
	client, fake := startClient(t)

	received := make(chan StateChange, 1)
	unsub, err := client.SubscribeStateChanges(func(c StateChange) {
		received <- c
	})
	require.NoError(t, err)
	defer unsub()

	fake.pushEvent("light.a", "off")

	select {
	case change := <-received:
		require.NotNil(t, change.NewState)
		assert.Equal(t, "off", change.NewState.State)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	require.Eventually(t, func() bool {
		return client.Get("light.a").State == "off"
	}, time.Second, 10*time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	client, fake := startClient(t)

	received := make(chan StateChange, 4)
	unsub, err := client.SubscribeStateChanges(func(c StateChange) {
		received <- c
	})
	require.NoError(t, err)
	unsub()

	fake.pushEvent("light.a", "off")
	// The cache still updates even with no subscribers.
	require.Eventually(t, func() bool {
		return client.Get("light.a").State == "off"
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, received)
}

func TestSnapshotUsesCameraProxy(t *testing.T) {
	client, _ := startClient(t)

	data, err := client.Snapshot(t.Context(), "camera.front", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
}

func TestAuthRejectedSurfaces(t *testing.T) {
	fake := &fakeHub{t: t}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "bad-token")
	err := client.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthRejected)
	client.Stop()
}
