package hub

import (
	"context"
	"time"
)

// State is a snapshot of one hub entity. The service never mutates these;
// they are rendered into delta payloads at ingest time.
type State struct {
	EntityID    string
	State       string
	Attributes  map[string]any
	LastUpdated time.Time
	ContextID   string
}

// Domain returns the entity domain prefix ("light" for "light.kitchen").
func (s *State) Domain() string {
	for i := 0; i < len(s.EntityID); i++ {
		if s.EntityID[i] == '.' {
			return s.EntityID[:i]
		}
	}
	return s.EntityID
}

// StateChange is one state_changed event from the hub bus. NewState is nil
// when the entity was removed; those are ignored for delta purposes.
type StateChange struct {
	NewState *State
}

// EventBus delivers hub state_changed events. Subscribe returns an
// unsubscribe func; the callback is invoked from a single goroutine.
type EventBus interface {
	SubscribeStateChanges(cb func(StateChange)) (func(), error)
}

// StateStore is read access to the hub's current entity states.
type StateStore interface {
	Get(entityID string) *State
	All(domain string) []*State
}

// CameraSource fetches a still frame for a camera entity.
type CameraSource interface {
	Snapshot(ctx context.Context, entityID string, timeout time.Duration) ([]byte, error)
}
