package api

import (
	"strings"
	"time"

	"github.com/technosupport/ts-wristlink/internal/hub"
)

// fakeStore is a shared in-memory StateStore for handler tests.
type fakeStore struct {
	states map[string]*hub.State
}

func newFakeStore(states ...*hub.State) *fakeStore {
	m := make(map[string]*hub.State)
	for _, s := range states {
		m[s.EntityID] = s
	}
	return &fakeStore{states: m}
}

func (f *fakeStore) Get(entityID string) *hub.State { return f.states[entityID] }

func (f *fakeStore) All(domain string) []*hub.State {
	var out []*hub.State
	for id, s := range f.states {
		if strings.HasPrefix(id, domain+".") {
			out = append(out, s)
		}
	}
	return out
}

func hubState(entityID, value string) *hub.State {
	return &hub.State{
		EntityID:    entityID,
		State:       value,
		Attributes:  map[string]any{"friendly_name": entityID},
		LastUpdated: time.Now().UTC(),
	}
}
