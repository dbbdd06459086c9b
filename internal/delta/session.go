package delta

import (
	"strings"
	"time"
)

// DefaultSessionTTL drops watch sessions idle longer than this.
const DefaultSessionTTL = 5 * time.Minute

// Session is the per-watch subscription record.
type Session struct {
	WatchID          string
	ConfigHash       string
	Entities         map[string]struct{}
	EntitiesSynced   bool
	FirstSeen        time.Time
	LastSeen         time.Time
	LastPollInterval time.Duration // zero until the second poll
}

// sessionTable holds all watch sessions keyed by watch id. Not safe for
// concurrent use; the Engine serializes access.
type sessionTable struct {
	sessions map[string]*Session
	ttl      time.Duration
}

func newSessionTable(ttl time.Duration) *sessionTable {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &sessionTable{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// touch fetches or creates the session and applies the per-poll update:
// liveness refresh, subscription replacement when entities were supplied,
// and the config-hash resync policy otherwise.
func (t *sessionTable) touch(watchID, configHash string, entities []string, now time.Time) *Session {
	s, ok := t.sessions[watchID]
	if !ok {
		s = &Session{
			WatchID:   watchID,
			Entities:  make(map[string]struct{}),
			FirstSeen: now,
			LastSeen:  now,
		}
		t.sessions[watchID] = s
	} else {
		s.LastPollInterval = now.Sub(s.LastSeen)
		s.LastSeen = now
	}

	if entities != nil {
		sub := make(map[string]struct{}, len(entities))
		for _, id := range entities {
			if id != "" {
				sub[id] = struct{}{}
			}
		}
		s.Entities = sub
		s.ConfigHash = configHash
		s.EntitiesSynced = true
	} else if s.ConfigHash != configHash {
		// Watch config changed; ask the client to resend its list.
		s.ConfigHash = configHash
		s.Entities = make(map[string]struct{})
		s.EntitiesSynced = false
	}
	return s
}

func (t *sessionTable) drop(watchID string) {
	delete(t.sessions, watchID)
}

func (t *sessionTable) clear() {
	t.sessions = make(map[string]*Session)
}

// prune drops sessions idle past the TTL. Returns how many were removed.
func (t *sessionTable) prune(now time.Time) int {
	cutoff := now.Add(-t.ttl)
	removed := 0
	for id, s := range t.sessions {
		if s.LastSeen.Before(cutoff) {
			delete(t.sessions, id)
			removed++
		}
	}
	return removed
}

// isDiagnosticProbe reports whether a watch id is a diagnostic probe
// (double-underscore wrapped) excluded from real-session counts.
func isDiagnosticProbe(watchID string) bool {
	return strings.HasPrefix(watchID, "__") && strings.HasSuffix(watchID, "__")
}

// realCount counts sessions excluding diagnostic probes.
func (t *sessionTable) realCount() int {
	n := 0
	for id := range t.sessions {
		if !isDiagnosticProbe(id) {
			n++
		}
	}
	return n
}

// subscribedTotal sums subscription sizes across all sessions.
func (t *sessionTable) subscribedTotal() int {
	n := 0
	for _, s := range t.sessions {
		n += len(s.Entities)
	}
	return n
}
