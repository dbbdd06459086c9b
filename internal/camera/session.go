package camera

import "sync"

// Params is a point-in-time copy of one stream session's settings. The
// frame loop snapshots these every iteration so viewport updates land on
// the next frame.
type Params struct {
	Viewport       Viewport
	Width          int
	Quality        int
	FPS            float64
	SourceEntityID string // override; empty means the stream's own entity
}

// StreamSession is the live state of one (watch, entity) stream. Mutable
// mid-stream via the viewport control endpoint.
type StreamSession struct {
	mu     sync.Mutex
	params Params
}

func (s *StreamSession) Snapshot() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// ClearSourceIf clears the source override when it still equals the given
// value, returning whether it did. The frame loop uses this for the
// five-strike revert so it never stomps a newer override.
func (s *StreamSession) ClearSourceIf(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.params.SourceEntityID != source {
		return false
	}
	s.params.SourceEntityID = ""
	return true
}

// Update mutates individual fields of an active session.
type Update struct {
	Viewport *Viewport
	Width    *int
	Quality  *int
	FPS      *float64
	// Source is applied only when SourceSet is true; a nil Source then
	// clears the override.
	Source    *string
	SourceSet bool
}

type sessionKey struct {
	watchID  string
	entityID string
}

// Coordinator tracks active stream sessions keyed by (watch, entity).
type Coordinator struct {
	mu       sync.Mutex
	sessions map[sessionKey]*StreamSession
}

func NewCoordinator() *Coordinator {
	return &Coordinator{sessions: make(map[sessionKey]*StreamSession)}
}

// GetOrCreate returns the session for the pair, creating it when absent.
// An existing session picks up the new width/quality/fps; the viewport is
// only applied when the caller supplied one.
func (c *Coordinator) GetOrCreate(watchID, entityID string, width, quality int, fps float64, viewport *Viewport) *StreamSession {
	key := sessionKey{watchID, entityID}
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[key]
	if !ok {
		vp := FullFrame()
		if viewport != nil {
			vp = viewport.Clamp()
		}
		s = &StreamSession{params: Params{
			Viewport: vp,
			Width:    width,
			Quality:  quality,
			FPS:      fps,
		}}
		c.sessions[key] = s
		return s
	}

	s.mu.Lock()
	s.params.Width = width
	s.params.Quality = quality
	s.params.FPS = fps
	if viewport != nil {
		s.params.Viewport = viewport.Clamp()
	}
	s.mu.Unlock()
	return s
}

// Update applies a control-endpoint mutation. Returns false when no such
// session is active.
func (c *Coordinator) Update(watchID, entityID string, u Update) bool {
	c.mu.Lock()
	s, ok := c.sessions[sessionKey{watchID, entityID}]
	c.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Viewport != nil {
		s.params.Viewport = u.Viewport.Clamp()
	}
	if u.Width != nil {
		s.params.Width = ClampWidth(*u.Width)
	}
	if u.Quality != nil {
		s.params.Quality = ClampQuality(*u.Quality)
	}
	if u.FPS != nil {
		s.params.FPS = ClampFPS(*u.FPS)
	}
	if u.SourceSet {
		if u.Source == nil {
			s.params.SourceEntityID = ""
		} else {
			s.params.SourceEntityID = *u.Source
		}
	}
	return true
}

func (c *Coordinator) Remove(watchID, entityID string) {
	c.mu.Lock()
	delete(c.sessions, sessionKey{watchID, entityID})
	c.mu.Unlock()
}

func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	c.sessions = make(map[sessionKey]*StreamSession)
	c.mu.Unlock()
}
