// Package sse implements C12: per-session server-sent-event fan-out for
// MCP's Streamable-HTTP transport. Grounded on
// internal/adapter/inbound/http/handler.go's sessionRegistry (a bare
// map[string][]chan []byte with no backlog), generalized into a bounded
// ring buffer per session so a client that reconnects with Last-Event-ID
// can replay what it missed instead of silently losing messages sent
// while no GET stream was open.
package sse

import (
	"sync"
)

// DefaultBacklog is the number of recent events retained per session for
// Last-Event-ID replay.
const DefaultBacklog = 256

// Event is one server-initiated message, numbered per-session so a
// client's Last-Event-ID header can request exactly what it missed.
type Event struct {
	ID   uint64
	Data []byte
}

// session holds one MCP session's subscriber channels and its replay
// backlog ring buffer.
type session struct {
	mu          sync.Mutex
	backlog     []Event
	backlogCap  int
	nextID      uint64
	subscribers map[chan Event]struct{}
}

func newSession(backlogCap int) *session {
	if backlogCap <= 0 {
		backlogCap = DefaultBacklog
	}
	return &session{
		backlogCap:  backlogCap,
		subscribers: make(map[chan Event]struct{}),
	}
}

// publish assigns the next event ID, appends to the backlog (evicting
// the oldest entry past capacity), and fans out to every live
// subscriber. A slow subscriber whose channel is full is skipped for
// this event rather than blocking the publisher.
func (s *session) publish(data []byte) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev := Event{ID: s.nextID, Data: data}
	s.backlog = append(s.backlog, ev)
	if len(s.backlog) > s.backlogCap {
		s.backlog = s.backlog[len(s.backlog)-s.backlogCap:]
	}
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// subscribe registers ch and returns the backlog entries after
// lastEventID (0 means "no replay, start live"). Events with an ID
// older than the retained backlog are simply not replayable; the caller
// still gets live events going forward.
func (s *session) subscribe(ch chan Event, lastEventID uint64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[ch] = struct{}{}
	if lastEventID == 0 {
		return nil
	}
	var replay []Event
	for _, ev := range s.backlog {
		if ev.ID > lastEventID {
			replay = append(replay, ev)
		}
	}
	return replay
}

func (s *session) unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, ch)
}

func (s *session) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan Event]struct{})
}

// Registry manages every active session's fan-out state.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*session
	backlogCap int
}

// NewRegistry builds a Registry. backlogCap <= 0 uses DefaultBacklog.
func NewRegistry(backlogCap int) *Registry {
	return &Registry{
		sessions:   make(map[string]*session),
		backlogCap: backlogCap,
	}
}

// Size reports the number of active sessions, for the /health endpoint.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) sessionFor(sessionID string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		s = newSession(r.backlogCap)
		r.sessions[sessionID] = s
	}
	return s
}

// Publish fans data out to every live subscriber of sessionID, creating
// the session's backlog if this is its first event.
func (r *Registry) Publish(sessionID string, data []byte) Event {
	return r.sessionFor(sessionID).publish(data)
}

// Subscribe opens a new subscriber channel for sessionID and returns it
// along with any backlog entries after lastEventID (for Last-Event-ID
// resumption) and an unsubscribe func the caller must defer.
func (r *Registry) Subscribe(sessionID string, lastEventID uint64) (ch chan Event, replay []Event, unsubscribe func()) {
	s := r.sessionFor(sessionID)
	ch = make(chan Event, 64)
	replay = s.subscribe(ch, lastEventID)
	unsubscribe = func() { s.unsubscribe(ch) }
	return ch, replay, unsubscribe
}

// Terminate closes every subscriber channel for sessionID and drops its
// backlog. Returns false if sessionID had no registered state.
func (r *Registry) Terminate(sessionID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.closeAll()
	return true
}

// CloseAll terminates every session, for server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()
	for _, s := range all {
		s.closeAll()
	}
}
