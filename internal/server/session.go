// ABOUTME: Streaming-transport session state and event numbering.
// ABOUTME: One writer drains each session's outbound queue; the router only enqueues.
package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	outboundQueueSize = 32
	recentRingSize    = 64
)

// event is one framed stream reply. IDs are monotonic per session,
// starting at 1.
type event struct {
	id      uint64
	payload []byte
}

// Session is the streaming front end's per-connection state. It is
// created on stream open and destroyed on disconnect or idle timeout;
// no reconnection resurrects it.
type Session struct {
	ID       string
	OpenedAt time.Time

	// dispatchMu serializes dispatch-and-enqueue for inbound envelopes
	// addressed to this session, so replies leave in request order.
	dispatchMu sync.Mutex

	mu          sync.Mutex
	nextEventID uint64
	outbound    chan event
	recent      []event
	lastInbound time.Time
	closed      bool
	done        chan struct{}
}

func newSession() *Session {
	now := time.Now()
	return &Session{
		ID:          uuid.NewString(),
		OpenedAt:    now,
		nextEventID: 1,
		outbound:    make(chan event, outboundQueueSize),
		lastInbound: now,
		done:        make(chan struct{}),
	}
}

// Enqueue numbers the payload and queues it for the session writer.
// A full queue or a closed session terminates the session instead of
// dropping the event silently. Returns false if the session is gone.
func (s *Session) Enqueue(payload []byte) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	ev := event{id: s.nextEventID, payload: payload}
	s.nextEventID++

	s.recent = append(s.recent, ev)
	if len(s.recent) > recentRingSize {
		s.recent = s.recent[len(s.recent)-recentRingSize:]
	}

	select {
	case s.outbound <- ev:
		s.mu.Unlock()
		return true
	default:
		// Queue overflow: the consumer is not draining. Terminate
		// rather than drop.
		s.closeLocked()
		s.mu.Unlock()
		return false
	}
}

// EventsAfter returns the buffered events with ids greater than
// lastID. Replay is best-effort: anything older than the buffer is
// gone and the caller simply resumes live.
func (s *Session) EventsAfter(lastID uint64) []event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []event
	for _, ev := range s.recent {
		if ev.id > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Touch records inbound activity for idle-timeout bookkeeping.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastInbound = time.Now()
	s.mu.Unlock()
}

// IdleFor reports how long the session has gone without inbound
// activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastInbound)
}

// Close terminates the session. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// Done is closed when the session has been terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// sessionRegistry tracks live sessions for POST routing and idle
// reaping.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*Session)}
}

func (r *sessionRegistry) add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

func (r *sessionRegistry) get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *sessionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// reapIdle closes and removes sessions idle past the limit. The
// session writer notices the close and tears the stream down.
func (r *sessionRegistry) reapIdle(limit time.Duration) int {
	r.mu.Lock()
	var idle []*Session
	for _, s := range r.sessions {
		if s.IdleFor() > limit {
			idle = append(idle, s)
		}
	}
	for _, s := range idle {
		delete(r.sessions, s.ID)
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	return len(idle)
}
