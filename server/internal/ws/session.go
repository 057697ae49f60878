package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

type sessionState int

const (
	stateConnected sessionState = iota
	stateAuthenticated
	stateDisconnected
)

func (s sessionState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// session is one live connection. userID, username and state are owned by
// the connection's read goroutine.
type session struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	limiter  *rateLimiter
	joinedAt time.Time
	remote   string

	userID   string
	username string
	state    sessionState
}

func newSession(conn *websocket.Conn, buf int, limiter *rateLimiter) *session {
	return &session{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, buf),
		limiter:  limiter,
		joinedAt: time.Now().UTC(),
		remote:   conn.RemoteAddr().String(),
		state:    stateConnected,
	}
}

// bind moves the session to authenticated for userID.
func (s *session) bind(userID, username string) {
	s.userID = userID
	s.username = username
	s.state = stateAuthenticated
}

// registry is the set of live sessions of one hub.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool

	// live counts sessions admitted by add whose serving goroutine has not
	// called done yet. It outlives removal from sessions.
	live sync.WaitGroup
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*session)}
}

var (
	errRegistryFull   = errors.New("too many connections")
	errRegistryClosed = errors.New("server shutting down")
)

// add registers s unless the registry is closed or already holds limit
// sessions. Every successful add must be paired with a call to done.
func (r *registry) add(s *session, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRegistryClosed
	}
	if limit > 0 && len(r.sessions) >= limit {
		return errRegistryFull
	}
	r.sessions[s.id] = s
	r.live.Add(1)
	return nil
}

// done marks the goroutine serving an admitted session as finished.
func (r *registry) done() {
	r.live.Done()
}

// drain waits up to timeout for every admitted session to call done and
// reports whether they all did.
func (r *registry) drain(timeout time.Duration) bool {
	finished := make(chan struct{})
	go func() {
		r.live.Wait()
		close(finished)
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-finished:
		return true
	case <-t.C:
		return false
	}
}

// remove unregisters s and closes its send buffer, which makes its
// writePump send a close frame. It reports whether s was registered.
func (r *registry) remove(s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.id]; !ok {
		return false
	}
	delete(r.sessions, s.id)
	close(s.send)
	return true
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *registry) each(fn func(*session)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		fn(s)
	}
}

// enqueue queues msg for every session except exclude and returns the
// sessions whose buffer was full. Sending happens under the read lock so a
// concurrent remove cannot close a channel mid-send.
func (r *registry) enqueue(msg []byte, only, exclude *session) []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var full []*session
	push := func(s *session) {
		select {
		case s.send <- msg:
		default:
			full = append(full, s)
		}
	}
	if only != nil {
		if _, ok := r.sessions[only.id]; ok {
			push(only)
		}
		return full
	}
	for _, s := range r.sessions {
		if s != exclude {
			push(s)
		}
	}
	return full
}

// closeAll closes every session and refuses further adds.
func (r *registry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, s := range r.sessions {
		close(s.send)
		delete(r.sessions, id)
	}
}

// writePump drains the session's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per session.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or session removed).
				s.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// logReadError records why the read loop of s ended.
func (s *session) logReadError(err error) {
	attrs := []any{"connection", s.id, "user_id", s.userID, "remote", s.remote}
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		slog.Warn("hub: frame exceeded read limit", append(attrs, "err", err)...)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		slog.Warn("hub: connection lost", append(attrs, "err", err)...)
	default:
		slog.Debug("hub: connection closed", append(attrs, "err", err)...)
	}
}
