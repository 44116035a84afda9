// Package channel owns the lifecycle of one websocket connection per active
// room: open, join, best-effort leave, close. It performs no fan-out of
// inbound frames — that is the router's job — and never reconnects on its
// own: an unexpected close is logged and surfaced, and the owner decides
// whether to call Connect again. Silent reconnect loops caused duplicate-join
// races in earlier designs and are deliberately avoided.
package channel

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomlink/roomlink/internal/proto"
)

// State is the transport state of a session.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// FrameHandler receives every inbound frame in arrival order.
type FrameHandler func(*proto.Frame)

// Conn is the subset of *websocket.Conn the manager uses. Tests substitute
// an in-memory implementation via Dialer.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a websocket connection to url. The default uses gorilla's
// DefaultDialer.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DefaultDialer dials with gorilla/websocket.
func DefaultDialer(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// StateChange is emitted on every session state transition.
type StateChange struct {
	RoomID string
	State  State
}

// session is one transport connection bound to a room. A new session
// supersedes the old one without awaiting its close handshake; stale
// sessions are detected by pointer identity against Manager.sess.
type session struct {
	roomID  string
	state   State      // guarded by Manager.mu
	conn    Conn       // nil until dial completes
	writeMu sync.Mutex // gorilla allows one concurrent writer per conn
	joined  bool       // one successful join_room send happened
	done    chan struct{}
}

// writeJSON is the single funnel for outbound frames on this session.
// Senders run on independent goroutines (the join-retry loop, callers of
// Send including ICE-candidate callbacks, and supersession's leave), so
// every deadline+write pair must hold writeMu.
func (s *session) writeJSON(conn Conn, timeout time.Duration, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	return conn.WriteJSON(v)
}

// Manager owns at most one live session at a time.
type Manager struct {
	dial         Dialer
	urlFor       func(roomID string) string
	joinRetry    time.Duration
	writeTimeout time.Duration

	mu      sync.Mutex
	sess    *session
	handler FrameHandler

	listenerMu sync.RWMutex
	listeners  map[chan StateChange]struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the websocket dialer (tests).
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// WithJoinRetry overrides the join_room retry interval.
func WithJoinRetry(d time.Duration) Option {
	return func(m *Manager) { m.joinRetry = d }
}

// WithWriteTimeout overrides the outbound write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) { m.writeTimeout = d }
}

// New creates a Manager. urlFor maps a room id to its channel websocket URL.
func New(urlFor func(roomID string) string, opts ...Option) *Manager {
	m := &Manager{
		dial:         DefaultDialer,
		urlFor:       urlFor,
		joinRetry:    500 * time.Millisecond,
		writeTimeout: 10 * time.Second,
		listeners:    map[chan StateChange]struct{}{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OnFrame registers the single inbound dispatcher. Must be called before
// Connect; later calls replace the handler for subsequent sessions.
func (m *Manager) OnFrame(h FrameHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// Connect opens a session for roomID, superseding any session for a
// different room. Calling Connect again for the room of a live session is a
// no-op, so double-connects cannot produce duplicate joins.
func (m *Manager) Connect(ctx context.Context, roomID string) {
	m.mu.Lock()
	if s := m.sess; s != nil && s.roomID == roomID && (s.state == StateConnecting || s.state == StateOpen) {
		m.mu.Unlock()
		log.Printf("CHANNEL [%s]: connect ignored — session already %s", roomID, s.state)
		return
	}
	old := m.sess
	s := &session{roomID: roomID, state: StateConnecting, done: make(chan struct{})}
	m.sess = s
	m.mu.Unlock()

	if old != nil {
		m.teardown(old)
	}

	m.notify(StateChange{RoomID: roomID, State: StateConnecting})
	go m.run(ctx, s)
}

// Disconnect tears down the current session, if any. Best-effort leave,
// close not awaited.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	s := m.sess
	m.sess = nil
	m.mu.Unlock()
	if s != nil {
		m.teardown(s)
	}
}

// Send writes one frame on the current session. Returns false — after
// logging — when no session is open; callers treat that as transient and
// retryable, never fatal.
func (m *Manager) Send(f *proto.Frame) bool {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.state != StateOpen {
		m.mu.Unlock()
		log.Printf("CHANNEL: send of %q dropped — no open session", f.Type)
		return false
	}
	conn := s.conn
	m.mu.Unlock()

	if err := s.writeJSON(conn, m.writeTimeout, f); err != nil {
		log.Printf("CHANNEL [%s]: send of %q failed: %v", s.roomID, f.Type, err)
		return false
	}
	return true
}

// ActiveRoom returns the room id of the current session, if any.
func (m *Manager) ActiveRoom() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return "", false
	}
	return m.sess.roomID, true
}

// State returns the current session state, StateClosed when none exists.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return StateClosed
	}
	return m.sess.state
}

// Subscribe returns a channel receiving state changes and a cancel func.
func (m *Manager) Subscribe() (ch chan StateChange, cancel func()) {
	ch = make(chan StateChange, 16)
	m.listenerMu.Lock()
	m.listeners[ch] = struct{}{}
	m.listenerMu.Unlock()

	cancel = func() {
		m.listenerMu.Lock()
		if _, ok := m.listeners[ch]; ok {
			delete(m.listeners, ch)
			close(ch)
		}
		m.listenerMu.Unlock()
	}
	return ch, cancel
}

// Close tears down the current session and drops all subscribers.
func (m *Manager) Close() {
	m.Disconnect()
	m.listenerMu.Lock()
	for ch := range m.listeners {
		close(ch)
	}
	m.listeners = map[chan StateChange]struct{}{}
	m.listenerMu.Unlock()
}

// run dials, then drives the join loop and read loop for one session.
func (m *Manager) run(ctx context.Context, s *session) {
	conn, err := m.dial(ctx, m.urlFor(s.roomID))
	if err != nil {
		log.Printf("CHANNEL [%s]: dial failed: %v", s.roomID, err)
		m.closeSession(s, false)
		return
	}

	m.mu.Lock()
	if m.sess != s {
		// Superseded while dialing — the late connection is discarded.
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.state = StateOpen
	m.mu.Unlock()
	m.notify(StateChange{RoomID: s.roomID, State: StateOpen})

	go m.joinLoop(s)
	m.readLoop(s)
}

// joinLoop retries the join_room frame on a fixed interval until one send
// succeeds or the session is superseded. The socket's open event and the
// application-level ready moment are not simultaneous, so a single-shot join
// can land in a socket that is open but not yet flushable. Success means the
// write did not fail with the session open — no server ack is awaited.
func (m *Manager) joinLoop(s *session) {
	ticker := time.NewTicker(m.joinRetry)
	defer ticker.Stop()

	for {
		if m.tryJoin(s) {
			return
		}
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) tryJoin(s *session) bool {
	m.mu.Lock()
	if m.sess != s || s.state != StateOpen || s.conn == nil {
		stale := m.sess != s
		m.mu.Unlock()
		return stale // superseded: stop retrying; not open yet: keep trying
	}
	conn := s.conn
	m.mu.Unlock()

	if err := s.writeJSON(conn, m.writeTimeout, proto.NewJoin(s.roomID)); err != nil {
		log.Printf("CHANNEL [%s]: join send failed, retrying: %v", s.roomID, err)
		return false
	}

	m.mu.Lock()
	s.joined = true
	m.mu.Unlock()
	log.Printf("CHANNEL [%s]: joined", s.roomID)
	return true
}

// readLoop delivers inbound frames to the handler in arrival order.
func (m *Manager) readLoop(s *session) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			current := m.sess == s
			closing := s.state == StateClosing || s.state == StateClosed
			m.mu.Unlock()
			if current && !closing {
				// Unexpected close. No automatic reconnect — the owning
				// room-selection logic re-invokes Connect.
				log.Printf("CHANNEL [%s]: connection lost: %v", s.roomID, err)
			}
			m.closeSession(s, false)
			return
		}

		var f proto.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("CHANNEL [%s]: undecodable frame dropped: %v", s.roomID, err)
			continue
		}

		m.mu.Lock()
		current := m.sess == s
		h := m.handler
		m.mu.Unlock()
		if !current {
			// Stale session's frame must not mutate shared state.
			continue
		}
		if h != nil {
			h(&f)
		}
	}
}

// teardown supersedes a session: best-effort leave_room while still open,
// then close without waiting for the server's close handshake.
func (m *Manager) teardown(s *session) {
	m.mu.Lock()
	open := s.state == StateOpen && s.conn != nil
	if s.state != StateClosed {
		s.state = StateClosing
	}
	conn := s.conn
	m.mu.Unlock()

	if open {
		if err := s.writeJSON(conn, m.writeTimeout, proto.NewLeave(s.roomID)); err != nil {
			log.Printf("CHANNEL [%s]: leave send failed (ignored): %v", s.roomID, err)
		}
	}
	m.closeSession(s, true)
}

func (m *Manager) closeSession(s *session, expected bool) {
	m.mu.Lock()
	already := s.state == StateClosed
	s.state = StateClosed
	conn := s.conn
	if m.sess == s && !expected {
		m.sess = nil
	}
	m.mu.Unlock()

	if already {
		return
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	if conn != nil {
		_ = conn.Close()
	}
	m.notify(StateChange{RoomID: s.roomID, State: StateClosed})
}

func (m *Manager) notify(sc StateChange) {
	m.listenerMu.RLock()
	for ch := range m.listeners {
		select {
		case ch <- sc:
		default:
		}
	}
	m.listenerMu.RUnlock()
}
