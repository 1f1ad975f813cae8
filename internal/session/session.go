// Package session implements per-socket admission, the LIVE/CLOSING
// lifecycle, and the heartbeat and initial-state handshake that run
// once a socket has been admitted.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webitel/im-delivery-service/internal/domain/notification"
	"github.com/webitel/im-delivery-service/internal/domain/registry"
)

// Close codes sent on the WebSocket close frame. Values are in the
// application-reserved 4000-4999 range.
const (
	CloseMissingUserID uint16 = 4000
	CloseIdleTimeout    uint16 = 4001
	CloseInvalidUser    uint16 = 4002
	CloseSuperseded      uint16 = 4003
)

// State is a session's position in its NEW -> LIVE -> CLOSING -> CLOSED
// lifecycle.
type State int32

const (
	StateNew State = iota
	StateLive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrValidation wraps the handful of admission failures that map onto a
// specific close code rather than a bare connection fault.
var ErrValidation = errors.New("session: admission rejected")

// Session is a single admitted WebSocket connection. Every Session owns
// exactly one outbound writer goroutine; all writes to conn go through
// outbox to keep writes single-threaded, as gorilla/websocket requires.
type Session struct {
	userID   string
	handle   uint64
	serverID string

	conn    *websocket.Conn
	outbox  chan []byte
	closeCh chan struct{}
	closeOnce sync.Once

	state int32 // State, accessed atomically

	idleTimeout time.Duration
	timer       *time.Timer
	timerMu     sync.Mutex

	logger *slog.Logger
}

func newSession(conn *websocket.Conn, userID string, handle uint64, serverID string, idleTimeout time.Duration, logger *slog.Logger) *Session {
	return &Session{
		userID:      userID,
		handle:      handle,
		serverID:    serverID,
		conn:        conn,
		outbox:      make(chan []byte, 256),
		closeCh:     make(chan struct{}),
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// UserID returns the authenticated user this session belongs to.
func (s *Session) UserID() string { return s.userID }

// Handle returns the process-local connection handle, unique alongside
// this process's serverID.
func (s *Session) Handle() uint64 { return s.handle }

func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Session) setState(st State) {
	atomic.StoreInt32(&s.state, int32(st))
}

// Send enqueues a frame for the writer goroutine. Returns false if the
// session is already closing/closed or the outbox is full, in which
// case the caller should treat the socket as no longer live.
func (s *Session) Send(frame []byte) bool {
	if s.State() >= StateClosing {
		return false
	}
	select {
	case s.outbox <- frame:
		return true
	default:
		return false
	}
}

// Close begins an orderly shutdown, sending the given close code and
// tearing down the writer/reader goroutines. Safe to call more than
// once and from more than one goroutine.
func (s *Session) Close(code uint16, reason string) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		close(s.closeCh)

		s.timerMu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.timerMu.Unlock()

		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(int(code), reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = s.conn.Close()
		s.setState(StateClosed)
	})
}

// writerLoop is the single goroutine permitted to call conn.WriteMessage.
func (s *Session) writerLoop() {
	for {
		select {
		case <-s.closeCh:
			return
		case frame := <-s.outbox:
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Warn("SESSION_WRITE_FAILED", "user_id", s.userID, "error", err)
				go s.Close(CloseIdleTimeout, "write failed")
				return
			}
		}
	}
}

// writeJSON is a convenience used by the initial-state handshake, which
// runs before the general writer loop has anything else competing for
// the outbox.
func (s *Session) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !s.Send(data) {
		return errors.New("session: outbox closed")
	}
	return nil
}

// ackFrame is the first frame sent on a successful admission.
type ackFrame struct {
	Type         string `json:"type"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	ConnectionID uint64 `json:"connection_id"`
}

// countFrame carries the notification-count snapshot, pushed once on
// successful admission and again on every get_notifications action.
type countFrame struct {
	Type string                     `json:"type"`
	Data notification.CountSnapshot `json:"data"`
}

// pongFrame answers a client ping.
type pongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// inboundFrame is the client-to-server envelope decoded in the read
// loop; only the fields relevant to a given action are populated.
type inboundFrame struct {
	Action         string `json:"action"`
	Event          string `json:"event,omitempty"`
	Message        string `json:"message,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
}

// TaskEnqueuer is implemented by *pump.TaskQueue, used to reach Feeder
// C's send_notification / mark_read tasks from a client frame without
// session importing pump (pump already depends on session).
type TaskEnqueuer interface {
	EnqueueSendNotification(ctx context.Context, n notification.Notification) error
	EnqueueMarkRead(ctx context.Context, notificationID string) error
}

// Manager owns admission: validating a new HTTP upgrade request,
// binding it into the registry, and running its lifecycle to
// completion.
type Manager struct {
	reg         *registry.Registry
	upgrader    websocket.Upgrader
	serverID    string
	idleTimeout time.Duration
	logger      *slog.Logger

	snapshot SnapshotFunc
	tasks    TaskEnqueuer

	mu       sync.Mutex
	sessions map[uint64]*Session
	nextHandle uint64
}

// SnapshotFunc produces the notification-count snapshot for a user, used
// by the initial-state handshake.
type SnapshotFunc func(ctx context.Context, userID string) (notification.CountSnapshot, error)

func NewManager(reg *registry.Registry, serverID string, idleTimeout time.Duration, snapshot SnapshotFunc, logger *slog.Logger) *Manager {
	return &Manager{
		reg:         reg,
		serverID:    serverID,
		idleTimeout: idleTimeout,
		snapshot:    snapshot,
		logger:      logger,
		sessions:    make(map[uint64]*Session),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetTaskEnqueuer wires Feeder C's task queue in once both it and the
// Manager have been constructed, avoiding an import cycle (pump already
// depends on session for local delivery).
func (m *Manager) SetTaskEnqueuer(t TaskEnqueuer) {
	m.tasks = t
}

// Lookup returns the locally-held session for handle, if this process
// currently owns it.
func (m *Manager) Lookup(handle uint64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[handle]
	return s, ok
}

func (m *Manager) allocHandle() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHandle++
	return m.nextHandle
}

func (m *Manager) track(s *Session) {
	m.mu.Lock()
	m.sessions[s.handle] = s
	m.mu.Unlock()
}

func (m *Manager) untrack(handle uint64) {
	m.mu.Lock()
	delete(m.sessions, handle)
	m.mu.Unlock()
}

// ServeHTTP admits a single WebSocket connection: it validates the
// userId query parameter, upgrades the socket, binds it into the
// registry (evicting any prior binding for the user, per R2), runs the
// initial-state handshake, and then pumps inbound frames until the
// socket closes or the idle timeout fires.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err == nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(int(CloseMissingUserID), "missing userId"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
		return
	}

	if !validUserID(userID) {
		// absent-or-non-numeric userId is an admission failure, same
		// close code as a wholly missing userId; CloseInvalidUser (4002)
		// is reserved for a LIVE session whose bound user disappears.
		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err == nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(int(CloseMissingUserID), "invalid userId"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("SESSION_UPGRADE_FAILED", "error", err)
		return
	}

	handle := m.allocHandle()
	sess := newSession(conn, userID, handle, m.serverID, m.idleTimeout, m.logger)

	evictFn := func(ctx context.Context, prev registry.Binding) {
		if prev.ServerID != m.serverID {
			return
		}
		if old, ok := m.Lookup(prev.Handle); ok {
			old.Close(CloseSuperseded, "superseded")
		}
	}

	if err := m.reg.Bind(r.Context(), userID, handle, evictFn); err != nil {
		m.logger.Error("REGISTRY_BIND_FAILED", "user_id", userID, "error", err)
		_ = conn.Close()
		return
	}

	m.track(sess)
	sess.setState(StateLive)
	go sess.writerLoop()

	m.logger.Info("SESSION_ADMITTED", "user_id", userID, "handle", handle)

	if err := m.sendInitialState(r.Context(), sess); err != nil {
		m.logger.Warn("INITIAL_STATE_FAILED", "user_id", userID, "error", err)
	}

	sess.armHeartbeat(m.idleTimeout, sess.Close)

	m.pumpInbound(r.Context(), sess)

	sess.Close(CloseIdleTimeout, "read loop ended")
	m.untrack(handle)
	if err := m.reg.Unbind(context.Background(), userID, handle); err != nil {
		m.logger.Warn("REGISTRY_UNBIND_FAILED", "user_id", userID, "error", err)
	}
	m.logger.Info("SESSION_CLOSED", "user_id", userID, "handle", handle, "state", sess.State())
}

// pumpInbound reads frames until the connection errors or closes,
// resetting the idle timer on every inbound frame (including control
// frames, via gorilla's ping and pong handlers), decoding each text frame and
// switching on its action. A frame that fails to decode is a protocol
// violation and terminates the connection.
func (m *Manager) pumpInbound(ctx context.Context, s *Session) {
	s.conn.SetPongHandler(func(string) error {
		s.resetHeartbeat()
		return nil
	})
	s.conn.SetPingHandler(func(appData string) error {
		s.resetHeartbeat()
		_ = s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.resetHeartbeat()

		var in inboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			m.logger.Warn("PROTOCOL_VIOLATION", "user_id", s.userID, "error", err)
			s.Close(websocket.CloseProtocolError, "malformed frame")
			return
		}

		switch in.Action {
		case "ping":
			_ = s.writeJSON(pongFrame{Type: "pong", Timestamp: time.Now().UnixMilli()})
		case "pong":
			// no-op; resetHeartbeat above already applied the liveness
			// side-effect this action exists for.
		case "get_notifications":
			if err := m.pushNotificationCount(ctx, s); err != nil {
				m.logger.Warn("NOTIFICATION_COUNT_PUSH_FAILED", "user_id", s.userID, "error", err)
			}
		case "send_notification":
			if m.tasks == nil {
				continue
			}
			n := notification.New(s.userID, in.Event, in.Message)
			if err := m.tasks.EnqueueSendNotification(ctx, n); err != nil {
				m.logger.Warn("ENQUEUE_SEND_NOTIFICATION_FAILED", "user_id", s.userID, "error", err)
			}
		case "mark_read":
			if m.tasks == nil {
				continue
			}
			if err := m.tasks.EnqueueMarkRead(ctx, in.NotificationID); err != nil {
				m.logger.Warn("ENQUEUE_MARK_READ_FAILED", "user_id", s.userID, "error", err)
			}
		default:
			m.logger.Warn("UNKNOWN_ACTION", "user_id", s.userID, "action", in.Action)
		}
	}
}

func (m *Manager) sendInitialState(ctx context.Context, s *Session) error {
	ack := ackFrame{
		Type:         "connection",
		Status:       "connected",
		Message:      "WebSocket connection established",
		ConnectionID: s.handle,
	}
	if err := s.writeJSON(ack); err != nil {
		return err
	}

	return m.pushNotificationCount(ctx, s)
}

func (m *Manager) pushNotificationCount(ctx context.Context, s *Session) error {
	counts, err := m.snapshot(ctx, s.userID)
	if err != nil {
		m.logger.Warn("SNAPSHOT_FAILED", "user_id", s.userID, "error", err)
		counts = notification.CountSnapshot{}
	}
	return s.writeJSON(countFrame{Type: "notification_count", Data: counts})
}

// validUserID reports whether userID is a non-empty numeric string, per
// the upgrade path's userId=<numeric> contract.
func validUserID(userID string) bool {
	if len(userID) == 0 || len(userID) > 256 {
		return false
	}
	for _, r := range userID {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
