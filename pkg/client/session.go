// Package client implements the Go client session for the realtime layer:
// one persistent connection bound to an identity token, automatic
// reconnection with bounded backoff, tracked room membership with batch
// rejoin, and subscription handles for inbound events.
//
// A Session is constructed explicitly and injected where needed; its
// lifecycle is tied to authentication state by the owning application, never
// a package-level singleton.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	"github.com/rohandol112/tcetian-realtime/pkg/notify"
	"github.com/rohandol112/tcetian-realtime/pkg/protocol"
)

var (
	// ErrAuthFailed marks a rejected identity token. Never retried: the
	// same bad token cannot succeed.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrNotConnected is returned by sends while the session is not open.
	ErrNotConnected = errors.New("session is not connected")
)

// ConnState is the liveness of the session.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "idle"
}

// Config carries the session's dial target and retry policy.
type Config struct {
	URL   string
	Token string

	// Reconnect policy: exponential backoff from ReconnectInitial capped at
	// ReconnectMax, at most MaxAttempts dials per outage. After the ceiling
	// the session is terminally closed and reports disconnected.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	MaxAttempts      uint64

	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// wireConn is the minimal surface the session needs from a dialed
// connection. Tests substitute scripted fakes.
type wireConn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

type dialFunc func(ctx context.Context, url, token string) (wireConn, error)

// Session owns one bidirectional connection and the client-side state that
// must survive it: joined topics, event subscriptions, connection status.
type Session struct {
	cfg    Config
	logger *slog.Logger
	dial   dialFunc

	mu          sync.Mutex
	state       ConnState
	reason      string
	conn        wireConn
	closing     bool
	rooms       map[string]struct{}
	subs        map[string]map[int]func(json.RawMessage)
	stateSubs   map[int]func(ConnState, string)
	reconnSubs  map[int]func()
	nextSubID   int
}

func NewSession(logger *slog.Logger, cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "client_session")),
		dial:       dialWebsocket,
		state:      StateIdle,
		rooms:      make(map[string]struct{}),
		subs:       make(map[string]map[int]func(json.RawMessage)),
		stateSubs:  make(map[int]func(ConnState, string)),
		reconnSubs: make(map[int]func()),
	}
}

// Connect establishes the session. Idempotent: calling it while the session
// is connecting, open or reconnecting returns immediately without opening a
// duplicate. Network failures are retried per the backoff policy; an auth
// rejection is returned at once.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateOpen, StateReconnecting:
		s.mu.Unlock()
		return nil
	}
	s.closing = false
	s.mu.Unlock()

	s.setState(StateConnecting, "")
	conn, err := s.establish(ctx)
	if err != nil {
		s.setState(StateClosed, err.Error())
		return err
	}
	s.attach(ctx, conn, false)
	return nil
}

// Disconnect closes the session. Room memberships are released server-side
// on socket close; the tracked topic set is kept so a later Connect rejoins.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.closing = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.setState(StateClosed, "disconnected by client")
}

// IsConnected reports whether the session is currently open.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateOpen
}

// Status returns the connection state and a coarse reason when closed.
func (s *Session) Status() (ConnState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.reason
}

// Join subscribes the session to a topic. The membership is tracked locally
// so it survives reconnects; if the session is not currently open the join
// is sent on the next (re)connect.
func (s *Session) Join(topic string) error {
	s.mu.Lock()
	s.rooms[topic] = struct{}{}
	connected := s.state == StateOpen
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.send(protocol.EventJoinRoom, protocol.RoomRequest{Topic: topic})
}

// Leave cancels interest in a topic.
func (s *Session) Leave(topic string) error {
	s.mu.Lock()
	delete(s.rooms, topic)
	connected := s.state == StateOpen
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.send(protocol.EventLeaveRoom, protocol.RoomRequest{Topic: topic})
}

// Rooms returns the tracked topic set.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for topic := range s.rooms {
		out = append(out, topic)
	}
	return out
}

// SendTyping emits a fire-and-forget typing signal for a topic.
func (s *Session) SendTyping(topic string, isTyping bool) error {
	return s.send(protocol.EventTyping, protocol.TypingSignal{Topic: topic, IsTyping: isTyping})
}

// SetStatus emits a best-effort presence update. No acknowledgment, no
// retry.
func (s *Session) SetStatus(online bool) error {
	status := "offline"
	if online {
		status = "online"
	}
	return s.send(protocol.EventSetStatus, protocol.StatusUpdate{Status: status})
}

// On registers a handler for a named inbound event and returns its
// subscription handle; cancelling the handle is the unsubscribe.
func (s *Session) On(event string, fn func(payload json.RawMessage)) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	if s.subs[event] == nil {
		s.subs[event] = make(map[int]func(json.RawMessage))
	}
	s.subs[event][id] = fn

	return &Subscription{cancel: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[event], id)
	}}
}

// OnStateChange registers a push-based observer of connection state, so
// dependents never poll.
func (s *Session) OnStateChange(fn func(state ConnState, reason string)) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.stateSubs[id] = fn

	return &Subscription{cancel: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.stateSubs, id)
	}}
}

// OnReconnect fires after a reconnect has re-established membership. A
// client may have missed events across the gap: handlers should refetch
// authoritative state for entities they still display rather than trust
// cached views.
func (s *Session) OnReconnect(fn func()) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.reconnSubs[id] = fn

	return &Subscription{cancel: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.reconnSubs, id)
	}}
}

// BindNotifications pushes inbound notification events into a queue.
func (s *Session) BindNotifications(q *notify.Queue) *Subscription {
	return s.On(protocol.EventNotification, func(payload json.RawMessage) {
		var n protocol.NotificationPayload
		if err := json.Unmarshal(payload, &n); err != nil {
			s.logger.Warn("dropping malformed notification", slog.Any("error", err))
			return
		}
		q.Push(n.Type, n.Message)
	})
}

// BindTyping feeds inbound typing signals into a typing view.
func (s *Session) BindTyping(view *TypingView) *Subscription {
	return s.On(protocol.EventUserTyping, func(payload json.RawMessage) {
		var sig protocol.TypingSignal
		if err := json.Unmarshal(payload, &sig); err != nil {
			s.logger.Warn("dropping malformed typing signal", slog.Any("error", err))
			return
		}
		view.Observe(sig)
	})
}

// --- internals ---

// establish dials until success, the attempt ceiling, or a permanent error.
func (s *Session) establish(ctx context.Context) (wireConn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.ReconnectInitial
	bo.MaxInterval = s.cfg.ReconnectMax
	bo.MaxElapsedTime = 0

	var conn wireConn
	op := func() error {
		c, err := s.dial(ctx, s.cfg.URL, s.cfg.Token)
		if err != nil {
			if errors.Is(err, ErrAuthFailed) {
				return backoff.Permanent(err)
			}
			s.logger.Warn("dial failed, retrying", slog.Any("error", err))
			return err
		}
		conn = c
		return nil
	}

	// MaxRetries counts retries after the first attempt
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, s.cfg.MaxAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return conn, nil
}

func (s *Session) attach(ctx context.Context, conn wireConn, isReconnect bool) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(StateOpen, "")

	s.rejoinRooms()
	if isReconnect {
		s.fireReconnect()
	}
	go s.readLoop(ctx, conn)
}

// rejoinRooms replays the tracked membership set so callers never
// resubscribe manually after a reconnect.
func (s *Session) rejoinRooms() {
	for _, topic := range s.Rooms() {
		if err := s.send(protocol.EventJoinRoom, protocol.RoomRequest{Topic: topic}); err != nil {
			s.logger.Warn("rejoin failed", slog.String("topic", topic), slog.Any("error", err))
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn wireConn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing || ctx.Err() != nil {
				return
			}
			s.logger.Warn("connection lost", slog.Any("error", err))
			s.reconnect(ctx)
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) reconnect(ctx context.Context) {
	s.setState(StateReconnecting, "")
	conn, err := s.establish(ctx)
	if err != nil {
		s.setState(StateClosed, fmt.Sprintf("reconnect attempts exhausted: %v", err))
		return
	}
	s.attach(ctx, conn, true)
}

// dispatch delivers one inbound message to subscribers, in arrival order.
// Malformed payloads are contained here and never reach caller code.
func (s *Session) dispatch(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("dropping malformed server message", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	handlers := make([]func(json.RawMessage), 0, len(s.subs[env.Event]))
	for _, fn := range s.subs[env.Event] {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(env.Payload)
	}
}

func (s *Session) send(event string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()

	if !open || conn == nil {
		return ErrNotConnected
	}
	msg, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, msg)
}

func (s *Session) setState(state ConnState, reason string) {
	s.mu.Lock()
	s.state = state
	s.reason = reason
	observers := make([]func(ConnState, string), 0, len(s.stateSubs))
	for _, fn := range s.stateSubs {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(state, reason)
	}
}

func (s *Session) fireReconnect() {
	s.mu.Lock()
	observers := make([]func(), 0, len(s.reconnSubs))
	for _, fn := range s.reconnSubs {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

// Subscription is the handle returned by every On... call; Cancel is the
// unsubscribe. Cancelling twice is harmless.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func (sub *Subscription) Cancel() {
	sub.once.Do(sub.cancel)
}

// dialWebsocket is the production dial path.
func dialWebsocket(ctx context.Context, url, token string) (wireConn, error) {
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	c, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
		}
		return nil, err
	}
	return &coderConn{conn: c}, nil
}

type coderConn struct {
	conn *websocket.Conn
}

func (c *coderConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *coderConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *coderConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
