package dispatch

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/rohandol112/tcetian-realtime/pkg/protocol"
	"github.com/rohandol112/tcetian-realtime/pkg/state"
)

// PresenceSink receives the ephemeral signals extracted from inbound
// messages. Implemented by the presence tracker.
type PresenceSink interface {
	SetStatus(userID string, online bool)
	SetTyping(topic, userID string, isTyping bool)
}

// Router handles messages arriving from client connections. Malformed or
// unknown messages are logged and dropped; nothing inbound may crash the
// dispatch path.
type Router struct {
	logger   *slog.Logger
	registry state.Manager
	fanout   *Fanout
	presence PresenceSink
}

func NewRouter(logger *slog.Logger, registry state.Manager, fanout *Fanout, presence PresenceSink) *Router {
	return &Router{
		logger:   logger.With(slog.String("component", "event_router")),
		registry: registry,
		fanout:   fanout,
		presence: presence,
	}
}

// HandleMessage is wired as the transport's message callback.
func (r *Router) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	if !gjson.ValidBytes(msg) {
		r.logger.Warn("dropping malformed client message", slog.String("connID", connID.String()))
		return
	}
	event := gjson.GetBytes(msg, "event").String()
	payload := gjson.GetBytes(msg, "payload")

	conn, ok := r.registry.GetConnection(connID)
	if !ok {
		r.logger.Error("message from unregistered connection", slog.String("connID", connID.String()))
		return
	}

	switch event {
	case protocol.EventJoinRoom:
		r.handleJoin(conn, payload)
	case protocol.EventLeaveRoom:
		r.handleLeave(conn, payload)
	case protocol.EventTyping:
		r.handleTyping(conn, payload)
	case protocol.EventSetStatus:
		r.handleStatus(conn, payload)
	default:
		r.logger.Warn("received unknown event",
			slog.String("event", event),
			slog.String("connID", connID.String()),
		)
	}
}

func (r *Router) handleJoin(conn *state.Connection, payload gjson.Result) {
	topic := payload.Get("topic").String()
	if topic == "" {
		r.logger.Warn("join_room without topic", slog.String("connID", conn.ID.String()))
		return
	}
	if conn.UserID == "" {
		// joins are honored only for authenticated connections
		r.logger.Warn("join_room from unauthenticated connection",
			slog.String("connID", conn.ID.String()),
			slog.String("topic", topic),
		)
		return
	}
	if err := r.registry.Join(conn.ID, topic); err != nil {
		r.logger.Error("join failed", slog.String("topic", topic), slog.Any("error", err))
	}
}

func (r *Router) handleLeave(conn *state.Connection, payload gjson.Result) {
	topic := payload.Get("topic").String()
	if topic == "" {
		r.logger.Warn("leave_room without topic", slog.String("connID", conn.ID.String()))
		return
	}
	if err := r.registry.Leave(conn.ID, topic); err != nil {
		r.logger.Error("leave failed", slog.String("topic", topic), slog.Any("error", err))
	}
}

// handleTyping rebroadcasts the signal to the topic's other members and feeds
// the server-side presence view. Fire-and-forget in both directions.
func (r *Router) handleTyping(conn *state.Connection, payload gjson.Result) {
	topic := payload.Get("topic").String()
	if topic == "" || conn.UserID == "" {
		return
	}
	isTyping := payload.Get("isTyping").Bool()

	r.presence.SetTyping(topic, conn.UserID, isTyping)
	r.fanout.Publish(DomainEvent{
		Kind:         KindTyping,
		Topic:        topic,
		OriginConnID: conn.ID,
		Payload: protocol.TypingSignal{
			Topic:    topic,
			UserID:   conn.UserID,
			IsTyping: isTyping,
		},
	})
}

func (r *Router) handleStatus(conn *state.Connection, payload gjson.Result) {
	if conn.UserID == "" {
		return
	}
	status := payload.Get("status").String()
	switch status {
	case "online", "offline":
		r.presence.SetStatus(conn.UserID, status == "online")
	default:
		r.logger.Warn("ignoring unknown status",
			slog.String("status", status),
			slog.String("userID", conn.UserID),
		)
	}
}
