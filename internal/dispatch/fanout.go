// Package dispatch routes domain events to rooms and delivers them to member
// connections, and handles the inbound client messages that control
// membership and ephemeral signals.
package dispatch

import (
	"errors"
	"log/slog"

	"github.com/rohandol112/tcetian-realtime/pkg/protocol"
	"github.com/rohandol112/tcetian-realtime/pkg/state"
	"github.com/rohandol112/tcetian-realtime/pkg/state/statemanager"
)

// Fanout delivers domain events to every connection in the resolved rooms.
// Delivery is at-most-once per connection per publish: no retry, no ack. The
// authoritative value is always re-fetchable via the REST layer.
type Fanout struct {
	logger   *slog.Logger
	registry state.Manager
}

func NewFanout(logger *slog.Logger, registry state.Manager) *Fanout {
	return &Fanout{
		logger:   logger.With(slog.String("component", "fanout")),
		registry: registry,
	}
}

// Publish resolves the target rooms from the event kind and pushes the
// serialized payload to each member. A room with no members is not an error;
// neither is a slow member (its transport drops).
func (f *Fanout) Publish(ev DomainEvent) {
	r, err := resolveRoute(ev)
	if err != nil {
		f.logger.Warn("dropping unroutable event", slog.Any("error", err))
		return
	}

	msg, err := protocol.Encode(r.wireEvent, ev.Payload)
	if err != nil {
		f.logger.Warn("dropping unencodable event",
			slog.String("event", r.wireEvent),
			slog.Any("error", err),
		)
		return
	}

	if r.directUserID != "" {
		f.deliverToUser(r.directUserID, r.wireEvent, msg)
		return
	}

	// Deduplicate across rooms: a connection in both post:P and analytics
	// receives one copy.
	delivered := make(map[[16]byte]struct{})
	for _, topic := range r.topics {
		members, err := f.registry.RoomConnections(topic)
		if err != nil {
			if !errors.Is(err, statemanager.ErrRoomNotFound) {
				f.logger.Warn("room lookup failed", slog.String("topic", topic), slog.Any("error", err))
			}
			continue
		}
		for _, member := range members {
			if r.excludeOrigin && member.ID == ev.OriginConnID {
				continue
			}
			if _, seen := delivered[member.ID]; seen {
				continue
			}
			delivered[member.ID] = struct{}{}
			member.Transport.Send(msg)
		}
	}
	f.logger.Debug("event published",
		slog.String("event", r.wireEvent),
		slog.Int("delivered", len(delivered)),
	)
}

func (f *Fanout) deliverToUser(userID, wireEvent string, msg []byte) {
	conns, err := f.registry.UserConnections(userID)
	if err != nil {
		// user not connected: notifications are best-effort
		f.logger.Debug("no connections for notification target", slog.String("userID", userID))
		return
	}
	for _, conn := range conns {
		conn.Transport.Send(msg)
	}
	f.logger.Debug("event delivered to user",
		slog.String("event", wireEvent),
		slog.String("userID", userID),
		slog.Int("connections", len(conns)),
	)
}
