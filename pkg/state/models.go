package state

import (
	"time"

	"github.com/google/uuid"
)

// Transport is the send side of a connection as the registry and fanout see
// it. Implemented by transport.Conn; tests substitute mocks.
type Transport interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
}

// Connection is the registry's view of a single transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport Transport // the actual connection for sending messages
	UserID    string    // empty until an authenticated identity is bound
	Rooms     map[string]struct{}
	CreatedAt time.Time
}

// User aggregates all active connections for one authenticated identity.
// Direct-to-user delivery (notifications) fans out across these.
type User struct {
	ID          string
	Connections map[uuid.UUID]*Connection
}

// Room is a broadcast group keyed by topic. Purely a lookup structure:
// created lazily on first join, discarded when the last member leaves, never
// a source of truth for any persisted entity.
type Room struct {
	Topic   string
	Members map[uuid.UUID]*Connection
}
