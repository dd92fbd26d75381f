package state

import (
	"github.com/google/uuid"
)

type Manager interface {
	// --- Connection lifecycle ---
	RegisterConnection(conn Transport, ipAddr string) (*Connection, error)
	// DeregisterConnection removes the connection and implicitly releases
	// every room membership it held.
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)
	// AllConnections returns a snapshot of every registered connection.
	AllConnections() []*Connection

	// --- User management ---
	// AssociateUser binds an authenticated identity to a connection,
	// creating the user aggregate if absent.
	AssociateUser(connID uuid.UUID, userID string) (*User, error)
	FindUser(userID string) (*User, bool)
	UserConnections(userID string) ([]*Connection, error)
	UserConnectionCount(userID string) (int, error)
	FindOldestUserConnection(userID string) (*Connection, bool)

	// --- Room membership ---
	// Join adds the connection to the topic's room, creating the room if
	// absent. Idempotent: re-joining an already joined topic is a no-op.
	Join(connID uuid.UUID, topic string) error
	// Leave removes the connection from the room; an emptied room is
	// discarded.
	Leave(connID uuid.UUID, topic string) error
	// LeaveAll removes the connection from every room it joined.
	LeaveAll(connID uuid.UUID) error
	// RoomConnections returns a snapshot of the room's members, safe to
	// iterate while joins and leaves proceed concurrently.
	RoomConnections(topic string) ([]*Connection, error)
	FindRoom(topic string) (*Room, bool)

	// Stats reports the current number of rooms and connections.
	Stats() (rooms, conns int)
}
