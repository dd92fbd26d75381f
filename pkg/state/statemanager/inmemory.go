package statemanager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rohandol112/tcetian-realtime/pkg/state"
)

var ErrRoomNotFound = errors.New("room not found")

// InMemoryManager holds all registry state in process memory. Membership is
// keyed by connection, not user: two tabs of the same user viewing different
// posts hold different room sets.
type InMemoryManager struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*state.Connection
	users map[string]*state.User
	rooms map[string]*state.Room

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Connection),
		users:  make(map[string]*state.User),
		rooms:  make(map[string]*state.Room),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(conn state.Transport, ipAddr string) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	newConn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: conn,
		Rooms:     make(map[string]struct{}),
		CreatedAt: time.Now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("connection registered", slog.String("connID", connID.String()))
	return newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// already deregistered
		return nil
	}
	m.leaveAllLocked(conn)
	delete(m.conns, connID)

	if conn.UserID != "" {
		if user, ok := m.users[conn.UserID]; ok {
			delete(user.Connections, connID)
			if len(user.Connections) == 0 {
				delete(m.users, conn.UserID)
			}
		}
	}
	m.logger.Debug("connection deregistered", slog.String("connID", connID.String()))
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) AllConnections() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

// --- User management ---

func (m *InMemoryManager) AssociateUser(connID uuid.UUID, userID string) (*state.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, errors.New("cannot associate user with unknown connection")
	}

	user, exists := m.users[userID]
	if !exists {
		user = &state.User{
			ID:          userID,
			Connections: make(map[uuid.UUID]*state.Connection),
		}
		m.users[userID] = user
		m.logger.Debug("created new user session", slog.String("userID", userID))
	}

	conn.UserID = userID
	user.Connections[connID] = conn

	m.logger.Debug("associated connection with user",
		slog.String("connID", connID.String()),
		slog.String("userID", userID),
	)
	return user, nil
}

func (m *InMemoryManager) FindUser(userID string) (*state.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	return user, ok
}

func (m *InMemoryManager) UserConnections(userID string) ([]*state.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, errors.New("user not found")
	}
	conns := make([]*state.Connection, 0, len(user.Connections))
	for _, c := range user.Connections {
		conns = append(conns, c)
	}
	return conns, nil
}

func (m *InMemoryManager) UserConnectionCount(userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return 0, nil // user doesn't exist yet, so they have 0 connections
	}
	return len(user.Connections), nil
}

func (m *InMemoryManager) FindOldestUserConnection(userID string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, false
	}

	var oldest *state.Connection
	for _, conn := range user.Connections {
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	return oldest, oldest != nil
}

// --- Room membership ---

func (m *InMemoryManager) Join(connID uuid.UUID, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return errors.New("cannot join room: connection not found")
	}

	if _, already := conn.Rooms[topic]; already {
		return nil
	}

	room, exists := m.rooms[topic]
	if !exists {
		room = &state.Room{
			Topic:   topic,
			Members: make(map[uuid.UUID]*state.Connection),
		}
		m.rooms[topic] = room
	}

	room.Members[connID] = conn
	conn.Rooms[topic] = struct{}{}

	m.logger.Debug("connection joined room",
		slog.String("connID", connID.String()),
		slog.String("topic", topic),
	)
	return nil
}

func (m *InMemoryManager) Leave(connID uuid.UUID, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		m.logger.Warn("leave for unknown connection",
			slog.String("connID", connID.String()),
			slog.String("topic", topic),
		)
		return nil
	}
	m.leaveLocked(conn, topic)
	return nil
}

func (m *InMemoryManager) LeaveAll(connID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil
	}
	m.leaveAllLocked(conn)
	return nil
}

func (m *InMemoryManager) leaveAllLocked(conn *state.Connection) {
	for topic := range conn.Rooms {
		m.leaveLocked(conn, topic)
	}
}

func (m *InMemoryManager) leaveLocked(conn *state.Connection, topic string) {
	delete(conn.Rooms, topic)

	room, ok := m.rooms[topic]
	if !ok {
		return
	}
	delete(room.Members, conn.ID)

	// memory hygiene: no persistent empty rooms
	if len(room.Members) == 0 {
		delete(m.rooms, topic)
		m.logger.Debug("removed empty room", slog.String("topic", topic))
	}
}

// RoomConnections returns a copied slice so callers may iterate while
// concurrent joins and leaves mutate the room.
func (m *InMemoryManager) RoomConnections(topic string) ([]*state.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[topic]
	if !ok {
		return nil, ErrRoomNotFound
	}
	members := make([]*state.Connection, 0, len(room.Members))
	for _, c := range room.Members {
		members = append(members, c)
	}
	return members, nil
}

func (m *InMemoryManager) FindRoom(topic string) (*state.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[topic]
	return room, ok
}

func (m *InMemoryManager) Stats() (rooms, conns int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms), len(m.conns)
}
