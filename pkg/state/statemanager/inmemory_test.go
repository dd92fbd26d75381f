package statemanager_test

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rohandol112/tcetian-realtime/pkg/state/statemanager"
)

func newTestLogger() *slog.Logger {
	// silence test output by setting a level above error
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestManager() *statemanager.InMemoryManager {
	return statemanager.NewInMemoryManager(newTestLogger())
}

// mockTransport satisfies state.Transport without a real socket.
type mockTransport struct {
	id uuid.UUID
}

func newTransportConn() *mockTransport {
	return &mockTransport{id: uuid.New()}
}

func (m *mockTransport) ID() uuid.UUID      { return m.id }
func (m *mockTransport) Send(_ []byte)      {}
func (m *mockTransport) Close(_ error)      {}

func TestConnectionLifecycle(t *testing.T) {
	m := newTestManager()
	conn := newTransportConn()

	stateConn, err := m.RegisterConnection(conn, "127.0.0.1")
	if err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	if stateConn.ID != conn.ID() {
		t.Errorf("Registered connection ID mismatch")
	}

	retrieved, found := m.GetConnection(conn.ID())
	if !found {
		t.Fatal("GetConnection failed to find registered connection")
	}
	if retrieved.ID != conn.ID() {
		t.Errorf("Retrieved connection ID mismatch")
	}

	if err := m.DeregisterConnection(conn.ID()); err != nil {
		t.Fatalf("DeregisterConnection failed: %v", err)
	}
	if _, found := m.GetConnection(conn.ID()); found {
		t.Error("Found connection after it should have been deregistered")
	}
}

func TestUserAssociationAndConnectionCount(t *testing.T) {
	m := newTestManager()
	userID := "user-1"
	conn1 := newTransportConn()
	conn2 := newTransportConn()

	m.RegisterConnection(conn1, "1.1.1.1")
	m.RegisterConnection(conn2, "2.2.2.2")

	user, err := m.AssociateUser(conn1.ID(), userID)
	if err != nil {
		t.Fatalf("AssociateUser (1) failed: %v", err)
	}
	if user.ID != userID {
		t.Errorf("Expected user ID %s, got %s", userID, user.ID)
	}

	count, _ := m.UserConnectionCount(userID)
	if count != 1 {
		t.Errorf("Expected connection count 1, got %d", count)
	}

	if _, err := m.AssociateUser(conn2.ID(), userID); err != nil {
		t.Fatalf("AssociateUser (2) failed: %v", err)
	}
	count, _ = m.UserConnectionCount(userID)
	if count != 2 {
		t.Errorf("Expected connection count 2, got %d", count)
	}

	m.DeregisterConnection(conn1.ID())
	count, _ = m.UserConnectionCount(userID)
	if count != 1 {
		t.Errorf("Expected connection count 1 after deregister, got %d", count)
	}
}

func TestFindOldestUserConnection(t *testing.T) {
	m := newTestManager()
	userID := "user-cycle"
	conn1 := newTransportConn()
	time.Sleep(5 * time.Millisecond) // ensure timestamps differ
	conn2 := newTransportConn()

	m.RegisterConnection(conn1, "1.1.1.1")
	m.RegisterConnection(conn2, "2.2.2.2")
	m.AssociateUser(conn1.ID(), userID)
	m.AssociateUser(conn2.ID(), userID)

	oldest, found := m.FindOldestUserConnection(userID)
	if !found {
		t.Fatal("Expected to find oldest connection, but did not")
	}
	if oldest.ID != conn1.ID() {
		t.Errorf("Expected oldest connection ID to be %s, got %s", conn1.ID(), oldest.ID)
	}
}

func TestRoomMembership(t *testing.T) {
	m := newTestManager()
	topic := "post:p1"
	conn1, conn2 := newTransportConn(), newTransportConn()
	m.RegisterConnection(conn1, "1.1.1.1")
	m.RegisterConnection(conn2, "2.2.2.2")

	if err := m.Join(conn1.ID(), topic); err != nil {
		t.Fatalf("conn1 failed to join room: %v", err)
	}
	if err := m.Join(conn2.ID(), topic); err != nil {
		t.Fatalf("conn2 failed to join room: %v", err)
	}

	members, err := m.RoomConnections(topic)
	if err != nil {
		t.Fatalf("RoomConnections failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Expected 2 members in room, got %d", len(members))
	}

	if err := m.Leave(conn1.ID(), topic); err != nil {
		t.Fatalf("conn1 failed to leave room: %v", err)
	}
	members, _ = m.RoomConnections(topic)
	if len(members) != 1 {
		t.Fatalf("Expected 1 member after leave, got %d", len(members))
	}
	if members[0].ID != conn2.ID() {
		t.Errorf("Expected remaining member to be %s, got %s", conn2.ID(), members[0].ID)
	}

	// empty room cleanup
	m.Leave(conn2.ID(), topic)
	if _, found := m.FindRoom(topic); found {
		t.Error("Expected room to be deleted after last member left, but it was found")
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	m := newTestManager()
	topic := "post:p1"
	conn := newTransportConn()
	m.RegisterConnection(conn, "1.1.1.1")

	if err := m.Join(conn.ID(), topic); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if err := m.Join(conn.ID(), topic); err != nil {
		t.Fatalf("second join failed: %v", err)
	}

	members, err := m.RoomConnections(topic)
	if err != nil {
		t.Fatalf("RoomConnections failed: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("Expected exactly 1 membership entry after double join, got %d", len(members))
	}

	// a single leave fully removes the membership
	m.Leave(conn.ID(), topic)
	if _, found := m.FindRoom(topic); found {
		t.Error("Expected room to be gone after single leave following double join")
	}
}

func TestDeregisterReleasesAllMemberships(t *testing.T) {
	m := newTestManager()
	conn := newTransportConn()
	other := newTransportConn()
	m.RegisterConnection(conn, "1.1.1.1")
	m.RegisterConnection(other, "2.2.2.2")

	topics := []string{"post:p1", "event:e1", "feed:social"}
	for _, topic := range topics {
		if err := m.Join(conn.ID(), topic); err != nil {
			t.Fatalf("join %s failed: %v", topic, err)
		}
	}
	// keep one room alive through a second member
	m.Join(other.ID(), "post:p1")

	m.DeregisterConnection(conn.ID())

	for _, topic := range []string{"event:e1", "feed:social"} {
		if _, found := m.FindRoom(topic); found {
			t.Errorf("Expected room %s to be removed after deregister", topic)
		}
	}
	members, err := m.RoomConnections("post:p1")
	if err != nil {
		t.Fatalf("RoomConnections failed: %v", err)
	}
	if len(members) != 1 || members[0].ID != other.ID() {
		t.Errorf("Expected only the other connection to remain in post:p1")
	}
}

func TestStats(t *testing.T) {
	m := newTestManager()
	conn1, conn2 := newTransportConn(), newTransportConn()
	m.RegisterConnection(conn1, "1.1.1.1")
	m.RegisterConnection(conn2, "2.2.2.2")
	m.Join(conn1.ID(), "post:p1")
	m.Join(conn2.ID(), "post:p1")
	m.Join(conn2.ID(), "feed:social")

	rooms, conns := m.Stats()
	if rooms != 2 {
		t.Errorf("Expected 2 rooms, got %d", rooms)
	}
	if conns != 2 {
		t.Errorf("Expected 2 connections, got %d", conns)
	}
}

func TestAllConnections(t *testing.T) {
	m := newTestManager()
	conn1, conn2 := newTransportConn(), newTransportConn()
	m.RegisterConnection(conn1, "1.1.1.1")
	m.RegisterConnection(conn2, "2.2.2.2")

	all := m.AllConnections()
	if len(all) != 2 {
		t.Fatalf("Expected 2 connections, got %d", len(all))
	}
	seen := map[string]bool{}
	for _, c := range all {
		seen[c.ID.String()] = true
	}
	if !seen[conn1.ID().String()] || !seen[conn2.ID().String()] {
		t.Errorf("Snapshot missing a registered connection")
	}
}
