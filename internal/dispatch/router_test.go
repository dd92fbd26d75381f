package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohandol112/tcetian-realtime/pkg/protocol"
	"github.com/rohandol112/tcetian-realtime/pkg/state/statemanager"
)

type mockPresence struct {
	mu     sync.Mutex
	status map[string]bool
	typing []string // "topic/user/state" records, in order
}

func newMockPresence() *mockPresence {
	return &mockPresence{status: make(map[string]bool)}
}

func (m *mockPresence) SetStatus(userID string, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[userID] = online
}

func (m *mockPresence) SetTyping(topic, userID string, isTyping bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing = append(m.typing, fmt.Sprintf("%s/%s/%t", topic, userID, isTyping))
}

type routerFixture struct {
	registry *statemanager.InMemoryManager
	router   *Router
	presence *mockPresence
}

func newRouterFixture() *routerFixture {
	logger := testLogger()
	registry := statemanager.NewInMemoryManager(logger)
	presence := newMockPresence()
	fanout := NewFanout(logger, registry)
	return &routerFixture{
		registry: registry,
		router:   NewRouter(logger, registry, fanout, presence),
		presence: presence,
	}
}

func (f *routerFixture) connect(t *testing.T, userID string) *mockConn {
	t.Helper()
	conn := newMockConn()
	_, err := f.registry.RegisterConnection(conn, "127.0.0.1")
	require.NoError(t, err)
	if userID != "" {
		_, err = f.registry.AssociateUser(conn.ID(), userID)
		require.NoError(t, err)
	}
	return conn
}

func (f *routerFixture) deliver(conn *mockConn, msg string) {
	f.router.HandleMessage(context.Background(), conn.ID(), []byte(msg))
}

func TestRouterJoinAndLeave(t *testing.T) {
	f := newRouterFixture()
	conn := f.connect(t, "alice")

	f.deliver(conn, `{"event":"join_room","payload":{"topic":"post:p1"}}`)

	members, err := f.registry.RoomConnections("post:p1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, conn.ID(), members[0].ID)

	f.deliver(conn, `{"event":"leave_room","payload":{"topic":"post:p1"}}`)
	_, found := f.registry.FindRoom("post:p1")
	assert.False(t, found, "room should be discarded once emptied")
}

func TestRouterJoinRequiresAuthenticatedConnection(t *testing.T) {
	f := newRouterFixture()
	conn := f.connect(t, "")

	f.deliver(conn, `{"event":"join_room","payload":{"topic":"post:p1"}}`)

	_, found := f.registry.FindRoom("post:p1")
	assert.False(t, found)
}

func TestRouterTypingRebroadcastAndPresence(t *testing.T) {
	f := newRouterFixture()
	topic := protocol.PostTopic("p1")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	f.deliver(alice, `{"event":"join_room","payload":{"topic":"post:p1"}}`)
	f.deliver(bob, `{"event":"join_room","payload":{"topic":"post:p1"}}`)

	f.deliver(alice, `{"event":"typing","payload":{"topic":"post:p1","isTyping":true}}`)

	// typing reaches the other member, never echoes to the sender, and the
	// no join acknowledgements exist; only the typing broadcast counts
	assert.Empty(t, alice.getReceived())
	require.Len(t, bob.getReceived(), 1)
	assert.Equal(t, protocol.EventUserTyping, bob.lastEnvelope(t).Event)

	assert.Equal(t, []string{topic + "/alice/true"}, f.presence.typing)
}

func TestRouterStatusUpdates(t *testing.T) {
	f := newRouterFixture()
	conn := f.connect(t, "alice")

	f.deliver(conn, `{"event":"set_status","payload":{"status":"online"}}`)
	assert.True(t, f.presence.status["alice"])

	f.deliver(conn, `{"event":"set_status","payload":{"status":"offline"}}`)
	assert.False(t, f.presence.status["alice"])

	// unknown status values are ignored
	f.deliver(conn, `{"event":"set_status","payload":{"status":"lurking"}}`)
	assert.False(t, f.presence.status["alice"])
}

func TestRouterDropsMalformedAndUnknownMessages(t *testing.T) {
	f := newRouterFixture()
	conn := f.connect(t, "alice")

	tests := []struct {
		name string
		msg  string
	}{
		{"invalid json", `{"event":`},
		{"unknown event", `{"event":"self_destruct","payload":{}}`},
		{"join without topic", `{"event":"join_room","payload":{}}`},
		{"leave without topic", `{"event":"leave_room","payload":{}}`},
		{"typing without topic", `{"event":"typing","payload":{"isTyping":true}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.deliver(conn, tt.msg)
		})
	}

	// no room state may result from any of the above
	rooms, _ := f.registry.Stats()
	assert.Zero(t, rooms)
	assert.Empty(t, f.presence.typing)
}

func TestRouterMessageFromUnknownConnection(t *testing.T) {
	f := newRouterFixture()
	f.router.HandleMessage(context.Background(), uuid.New(), []byte(`{"event":"join_room","payload":{"topic":"post:p1"}}`))
	_, found := f.registry.FindRoom("post:p1")
	assert.False(t, found)
}
