package dispatch

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohandol112/tcetian-realtime/pkg/protocol"
	"github.com/rohandol112/tcetian-realtime/pkg/state/statemanager"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type mockConn struct {
	id       uuid.UUID
	mu       sync.Mutex
	received [][]byte
}

func newMockConn() *mockConn {
	return &mockConn{id: uuid.New()}
}

func (m *mockConn) ID() uuid.UUID { return m.id }
func (m *mockConn) Close(_ error) {}

func (m *mockConn) Send(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, data)
}

func (m *mockConn) getReceived() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

func (m *mockConn) lastEnvelope(t *testing.T) protocol.Envelope {
	t.Helper()
	received := m.getReceived()
	require.NotEmpty(t, received)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(received[len(received)-1], &env))
	return env
}

type fixture struct {
	registry *statemanager.InMemoryManager
	fanout   *Fanout
}

func newFixture() *fixture {
	logger := testLogger()
	registry := statemanager.NewInMemoryManager(logger)
	return &fixture{
		registry: registry,
		fanout:   NewFanout(logger, registry),
	}
}

func (f *fixture) connect(t *testing.T, userID string, topics ...string) *mockConn {
	t.Helper()
	conn := newMockConn()
	_, err := f.registry.RegisterConnection(conn, "127.0.0.1")
	require.NoError(t, err)
	_, err = f.registry.AssociateUser(conn.ID(), userID)
	require.NoError(t, err)
	for _, topic := range topics {
		require.NoError(t, f.registry.Join(conn.ID(), topic))
	}
	return conn
}

func TestPublishVoteReachesAllRoomMembersIncludingOrigin(t *testing.T) {
	f := newFixture()
	origin := f.connect(t, "alice", protocol.PostTopic("p1"))
	other := f.connect(t, "bob", protocol.PostTopic("p1"))
	outsider := f.connect(t, "carol", protocol.PostTopic("p2"))

	f.fanout.Publish(DomainEvent{
		Kind:         KindPostVote,
		PostID:       "p1",
		OriginConnID: origin.ID(),
		Payload: protocol.VoteUpdatePayload{
			PostID:     "p1",
			VoteCount:  1,
			UpvoterIDs: []string{"alice"},
		},
	})

	// votes are never self-excluded: the originator must reconcile its
	// optimistic state against the authoritative payload
	assert.Len(t, origin.getReceived(), 1)
	assert.Len(t, other.getReceived(), 1)
	assert.Empty(t, outsider.getReceived())

	env := other.lastEnvelope(t)
	assert.Equal(t, protocol.EventPostUpdated, env.Event)

	var upd protocol.VoteUpdatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &upd))
	assert.Equal(t, 1, upd.VoteCount)
	assert.Equal(t, []string{"alice"}, upd.UpvoterIDs)
}

func TestPublishTypingExcludesOrigin(t *testing.T) {
	f := newFixture()
	topic := protocol.PostTopic("p1")
	origin := f.connect(t, "alice", topic)
	other := f.connect(t, "bob", topic)

	f.fanout.Publish(DomainEvent{
		Kind:         KindTyping,
		Topic:        topic,
		OriginConnID: origin.ID(),
		Payload:      protocol.TypingSignal{Topic: topic, UserID: "alice", IsTyping: true},
	})

	assert.Empty(t, origin.getReceived(), "typing must not echo to its origin")
	assert.Len(t, other.getReceived(), 1)
	assert.Equal(t, protocol.EventUserTyping, other.lastEnvelope(t).Event)
}

func TestPublishRoutesByKind(t *testing.T) {
	tests := []struct {
		name      string
		event     DomainEvent
		wantEvent string
		joined    string
	}{
		{
			name:      "new comment to post room",
			event:     DomainEvent{Kind: KindNewComment, PostID: "p1", Payload: protocol.NewCommentPayload{PostID: "p1"}},
			wantEvent: protocol.EventNewComment,
			joined:    protocol.PostTopic("p1"),
		},
		{
			name:      "comment vote to post room",
			event:     DomainEvent{Kind: KindCommentVote, PostID: "p1", Payload: protocol.VoteUpdatePayload{CommentID: "c1"}},
			wantEvent: protocol.EventCommentUpdated,
			joined:    protocol.PostTopic("p1"),
		},
		{
			name:      "new post to social feed",
			event:     DomainEvent{Kind: KindNewPost, Payload: protocol.PostPayload{ID: "p2"}},
			wantEvent: protocol.EventNewPost,
			joined:    protocol.TopicSocialFeed,
		},
		{
			name:      "new event to events feed",
			event:     DomainEvent{Kind: KindNewEvent, Payload: protocol.EventPayload{ID: "e1"}},
			wantEvent: protocol.EventNewEvent,
			joined:    protocol.TopicEventsFeed,
		},
		{
			name:      "rsvp change to event room",
			event:     DomainEvent{Kind: KindRSVPChange, EventID: "e1", Payload: protocol.RSVPUpdatePayload{EventID: "e1"}},
			wantEvent: protocol.EventRSVPUpdate,
			joined:    protocol.EventTopic("e1"),
		},
		{
			name:      "share increment to post room",
			event:     DomainEvent{Kind: KindShareIncrement, PostID: "p1", Payload: protocol.ShareUpdatePayload{PostID: "p1", ShareCount: 3}},
			wantEvent: protocol.EventShareUpdate,
			joined:    protocol.PostTopic("p1"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			member := f.connect(t, "bob", tt.joined)

			f.fanout.Publish(tt.event)

			require.Len(t, member.getReceived(), 1)
			assert.Equal(t, tt.wantEvent, member.lastEnvelope(t).Event)
		})
	}
}

func TestPublishDeliversOncePerConnectionAcrossRooms(t *testing.T) {
	f := newFixture()
	// a dashboard view joined to both the post room and analytics
	dashboard := f.connect(t, "admin", protocol.PostTopic("p1"), protocol.TopicAnalytics)

	f.fanout.Publish(DomainEvent{
		Kind:    KindNewComment,
		PostID:  "p1",
		Payload: protocol.NewCommentPayload{PostID: "p1"},
	})

	assert.Len(t, dashboard.getReceived(), 1, "member of both target rooms must receive one copy")
}

func TestPublishAnalyticsRoomSeesCountableEvents(t *testing.T) {
	f := newFixture()
	dashboard := f.connect(t, "admin", protocol.TopicAnalytics)

	f.fanout.Publish(DomainEvent{Kind: KindPostVote, PostID: "p1", Payload: protocol.VoteUpdatePayload{PostID: "p1"}})
	f.fanout.Publish(DomainEvent{Kind: KindRSVPChange, EventID: "e1", Payload: protocol.RSVPUpdatePayload{EventID: "e1"}})

	assert.Len(t, dashboard.getReceived(), 2)
}

func TestPublishNotificationTargetsAllUserConnections(t *testing.T) {
	f := newFixture()
	tab1 := f.connect(t, "alice")
	tab2 := f.connect(t, "alice")
	bystander := f.connect(t, "bob", protocol.TopicSocialFeed)

	f.fanout.Publish(DomainEvent{
		Kind:         KindNotification,
		TargetUserID: "alice",
		Payload:      protocol.NotificationPayload{Type: "comment", Message: "bob replied to your post"},
	})

	assert.Len(t, tab1.getReceived(), 1)
	assert.Len(t, tab2.getReceived(), 1)
	assert.Empty(t, bystander.getReceived())
	assert.Equal(t, protocol.EventNotification, tab1.lastEnvelope(t).Event)
}

func TestPublishToEmptyRoomIsNoop(t *testing.T) {
	f := newFixture()
	f.fanout.Publish(DomainEvent{Kind: KindNewComment, PostID: "ghost", Payload: protocol.NewCommentPayload{PostID: "ghost"}})
	// nothing to assert beyond "did not panic"; the room does not exist
}

func TestPublishUnknownKindIsDropped(t *testing.T) {
	f := newFixture()
	member := f.connect(t, "bob", protocol.TopicSocialFeed)

	f.fanout.Publish(DomainEvent{Kind: Kind("bogus")})

	assert.Empty(t, member.getReceived())
}
