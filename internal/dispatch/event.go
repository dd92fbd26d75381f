package dispatch

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/rohandol112/tcetian-realtime/pkg/protocol"
)

// Kind identifies the class of domain change an event describes.
type Kind string

const (
	KindNewComment     Kind = "new_comment"
	KindCommentVote    Kind = "comment_vote"
	KindPostVote       Kind = "post_vote"
	KindNewPost        Kind = "new_post"
	KindPostUpdated    Kind = "post_updated"
	KindPostDeleted    Kind = "post_deleted"
	KindNewEvent       Kind = "new_event"
	KindEventUpdated   Kind = "event_updated"
	KindRSVPChange     Kind = "rsvp_change"
	KindShareIncrement Kind = "share_increment"
	KindTyping         Kind = "typing"
	KindNotification   Kind = "notification"
)

// DomainEvent is an immutable fact about a change to persisted state,
// produced by the mutation path after the REST layer has accepted it, and
// consumed exactly once by the Fanout.
type DomainEvent struct {
	Kind    Kind
	PostID  string
	EventID string
	// Topic is set only for typing signals, which address a room directly.
	Topic string
	// TargetUserID addresses notification events to one user.
	TargetUserID string
	// OriginConnID is the connection whose action produced the event; only
	// kinds with an echo-suppression policy consult it.
	OriginConnID uuid.UUID
	// Payload is the wire payload, one of the protocol structs.
	Payload any
}

// route is the resolved delivery plan for one event.
type route struct {
	wireEvent string
	topics    []string
	// excludeOrigin suppresses the echo to the originating connection.
	// Countable events (votes, comments) are deliberately NOT excluded: the
	// originator's optimistic state must still reconcile against the
	// authoritative payload.
	excludeOrigin bool
	// directUserID delivers to every connection of one user instead of rooms.
	directUserID string
}

func resolveRoute(ev DomainEvent) (route, error) {
	switch ev.Kind {
	case KindNewComment:
		return route{
			wireEvent: protocol.EventNewComment,
			topics:    []string{protocol.PostTopic(ev.PostID), protocol.TopicAnalytics},
		}, nil
	case KindCommentVote:
		return route{
			wireEvent: protocol.EventCommentUpdated,
			topics:    []string{protocol.PostTopic(ev.PostID), protocol.TopicAnalytics},
		}, nil
	case KindPostVote:
		return route{
			wireEvent: protocol.EventPostUpdated,
			topics:    []string{protocol.PostTopic(ev.PostID), protocol.TopicSocialFeed, protocol.TopicAnalytics},
		}, nil
	case KindShareIncrement:
		return route{
			wireEvent: protocol.EventShareUpdate,
			topics:    []string{protocol.PostTopic(ev.PostID), protocol.TopicAnalytics},
		}, nil
	case KindNewPost:
		return route{
			wireEvent: protocol.EventNewPost,
			topics:    []string{protocol.TopicSocialFeed, protocol.TopicAnalytics},
		}, nil
	case KindPostUpdated:
		return route{
			wireEvent: protocol.EventPostUpdated,
			topics:    []string{protocol.PostTopic(ev.PostID), protocol.TopicSocialFeed, protocol.TopicAnalytics},
		}, nil
	case KindPostDeleted:
		return route{
			wireEvent: protocol.EventPostDeleted,
			topics:    []string{protocol.PostTopic(ev.PostID), protocol.TopicSocialFeed, protocol.TopicAnalytics},
		}, nil
	case KindNewEvent:
		return route{
			wireEvent: protocol.EventNewEvent,
			topics:    []string{protocol.TopicEventsFeed, protocol.TopicAnalytics},
		}, nil
	case KindEventUpdated:
		return route{
			wireEvent: protocol.EventEventUpdated,
			topics:    []string{protocol.EventTopic(ev.EventID), protocol.TopicEventsFeed, protocol.TopicAnalytics},
		}, nil
	case KindRSVPChange:
		return route{
			wireEvent: protocol.EventRSVPUpdate,
			topics:    []string{protocol.EventTopic(ev.EventID), protocol.TopicAnalytics},
		}, nil
	case KindTyping:
		return route{
			wireEvent:     protocol.EventUserTyping,
			topics:        []string{ev.Topic},
			excludeOrigin: true,
		}, nil
	case KindNotification:
		return route{
			wireEvent:    protocol.EventNotification,
			directUserID: ev.TargetUserID,
		}, nil
	}
	return route{}, fmt.Errorf("no route for event kind %q", ev.Kind)
}
