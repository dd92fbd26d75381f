// Package protocol defines the wire vocabulary shared by the server and the
// Go client: the message envelope, event names, topic keys and the payload
// structs carried under them. Everything here is JSON-serializable and
// transport-agnostic.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the framing for every message in either direction.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client-to-server events.
const (
	EventJoinRoom  = "join_room"
	EventLeaveRoom = "leave_room"
	EventTyping    = "typing"
	EventSetStatus = "set_status"
)

// Server-to-client events.
const (
	EventNewComment     = "new_comment"
	EventCommentUpdated = "comment_updated"
	EventNewPost        = "new_post"
	EventPostUpdated    = "post_updated"
	EventPostDeleted    = "post_deleted"
	EventNewEvent       = "new_event"
	EventEventUpdated   = "event_updated"
	EventRSVPUpdate     = "rsvp_update"
	EventShareUpdate    = "share_update"
	EventUserTyping     = "user_typing"
	EventNotification   = "notification"
)

// Well-known feed topics. Per-entity topics are built with PostTopic and
// EventTopic.
const (
	TopicSocialFeed = "feed:social"
	TopicEventsFeed = "feed:events"
	TopicAnalytics  = "analytics"
)

func PostTopic(postID string) string   { return fmt.Sprintf("post:%s", postID) }
func EventTopic(eventID string) string { return fmt.Sprintf("event:%s", eventID) }

// RoomRequest is the payload for join_room and leave_room.
type RoomRequest struct {
	Topic string `json:"topic"`
}

// TypingSignal is sent by a client while composing in a topic and rebroadcast
// to the topic's other members as user_typing.
type TypingSignal struct {
	Topic    string `json:"topic"`
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// StatusUpdate carries coarse presence.
type StatusUpdate struct {
	Status string `json:"status"` // "online" or "offline"
}

// Comment is the broadcast form of a comment. Replies nest one level per the
// thread UI; VoteCount and the voter id lists are authoritative.
type Comment struct {
	ID           string    `json:"id"`
	PostID       string    `json:"postId"`
	AuthorID     string    `json:"authorId"`
	AuthorName   string    `json:"authorName,omitempty"`
	Content      string    `json:"content"`
	CreatedAt    int64     `json:"createdAt"`
	VoteCount    int       `json:"voteCount"`
	UpvoterIDs   []string  `json:"upvoterIds"`
	DownvoterIDs []string  `json:"downvoterIds"`
	Replies      []Comment `json:"replies,omitempty"`
}

// NewCommentPayload fans out to post:<PostID>. ParentCommentID is empty for a
// top-level comment.
type NewCommentPayload struct {
	PostID          string  `json:"postId"`
	ParentCommentID string  `json:"parentCommentId,omitempty"`
	Comment         Comment `json:"comment"`
}

// VoteUpdatePayload carries the authoritative vote state after a vote
// mutation. Receivers recompute their own relationship to the entity from the
// voter id lists, never from a delta.
type VoteUpdatePayload struct {
	PostID       string   `json:"postId,omitempty"`
	CommentID    string   `json:"commentId,omitempty"`
	VoteCount    int      `json:"voteCount"`
	UpvoterIDs   []string `json:"upvoterIds"`
	DownvoterIDs []string `json:"downvoterIds"`
}

// PostPayload is the full-entity form used by new_post and post_updated.
type PostPayload struct {
	ID           string   `json:"id"`
	AuthorID     string   `json:"authorId"`
	AuthorName   string   `json:"authorName,omitempty"`
	Title        string   `json:"title"`
	Content      string   `json:"content,omitempty"`
	CreatedAt    int64    `json:"createdAt"`
	VoteCount    int      `json:"voteCount"`
	UpvoterIDs   []string `json:"upvoterIds"`
	DownvoterIDs []string `json:"downvoterIds"`
	CommentCount int      `json:"commentCount"`
	ShareCount   int      `json:"shareCount"`
}

// PostDeletedPayload removes a post from feeds.
type PostDeletedPayload struct {
	PostID string `json:"postId"`
}

// RSVPStats are the aggregate counters for an event. The broadcast never
// enumerates attendees; each client's own tri-state comes from the REST
// response to its own RSVP mutation.
type RSVPStats struct {
	Confirmed  int `json:"confirmed"`
	Waitlisted int `json:"waitlisted"`
	SpotsLeft  int `json:"spotsLeft"`
}

// RSVPUpdatePayload fans out to event:<EventID> after an RSVP change.
type RSVPUpdatePayload struct {
	EventID string    `json:"eventId"`
	Stats   RSVPStats `json:"stats"`
}

// EventPayload is the full-entity form used by new_event and event_updated.
type EventPayload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	HostID    string    `json:"hostId"`
	StartsAt  int64     `json:"startsAt"`
	Capacity  int       `json:"capacity"`
	Stats     RSVPStats `json:"stats"`
	CreatedAt int64     `json:"createdAt"`
}

// ShareUpdatePayload carries the authoritative share counter.
type ShareUpdatePayload struct {
	PostID     string `json:"postId"`
	ShareCount int    `json:"shareCount"`
}

// NotificationPayload is delivered directly to one user's connections.
type NotificationPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Encode wraps a payload in an Envelope and marshals it.
func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}
