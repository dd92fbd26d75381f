// Package reconcile contains the client-side merge logic that keeps local
// entity views consistent under optimistic mutations and authoritative
// broadcasts. All state transitions are pure functions over value types so
// they can be tested in isolation from any UI; the Tracker adds the
// per-entity pending bookkeeping around them.
package reconcile

import "slices"

// UserVote is this user's own relationship to a votable entity.
type UserVote int

const (
	VoteNone UserVote = iota
	VoteUp
	VoteDown
)

func (v UserVote) String() string {
	switch v {
	case VoteUp:
		return "up"
	case VoteDown:
		return "down"
	}
	return "none"
}

// VoteAction is a user interaction with the vote controls.
type VoteAction int

const (
	ActionUpvote VoteAction = iota
	ActionDownvote
	ActionRemove
)

// VoteState is the votable core of a local entity view: the aggregate count
// as last known, and this user's own vote. The two are orthogonal axes and
// are merged independently.
type VoteState struct {
	Count    int
	UserVote UserVote
}

// ApplyVote computes the optimistic next state for a vote interaction. It is
// applied before the authoritative request completes so the UI never blocks
// on network latency.
//
// Re-clicking the current direction removes the vote; switching direction
// swings the count by two (one to undo, one to apply).
func ApplyVote(s VoteState, action VoteAction) VoteState {
	switch action {
	case ActionUpvote:
		switch s.UserVote {
		case VoteNone:
			return VoteState{Count: s.Count + 1, UserVote: VoteUp}
		case VoteUp: // re-click removes
			return VoteState{Count: s.Count - 1, UserVote: VoteNone}
		case VoteDown:
			return VoteState{Count: s.Count + 2, UserVote: VoteUp}
		}
	case ActionDownvote:
		switch s.UserVote {
		case VoteNone:
			return VoteState{Count: s.Count - 1, UserVote: VoteDown}
		case VoteDown: // re-click removes
			return VoteState{Count: s.Count + 1, UserVote: VoteNone}
		case VoteUp:
			return VoteState{Count: s.Count - 2, UserVote: VoteDown}
		}
	case ActionRemove:
		switch s.UserVote {
		case VoteUp:
			return VoteState{Count: s.Count - 1, UserVote: VoteNone}
		case VoteDown:
			return VoteState{Count: s.Count + 1, UserVote: VoteNone}
		case VoteNone: // nothing to remove
			return s
		}
	}
	return s
}

// MergeVoteBroadcast folds an authoritative vote update into a view. The
// aggregate count is always taken from the broadcast; UserVote is recomputed
// from the authoritative voter id lists rather than overwritten, so a stale
// broadcast arriving after a newer local change cannot double-apply or stomp
// this user's vote.
func MergeVoteBroadcast(s VoteState, count int, upvoterIDs, downvoterIDs []string, selfID string) VoteState {
	return VoteState{
		Count:    count,
		UserVote: voteFromMembership(upvoterIDs, downvoterIDs, selfID),
	}
}

// MergeVoteBroadcastPreserving folds in the authoritative count while this
// user's own mutation is still pending: the broadcast reflects another user's
// concurrent action, and the local UserVote must survive until the pending
// mutation resolves.
func MergeVoteBroadcastPreserving(s VoteState, count int) VoteState {
	return VoteState{Count: count, UserVote: s.UserVote}
}

func voteFromMembership(upvoterIDs, downvoterIDs []string, selfID string) UserVote {
	if selfID == "" {
		return VoteNone
	}
	if slices.Contains(upvoterIDs, selfID) {
		return VoteUp
	}
	if slices.Contains(downvoterIDs, selfID) {
		return VoteDown
	}
	return VoteNone
}
