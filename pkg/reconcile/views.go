package reconcile

import "github.com/rohandol112/tcetian-realtime/pkg/protocol"

// PostView is the rendered copy of a post. Owned exclusively by the UI
// component displaying it; cross-client synchronization happens only through
// broadcast merges, never shared references.
type PostView struct {
	ID           string
	AuthorID     string
	AuthorName   string
	Title        string
	Content      string
	CreatedAt    int64
	Votes        VoteState
	CommentCount int
	ShareCount   int
	Comments     []CommentView
}

// CommentView is one node of a post's comment tree. Replies nest under their
// parent, never flattened into the top level.
type CommentView struct {
	ID         string
	AuthorID   string
	AuthorName string
	Content    string
	CreatedAt  int64
	Votes      VoteState
	Replies    []CommentView
}

// PostViewFromWire hydrates a view from a full-entity payload, computing this
// user's vote from the authoritative membership lists.
func PostViewFromWire(p protocol.PostPayload, selfID string) PostView {
	return PostView{
		ID:           p.ID,
		AuthorID:     p.AuthorID,
		AuthorName:   p.AuthorName,
		Title:        p.Title,
		Content:      p.Content,
		CreatedAt:    p.CreatedAt,
		Votes:        MergeVoteBroadcast(VoteState{}, p.VoteCount, p.UpvoterIDs, p.DownvoterIDs, selfID),
		CommentCount: p.CommentCount,
		ShareCount:   p.ShareCount,
	}
}

// CommentViewFromWire hydrates a comment node, including nested replies.
func CommentViewFromWire(c protocol.Comment, selfID string) CommentView {
	view := CommentView{
		ID:         c.ID,
		AuthorID:   c.AuthorID,
		AuthorName: c.AuthorName,
		Content:    c.Content,
		CreatedAt:  c.CreatedAt,
		Votes:      MergeVoteBroadcast(VoteState{}, c.VoteCount, c.UpvoterIDs, c.DownvoterIDs, selfID),
	}
	for _, reply := range c.Replies {
		view.Replies = append(view.Replies, CommentViewFromWire(reply, selfID))
	}
	return view
}

// AttachComment inserts a broadcast comment into a thread. With an empty
// parentID the comment is prepended top-level (most-recent-first); otherwise
// the parent is located by id anywhere in the tree and the comment is
// appended to its reply list. Returns the updated thread and whether a place
// for the comment was found; an unknown parent is a no-op so a missed
// broadcast never corrupts the tree.
//
// Duplicate delivery is tolerated: a comment id already present anywhere in
// the thread is not attached twice.
func AttachComment(thread []CommentView, c CommentView, parentID string) ([]CommentView, bool) {
	if findComment(thread, c.ID) != nil {
		return thread, true
	}
	if parentID == "" {
		return append([]CommentView{c}, thread...), true
	}
	parent := findComment(thread, parentID)
	if parent == nil {
		return thread, false
	}
	parent.Replies = append(parent.Replies, c)
	return thread, true
}

// MergeCommentVote applies an authoritative vote update to the comment with
// the given id, wherever it sits in the tree. preserveUserVote is set while
// this user's own vote on that comment is pending. Returns whether the
// comment was found; a miss is a no-op, not an error.
func MergeCommentVote(thread []CommentView, commentID string, upd protocol.VoteUpdatePayload, selfID string, preserveUserVote bool) bool {
	node := findComment(thread, commentID)
	if node == nil {
		return false
	}
	if preserveUserVote {
		node.Votes = MergeVoteBroadcastPreserving(node.Votes, upd.VoteCount)
	} else {
		node.Votes = MergeVoteBroadcast(node.Votes, upd.VoteCount, upd.UpvoterIDs, upd.DownvoterIDs, selfID)
	}
	return true
}

func findComment(thread []CommentView, id string) *CommentView {
	for i := range thread {
		if thread[i].ID == id {
			return &thread[i]
		}
		if found := findComment(thread[i].Replies, id); found != nil {
			return found
		}
	}
	return nil
}

// MergeShareCount overwrites the authoritative share counter.
func MergeShareCount(view PostView, upd protocol.ShareUpdatePayload) PostView {
	view.ShareCount = upd.ShareCount
	return view
}
