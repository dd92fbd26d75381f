package reconcile

import (
	"errors"
	"sync"

	"github.com/rohandol112/tcetian-realtime/pkg/protocol"
)

// ErrMutationPending is returned when a second optimistic mutation is begun
// for an entity whose previous mutation has not yet resolved. Optimistic
// application and authoritative reconciliation must stay mutually exclusive
// per logical change, so overlapping mutations on one entity are refused.
var ErrMutationPending = errors.New("a mutation is already pending for this entity")

// SyncState is the reconciliation state of one local entity view.
type SyncState int

const (
	// StateSynced: the local view matches the last known authoritative state.
	StateSynced SyncState = iota
	// StatePending: an optimistic delta is applied, awaiting confirmation.
	StatePending
)

type pendingEntry struct {
	snapshot VoteState
}

// Tracker coordinates optimistic vote mutations with inbound broadcasts for
// a set of entities, keyed by entity id. It is safe for concurrent use: user
// actions arrive from the UI while broadcasts arrive from the session's read
// loop.
type Tracker struct {
	selfID string

	mu      sync.Mutex
	pending map[string]pendingEntry
}

func NewTracker(selfID string) *Tracker {
	return &Tracker{
		selfID:  selfID,
		pending: make(map[string]pendingEntry),
	}
}

// Begin applies action optimistically and records the pre-action snapshot.
// The returned state is rendered immediately; the caller then issues the
// authoritative request and resolves with Confirm or Fail.
func (t *Tracker) Begin(entityID string, current VoteState, action VoteAction) (VoteState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[entityID]; exists {
		return current, ErrMutationPending
	}
	t.pending[entityID] = pendingEntry{snapshot: current}
	return ApplyVote(current, action), nil
}

// Confirm resolves a pending mutation after the authoritative request
// succeeded. The optimistic state stands until a broadcast refines it.
func (t *Tracker) Confirm(entityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, entityID)
}

// Fail resolves a pending mutation after the authoritative request failed,
// returning the pre-action snapshot the caller must render. No
// partially-applied state may remain.
func (t *Tracker) Fail(entityID string) (VoteState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.pending[entityID]
	if !ok {
		return VoteState{}, false
	}
	delete(t.pending, entityID)
	return entry.snapshot, true
}

// State reports the reconciliation state for an entity.
func (t *Tracker) State(entityID string) SyncState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[entityID]; ok {
		return StatePending
	}
	return StateSynced
}

// MergeBroadcast folds an authoritative vote update into a view, choosing
// the merge discipline from the entity's pending state: while this user's
// own mutation is in flight only the aggregate count is taken and the local
// UserVote is preserved; otherwise UserVote is recomputed from the
// authoritative membership lists.
func (t *Tracker) MergeBroadcast(entityID string, current VoteState, upd protocol.VoteUpdatePayload) VoteState {
	t.mu.Lock()
	_, isPending := t.pending[entityID]
	t.mu.Unlock()

	if isPending {
		return MergeVoteBroadcastPreserving(current, upd.VoteCount)
	}
	return MergeVoteBroadcast(current, upd.VoteCount, upd.UpvoterIDs, upd.DownvoterIDs, t.selfID)
}

// SelfID returns the identity this tracker reconciles for.
func (t *Tracker) SelfID() string {
	return t.selfID
}
