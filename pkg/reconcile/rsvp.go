package reconcile

import "github.com/rohandol112/tcetian-realtime/pkg/protocol"

// RSVPStatus is this user's tri-state relationship to an event. It is not a
// tally: broadcasts never enumerate attendees, so the per-user value comes
// only from the server-computed field on this user's own RSVP responses.
type RSVPStatus int

const (
	RSVPNone RSVPStatus = iota
	RSVPConfirmed
	RSVPWaitlisted
)

func (s RSVPStatus) String() string {
	switch s {
	case RSVPConfirmed:
		return "confirmed"
	case RSVPWaitlisted:
		return "waitlist"
	}
	return "none"
}

// ParseRSVPStatus maps the server-computed per-user field. Unknown values
// map to none rather than erroring: a malformed field must not wedge a view.
func ParseRSVPStatus(s string) RSVPStatus {
	switch s {
	case "confirmed":
		return RSVPConfirmed
	case "waitlist", "waitlisted":
		return RSVPWaitlisted
	}
	return RSVPNone
}

// EventView is the rendered copy of an event's RSVP state.
type EventView struct {
	ID         string
	Title      string
	HostID     string
	StartsAt   int64
	Capacity   int
	Stats      protocol.RSVPStats
	UserStatus RSVPStatus
}

// EventViewFromWire hydrates an event view. The per-user status is not
// derivable from the payload and starts at none; callers set it from their
// own RSVP responses via ApplyRSVPResult.
func EventViewFromWire(e protocol.EventPayload) EventView {
	return EventView{
		ID:       e.ID,
		Title:    e.Title,
		HostID:   e.HostID,
		StartsAt: e.StartsAt,
		Capacity: e.Capacity,
		Stats:    e.Stats,
	}
}

// MergeRSVPStats folds an authoritative rsvp_update into the view: the
// aggregate counters are overwritten, this user's own status is preserved.
// The two are orthogonal, exactly as with votes.
func MergeRSVPStats(view EventView, stats protocol.RSVPStats) EventView {
	view.Stats = stats
	return view
}

// ApplyRSVPResult applies the response to this user's own RSVP mutation,
// trusting the server-computed per-user status field explicitly rather than
// inferring it from aggregate counts.
func ApplyRSVPResult(view EventView, userStatus string, stats protocol.RSVPStats) EventView {
	view.UserStatus = ParseRSVPStatus(userStatus)
	view.Stats = stats
	return view
}
