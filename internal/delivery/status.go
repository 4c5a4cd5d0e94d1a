// Package delivery models the per-message delivery-status lifecycle.
// Transitions are driven by asynchronous provider receipts, not by the
// sending process, so duplicates and reordering are normal and resolved by
// rank rather than by arrival order.
package delivery

import "slices"

// Status is a message delivery status.
type Status string

const (
	// Received marks an inbound message; it never transitions.
	Received Status = "received"

	Queued    Status = "queued"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
	Failed    Status = "failed"
)

// rank orders forward progress: read > delivered > sent > queued. Failed and
// Received sit outside the ordering and are handled explicitly.
var rank = map[Status]int{
	Queued:    0,
	Sent:      1,
	Delivered: 2,
	Read:      3,
}

// validNext defines allowed forward transitions.
var validNext = map[Status][]Status{
	Queued:    {Sent, Delivered, Read, Failed},
	Sent:      {Delivered, Read, Failed},
	Delivered: {Read, Failed},
	Read:      {},
	Failed:    {},
}

// Outcome describes what Advance decided about an incoming status.
type Outcome int

const (
	// Applied means the incoming status moved the message forward.
	Applied Outcome = iota
	// Discarded means the incoming status was a duplicate or ranked at or
	// below the current status; the message is unchanged.
	Discarded
	// Correction means the provider reported a transition that is invalid
	// (backward from a terminal or higher state). The message is unchanged;
	// callers log these rather than silently applying them.
	Correction
)

// Known reports whether s is a status this machine understands.
func Known(s Status) bool {
	_, ok := rank[s]
	return ok || s == Failed || s == Received
}

// Terminal reports whether no further transitions are valid from s.
func Terminal(s Status) bool {
	return s == Failed || s == Read
}

// Advance resolves a provider-reported status against the current one and
// returns the status the message should carry. Duplicate or out-of-order
// receipts are discarded; invalid backward transitions are flagged as
// corrections so callers can log them.
func Advance(current, incoming Status) (Status, Outcome) {
	if incoming == current {
		return current, Discarded
	}
	if slices.Contains(validNext[current], incoming) {
		return incoming, Applied
	}
	// Lower-ranked receipt arriving late: plain out-of-order delivery.
	ri, okIn := rank[incoming]
	rc, okCur := rank[current]
	if okIn && okCur && ri < rc {
		return current, Discarded
	}
	// Anything else (failed→sent, read→delivered, receipts for inbound
	// messages) is a provider correction.
	return current, Correction
}
