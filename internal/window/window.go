// Package window implements the 24-hour customer-service messaging window.
// Free-form messages are only permitted while the window granted by the
// customer's most recent inbound message is open; outside of it only
// pre-approved templates may be sent.
package window

import "time"

// Grant is the fixed service-window duration granted by an inbound message.
const Grant = 24 * time.Hour

// State is the result of a single window evaluation. It decays continuously,
// so it must never be trusted across more than one decision; re-evaluate
// before every send and before rendering the indicator.
type State struct {
	Open      bool
	Remaining time.Duration
}

// Evaluate computes the window state for the given expiry at the given
// instant. A nil expiry (no inbound message yet, or an unparsable stored
// value) means the window is closed.
func Evaluate(expiry *time.Time, now time.Time) State {
	if expiry == nil || expiry.IsZero() {
		return State{}
	}
	if !now.Before(*expiry) {
		return State{}
	}
	return State{Open: true, Remaining: expiry.Sub(now)}
}

// ExpiryAfter returns the window expiry granted by an inbound message
// received at the given instant.
func ExpiryAfter(inbound time.Time) time.Time {
	return inbound.Add(Grant)
}
