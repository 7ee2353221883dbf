package thread

import (
	"time"

	"chat-sync/internal/models"
)

// DefaultTolerance bounds the clock skew accepted between a provisional
// message and the stored copy that confirms it.
const DefaultTolerance = 5 * time.Second

// Matcher finds the entry in a thread that incoming refers to.
// It returns -1 when incoming is a new message.
type Matcher interface {
	Match(entries []models.Message, incoming models.Message) int
}

// IdentityMatcher matches by id, then by the provisional id a stored copy
// carries back, then heuristically against unconfirmed local entries.
type IdentityMatcher struct {
	Tolerance time.Duration
}

// NewIdentityMatcher returns a matcher using tolerance for heuristic matches.
// A non-positive tolerance disables the heuristic.
func NewIdentityMatcher(tolerance time.Duration) IdentityMatcher {
	return IdentityMatcher{Tolerance: tolerance}
}

func (m IdentityMatcher) Match(entries []models.Message, incoming models.Message) int {
	for i := range entries {
		if entries[i].ID == incoming.ID {
			return i
		}
	}
	if incoming.ClientID != "" {
		for i := range entries {
			if entries[i].ID == incoming.ClientID {
				return i
			}
		}
	}
	if incoming.Provisional() || m.Tolerance <= 0 {
		return -1
	}
	return m.heuristic(entries, incoming)
}

// heuristic picks the unconfirmed entry with the same participants and body
// whose timestamp is closest to incoming, within the tolerance.
func (m IdentityMatcher) heuristic(entries []models.Message, incoming models.Message) int {
	best := -1
	var bestDelta time.Duration
	for i, e := range entries {
		if !e.Provisional() {
			continue
		}
		if e.SenderID != incoming.SenderID || e.ReceiverID != incoming.ReceiverID || e.Body != incoming.Body {
			continue
		}
		delta := absDuration(e.CreatedAt.Sub(incoming.CreatedAt))
		if delta > m.Tolerance {
			continue
		}
		if best == -1 || delta < bestDelta {
			best, bestDelta = i, delta
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
