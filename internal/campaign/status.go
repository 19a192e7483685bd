// Package campaign defines the campaign message domain: the per-recipient
// ledger entry and the delivery status state machine shared by the dispatch
// and reconciliation paths.
package campaign

// Status is the canonical delivery lifecycle state of one recipient message.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusRead       Status = "read"
	// StatusCompleted is reserved for a higher-level summarization job; no
	// provider event maps to it.
	StatusCompleted Status = "completed"
	// StatusFailed is reachable from any state and absorbing: once failed, no
	// later non-failed event changes the status.
	StatusFailed Status = "failed"
)

// statusLevels orders statuses for monotonic progression. Failed sits above
// completed so that comparing levels alone makes it absorbing.
var statusLevels = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusSent:       2,
	StatusDelivered:  3,
	StatusRead:       4,
	StatusCompleted:  5,
	StatusFailed:     6,
}

// Level returns the ordinal of a status, or -1 for an unknown status.
func (s Status) Level() int {
	level, ok := statusLevels[s]
	if !ok {
		return -1
	}
	return level
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusLevels[s]
	return ok
}

// Supersedes reports whether incoming may overwrite current under the
// monotonic progression rule. Equal levels do not supersede, which makes
// exact webhook redelivery a no-op.
func Supersedes(incoming, current Status) bool {
	return incoming.Level() > current.Level()
}
