package domain

import "time"

// Priority orders queued work. Higher sorts first; within a tier,
// entries drain FIFO by enqueue time.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityUrgent
)

// String returns the wire name for a priority tier.
func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// QueueEntry is a deferred dispatch waiting for its target agent to go idle.
type QueueEntry struct {
	Priority   Priority  `json:"priority"`
	Agent      string    `json:"agent"`
	Payload    string    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}
