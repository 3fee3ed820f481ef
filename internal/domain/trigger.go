package domain

import "time"

// Trigger event patterns and action prefixes. A pattern names a lifecycle
// event of one agent; an action is what fires when the pattern matches.
const (
	EventTaskComplete = "task_complete" // task_complete:<agent>
	EventAgentIdle    = "agent_idle"    // agent_idle:<agent>

	ActionDispatch = "dispatch" // dispatch:<agent>:<payload>
	ActionLog      = "log"      // log:<message>
)

// Trigger maps an agent lifecycle event to a follow-on action.
// Triggers persist until explicitly removed; duplicates are allowed.
type Trigger struct {
	ID      string `json:"id"`
	Pattern string `json:"pattern"`
	Action  string `json:"action"`
}

// Report is the most recent free-text output attributed to an agent.
// Overwritten on each collection, not versioned.
type Report struct {
	Agent       string    `json:"agent"`
	Text        string    `json:"text"`
	CollectedAt time.Time `json:"collectedAt"`
}
