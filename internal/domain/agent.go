package domain

import "time"

// AgentStatus is the lifecycle state of an agent as tracked by the registry.
type AgentStatus string

const (
	StatusOffline    AgentStatus = "offline"
	StatusConnecting AgentStatus = "connecting"
	StatusIdle       AgentStatus = "idle"
	StatusWorking    AgentStatus = "working"
)

// Endpoint locates an agent daemon on a remote host.
type Endpoint struct {
	Host    string `json:"host" yaml:"host"`
	WorkDir string `json:"workDir,omitempty" yaml:"workdir,omitempty"`
}

// String returns the canonical host:workdir form.
func (e Endpoint) String() string {
	if e.WorkDir == "" {
		return e.Host
	}
	return e.Host + ":" + e.WorkDir
}

// Task is the unit of work currently assigned to an agent.
// A nil task means the agent is not working; the registry enforces
// that status is "working" exactly when the task is non-nil.
type Task struct {
	ID         string    `json:"id"`
	Payload    string    `json:"payload"`
	AssignedAt time.Time `json:"assignedAt"`
}

// Agent is one remote worker tracked by the control plane.
type Agent struct {
	Name     string      `json:"name"`
	Endpoint Endpoint    `json:"endpoint"`
	Status   AgentStatus `json:"status"`
	Task     *Task       `json:"task,omitempty"`
	LastSeen time.Time   `json:"lastSeen,omitempty"`
}

// Transition is an edge event recorded by the registry on every status
// change. The trigger engine consumes these; they are never replayed.
type Transition struct {
	Agent string      `json:"agent"`
	From  AgentStatus `json:"from"`
	To    AgentStatus `json:"to"`
	At    time.Time   `json:"at"`
}
