// Package registry is the authoritative in-memory table of agents.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/fleetd/internal/domain"
	"github.com/soyeahso/fleetd/internal/logging"
)

var (
	// ErrUnknownAgent indicates the named agent does not exist.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrDuplicateAgent indicates an agent with the same name already exists.
	ErrDuplicateAgent = errors.New("agent already registered")

	// ErrInvalidTransition indicates a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// legalTransitions is the agent lifecycle. Status changes are the only
// mutation path; anything not listed here is rejected.
var legalTransitions = map[domain.AgentStatus][]domain.AgentStatus{
	domain.StatusOffline:    {domain.StatusConnecting},
	domain.StatusConnecting: {domain.StatusIdle, domain.StatusOffline},
	domain.StatusIdle:       {domain.StatusWorking, domain.StatusOffline},
	// working -> working supports URGENT task replacement (last write wins).
	domain.StatusWorking: {domain.StatusIdle, domain.StatusWorking, domain.StatusOffline},
}

// Registry is the single source of truth for agent existence and status.
// All mutations pass through one mutex; reads return copies so callers
// never observe partial updates.
type Registry struct {
	mu          sync.Mutex
	agents      map[string]*domain.Agent
	transitions []domain.Transition
	log         *logging.Logger
}

// New creates an empty registry.
func New(log *logging.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*domain.Agent),
		log:    log.Sub("registry"),
	}
}

// Register adds a new agent in the offline state.
func (r *Registry) Register(name string, endpoint domain.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, name)
	}

	r.agents[name] = &domain.Agent{
		Name:     name,
		Endpoint: endpoint,
		Status:   domain.StatusOffline,
	}
	r.log.Info().Str("agent", name).Str("endpoint", endpoint.String()).Msg("agent registered")
	return nil
}

// Deregister removes an agent. Queue entries targeting it are the queue's
// problem; callers drop them separately.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[name]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	delete(r.agents, name)
	r.log.Info().Str("agent", name).Msg("agent deregistered")
	return nil
}

// SetStatus applies a status transition, carrying the new current task for
// transitions into working. It enforces that status is working exactly
// when the task is non-nil, and records the transition for the trigger
// engine when the status actually changes.
func (r *Registry) SetStatus(name string, status domain.AgentStatus, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, exists := r.agents[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}

	if (status == domain.StatusWorking) != (task != nil) {
		return fmt.Errorf("%w: %s with task=%v", ErrInvalidTransition, status, task != nil)
	}

	if !transitionAllowed(agent.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, agent.Status, status)
	}

	from := agent.Status
	agent.Status = status
	agent.Task = cloneTask(task)
	agent.LastSeen = time.Now()

	if from != status {
		r.transitions = append(r.transitions, domain.Transition{
			Agent: name,
			From:  from,
			To:    status,
			At:    agent.LastSeen,
		})
	}

	r.log.Debug().Str("agent", name).
		Str("from", string(from)).Str("to", string(status)).
		Msg("status transition")
	return nil
}

// CompleteTask clears the agent's current task and moves it to idle, but
// only if taskID still matches the current task. A stale completion (the
// task was superseded by URGENT) is discarded and reported as false.
func (r *Registry) CompleteTask(name, taskID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, exists := r.agents[name]
	if !exists {
		return false, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	if agent.Status != domain.StatusWorking || agent.Task == nil {
		return false, nil
	}
	if agent.Task.ID != taskID {
		r.log.Debug().Str("agent", name).Str("task", taskID).
			Msg("discarding completion for superseded task")
		return false, nil
	}

	from := agent.Status
	agent.Status = domain.StatusIdle
	agent.Task = nil
	agent.LastSeen = time.Now()
	r.transitions = append(r.transitions, domain.Transition{
		Agent: name,
		From:  from,
		To:    domain.StatusIdle,
		At:    agent.LastSeen,
	})
	return true, nil
}

// Get returns a copy of one agent.
func (r *Registry) Get(name string) (domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, exists := r.agents[name]
	if !exists {
		return domain.Agent{}, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return cloneAgent(agent), nil
}

// List returns a consistent snapshot of all agents, sorted by name.
func (r *Registry) List() []domain.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, cloneAgent(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Exists reports whether an agent with the given name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[name]
	return ok
}

// TakeTransitions drains and returns the transition journal. Each edge is
// observed at most once across all calls.
func (r *Registry) TakeTransitions() []domain.Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.transitions
	r.transitions = nil
	return out
}

func transitionAllowed(from, to domain.AgentStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func cloneTask(t *domain.Task) *domain.Task {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneAgent(a *domain.Agent) domain.Agent {
	c := *a
	c.Task = cloneTask(a.Task)
	return c
}
