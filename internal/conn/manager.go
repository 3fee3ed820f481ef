// Package conn maintains one persistent WebSocket channel per agent
// daemon, reconnecting forever with capped exponential backoff.
package conn

import (
	"sync"
	"time"

	"github.com/soyeahso/fleetd/internal/domain"
	"github.com/soyeahso/fleetd/internal/logging"
	"github.com/soyeahso/fleetd/internal/registry"
	"github.com/soyeahso/fleetd/internal/report"
)

// Reconnect defaults: start small, cap at a minute, never give up.
const (
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 60 * time.Second
)

// Manager owns all agent connections. The registry holds only status;
// sockets never leave this package.
type Manager struct {
	mu    sync.Mutex
	conns map[string]*Conn

	reg     *registry.Registry
	reports *report.Collector
	base    time.Duration
	max     time.Duration
	log     *logging.Logger
}

// NewManager creates a connection manager. Zero base/max durations fall
// back to the defaults.
func NewManager(reg *registry.Registry, reports *report.Collector, base, max time.Duration, log *logging.Logger) *Manager {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	return &Manager{
		conns:   make(map[string]*Conn),
		reg:     reg,
		reports: reports,
		base:    base,
		max:     max,
		log:     log.Sub("conn"),
	}
}

// Connect starts (or restarts) the connection loop for an agent. At most
// one live connection exists per agent name.
func (m *Manager) Connect(agent string, ep domain.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.conns[agent]; ok {
		old.Stop()
	}
	c := newConn(agent, ep, m.reg, m.reports, Backoff{Base: m.base, Max: m.max}, m.log)
	m.conns[agent] = c
	go c.run()
}

// Forget stops and removes an agent's connection, for deregistration.
func (m *Manager) Forget(agent string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conns[agent]; ok {
		c.Stop()
		delete(m.conns, agent)
	}
}

// Send delivers a task frame over the agent's channel, or fails
// immediately with ErrAgentUnreachable.
func (m *Manager) Send(agent, taskID, payload string, urgent bool) error {
	c, ok := m.get(agent)
	if !ok {
		return ErrAgentUnreachable
	}
	return c.Send(Frame{Type: FrameTypeTask, TaskID: taskID, Payload: payload, Urgent: urgent})
}

// Collect asks every connected agent for its latest output. Replies
// arrive asynchronously into the report collector; the return value is
// the number of agents asked.
func (m *Manager) Collect() int {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	asked := 0
	for _, c := range conns {
		if err := c.Send(Frame{Type: FrameTypeCollect}); err == nil {
			asked++
		}
	}
	return asked
}

// RestartHost bounces every connection on the given host. The per-agent
// loops reconnect on their own; this surfaces only as status churn.
func (m *Manager) RestartHost(host string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	bounced := 0
	for _, c := range m.conns {
		if c.endpoint.Host == host {
			c.Bounce()
			bounced++
		}
	}
	if bounced > 0 {
		m.log.Info().Str("host", host).Int("agents", bounced).Msg("daemon restart requested")
	}
	return bounced
}

// State returns the connection state for one agent.
func (m *Manager) State(agent string) (State, bool) {
	c, ok := m.get(agent)
	if !ok {
		return StateDisconnected, false
	}
	return c.State(), true
}

// Stop tears down every connection.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for agent, c := range m.conns {
		c.Stop()
		delete(m.conns, agent)
	}
}

func (m *Manager) get(agent string) (*Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[agent]
	return c, ok
}
