// Package report keeps the latest free-text output attributed to each agent.
package report

import (
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/fleetd/internal/domain"
)

// Collector holds the most recent report per agent. Each new report
// overwrites the previous one; nothing is versioned here — durable
// standup history lives in the store.
type Collector struct {
	mu     sync.Mutex
	latest map[string]domain.Report
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{latest: make(map[string]domain.Report)}
}

// Set records the latest output for an agent.
func (c *Collector) Set(agent, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[agent] = domain.Report{Agent: agent, Text: text, CollectedAt: time.Now()}
}

// Get returns the latest report for one agent.
func (c *Collector) Get(agent string) (domain.Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.latest[agent]
	return r, ok
}

// All returns every agent's latest report, sorted by agent name.
func (c *Collector) All() []domain.Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.Report, 0, len(c.latest))
	for _, r := range c.latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}

// Drop forgets an agent's report, used on deregistration.
func (c *Collector) Drop(agent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.latest, agent)
}
