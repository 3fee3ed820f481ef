// Package queue holds deferred task dispatches until agents go idle.
package queue

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/fleetd/internal/domain"
	"github.com/soyeahso/fleetd/internal/logging"
)

// Queue is a per-agent priority queue. Entries order by tier (urgent >
// high > normal) and FIFO within a tier. Pops are per-agent, so one
// agent's backlog never blocks dispatch to another.
type Queue struct {
	mu     sync.Mutex
	agents map[string]*entryHeap
	seq    uint64
	log    *logging.Logger
}

// New creates an empty queue.
func New(log *logging.Logger) *Queue {
	return &Queue{
		agents: make(map[string]*entryHeap),
		log:    log.Sub("queue"),
	}
}

// Enqueue inserts an entry, stamping the enqueue time if unset.
func (q *Queue) Enqueue(e domain.QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	h, ok := q.agents[e.Agent]
	if !ok {
		h = &entryHeap{}
		q.agents[e.Agent] = h
	}
	q.seq++
	heap.Push(h, item{entry: e, seq: q.seq})
	q.log.Debug().Str("agent", e.Agent).Str("priority", e.Priority.String()).Msg("entry queued")
}

// PopFor removes and returns the highest-priority entry for one agent.
func (q *Queue) PopFor(agent string) (domain.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.agents[agent]
	if !ok || h.Len() == 0 {
		return domain.QueueEntry{}, false
	}
	it := heap.Pop(h).(item)
	if h.Len() == 0 {
		delete(q.agents, agent)
	}
	return it.entry, true
}

// DropAgent removes all entries targeting the named agent, returning the
// count. Used when an agent is deregistered; orphans must not retry forever.
func (q *Queue) DropAgent(agent string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.agents[agent]
	if !ok {
		return 0
	}
	n := h.Len()
	delete(q.agents, agent)
	if n > 0 {
		q.log.Warn().Str("agent", agent).Int("dropped", n).Msg("dropped orphaned queue entries")
	}
	return n
}

// List returns a snapshot of all pending entries in drain order per agent,
// agents sorted by name.
func (q *Queue) List() []domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	names := make([]string, 0, len(q.agents))
	for name := range q.agents {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []domain.QueueEntry
	for _, name := range names {
		items := append([]item(nil), *q.agents[name]...)
		sort.Slice(items, func(i, j int) bool { return items[i].less(items[j]) })
		for _, it := range items {
			out = append(out, it.entry)
		}
	}
	return out
}

// Len returns the total number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, h := range q.agents {
		n += h.Len()
	}
	return n
}

// item wraps an entry with an insertion sequence as a final tiebreak.
type item struct {
	entry domain.QueueEntry
	seq   uint64
}

// Ordering within a tier follows the original enqueue time, so a
// re-enqueued entry keeps its place ahead of entries queued after it.
func (a item) less(b item) bool {
	if a.entry.Priority != b.entry.Priority {
		return a.entry.Priority > b.entry.Priority
	}
	if !a.entry.EnqueuedAt.Equal(b.entry.EnqueuedAt) {
		return a.entry.EnqueuedAt.Before(b.entry.EnqueuedAt)
	}
	return a.seq < b.seq
}

type entryHeap []item

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].less(h[j]) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)         { *h = append(*h, x.(item)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
