package registry

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/fleetd/internal/domain"
	"github.com/soyeahso/fleetd/internal/logging"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(logging.New(io.Discard, "silent"))
}

func task(id, payload string) *domain.Task {
	return &domain.Task{ID: id, Payload: payload, AssignedAt: time.Now()}
}

// bringIdle walks a fresh agent through offline -> connecting -> idle.
func bringIdle(t *testing.T, r *Registry, name string) {
	t.Helper()
	require.NoError(t, r.SetStatus(name, domain.StatusConnecting, nil))
	require.NoError(t, r.SetStatus(name, domain.StatusIdle, nil))
}

func TestRegister(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("alice", domain.Endpoint{Host: "10.0.0.1", WorkDir: "/srv/agent"}))

	a, err := r.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, a.Status)
	assert.Nil(t, a.Task)
}

func TestRegister_Duplicate(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("alice", domain.Endpoint{Host: "10.0.0.1"}))

	err := r.Register("alice", domain.Endpoint{Host: "10.0.0.2"})
	assert.ErrorIs(t, err, ErrDuplicateAgent)
}

func TestDeregister_Unknown(t *testing.T) {
	r := newTestRegistry(t)
	assert.ErrorIs(t, r.Deregister("ghost"), ErrUnknownAgent)
}

func TestSetStatus_WorkingRequiresTask(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("alice", domain.Endpoint{Host: "h"}))
	bringIdle(t, r, "alice")

	// working without a task violates the invariant
	err := r.SetStatus("alice", domain.StatusWorking, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// idle with a task violates it too
	err = r.SetStatus("alice", domain.StatusIdle, task("t1", "x"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetStatus_InvariantHeldAfterEveryMutation(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("alice", domain.Endpoint{Host: "h"}))

	steps := []struct {
		status domain.AgentStatus
		task   *domain.Task
	}{
		{domain.StatusConnecting, nil},
		{domain.StatusIdle, nil},
		{domain.StatusWorking, task("t1", "build")},
		{domain.StatusIdle, nil},
		{domain.StatusOffline, nil},
	}
	for _, s := range steps {
		require.NoError(t, r.SetStatus("alice", s.status, s.task))
		a, err := r.Get("alice")
		require.NoError(t, err)
		assert.Equal(t, a.Status == domain.StatusWorking, a.Task != nil,
			"status %s must imply task presence", a.Status)
	}
}

func TestSetStatus_OfflineToWorkingRejected(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("alice", domain.Endpoint{Host: "h"}))

	err := r.SetStatus("alice", domain.StatusWorking, task("t1", "x"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetStatus_WorkingToWorkingReplacesTask(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("alice", domain.Endpoint{Host: "h"}))
	bringIdle(t, r, "alice")
	require.NoError(t, r.SetStatus("alice", domain.StatusWorking, task("t1", "P1")))

	// URGENT path: replace the current task in place
	require.NoError(t, r.SetStatus("alice", domain.StatusWorking, task("t2", "P2")))

	a, err := r.Get("alice")
	require.NoError(t, err)
	require.NotNil(t, a.Task)
	assert.Equal(t, "P2", a.Task.Payload)
}

func TestCompleteTask_StaleCompletionDiscarded(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("alice", domain.Endpoint{Host: "h"}))
	bringIdle(t, r, "alice")
	require.NoError(t, r.SetStatus("alice", domain.StatusWorking, task("t1", "P1")))
	require.NoError(t, r.SetStatus("alice", domain.StatusWorking, task("t2", "P2")))

	// the superseded task finishes late; its outcome is discarded
	done, err := r.CompleteTask("alice", "t1")
	require.NoError(t, err)
	assert.False(t, done)

	a, err := r.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWorking, a.Status)
	assert.Equal(t, "t2", a.Task.ID)

	done, err = r.CompleteTask("alice", "t2")
	require.NoError(t, err)
	assert.True(t, done)

	a, err = r.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIdle, a.Status)
	assert.Nil(t, a.Task)
}

func TestTakeTransitions_DrainsJournal(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("alice", domain.Endpoint{Host: "h"}))
	bringIdle(t, r, "alice")

	edges := r.TakeTransitions()
	require.Len(t, edges, 2)
	assert.Equal(t, domain.StatusConnecting, edges[0].To)
	assert.Equal(t, domain.StatusIdle, edges[1].To)

	// second drain sees nothing new
	assert.Empty(t, r.TakeTransitions())
}

func TestTakeTransitions_NoEdgeForSameStatus(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("alice", domain.Endpoint{Host: "h"}))
	bringIdle(t, r, "alice")
	require.NoError(t, r.SetStatus("alice", domain.StatusWorking, task("t1", "P1")))
	r.TakeTransitions()

	// working -> working is a task replacement, not a lifecycle edge
	require.NoError(t, r.SetStatus("alice", domain.StatusWorking, task("t2", "P2")))
	assert.Empty(t, r.TakeTransitions())
}

func TestList_SortedSnapshot(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("charlie", domain.Endpoint{Host: "h3"}))
	require.NoError(t, r.Register("alice", domain.Endpoint{Host: "h1"}))
	require.NoError(t, r.Register("bob", domain.Endpoint{Host: "h2"}))

	agents := r.List()
	require.Len(t, agents, 3)
	assert.Equal(t, "alice", agents[0].Name)
	assert.Equal(t, "bob", agents[1].Name)
	assert.Equal(t, "charlie", agents[2].Name)
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("alice", domain.Endpoint{Host: "h"}))
	bringIdle(t, r, "alice")
	require.NoError(t, r.SetStatus("alice", domain.StatusWorking, task("t1", "P1")))

	a, err := r.Get("alice")
	require.NoError(t, err)
	a.Task.Payload = "mutated"

	fresh, err := r.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "P1", fresh.Task.Payload)
}
