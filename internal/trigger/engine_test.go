package trigger

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/fleetd/internal/domain"
	"github.com/soyeahso/fleetd/internal/logging"
)

type recorder struct {
	dispatches []string // "agent payload"
	logs       []string
	fail       bool
}

func (r *recorder) dispatch(agent, payload string) error {
	if r.fail {
		return errors.New("agent not found")
	}
	r.dispatches = append(r.dispatches, agent+" "+payload)
	return nil
}

func (r *recorder) logSink(msg string) {
	r.logs = append(r.logs, msg)
}

func newTestEngine(t *testing.T) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	return New(rec.dispatch, rec.logSink, logging.New(io.Discard, "silent")), rec
}

func idleEdge(agent string, from domain.AgentStatus) domain.Transition {
	return domain.Transition{Agent: agent, From: from, To: domain.StatusIdle, At: time.Now()}
}

func TestAdd_BadInputs(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Add("task_started:alice", "log:x")
	assert.ErrorIs(t, err, ErrBadPattern)

	_, err = e.Add("task_complete:", "log:x")
	assert.ErrorIs(t, err, ErrBadPattern)

	_, err = e.Add("task_complete:alice", "explode:now")
	assert.ErrorIs(t, err, ErrBadAction)

	_, err = e.Add("task_complete:alice", "dispatch:bob")
	assert.ErrorIs(t, err, ErrBadAction)
}

func TestAdd_DuplicatePatternsAllowed(t *testing.T) {
	e, rec := newTestEngine(t)
	_, err := e.Add("task_complete:alice", "log:first")
	require.NoError(t, err)
	_, err = e.Add("task_complete:alice", "log:second")
	require.NoError(t, err)

	res := e.ProcessEvents([]domain.Transition{idleEdge("alice", domain.StatusWorking)})
	assert.Equal(t, 2, res.Fired)
	assert.Equal(t, []string{"first", "second"}, rec.logs)
}

func TestRemove(t *testing.T) {
	e, rec := newTestEngine(t)
	id, err := e.Add("task_complete:alice", "log:gone")
	require.NoError(t, err)

	require.NoError(t, e.Remove(id))
	assert.ErrorIs(t, e.Remove(id), ErrUnknownTrigger)

	res := e.ProcessEvents([]domain.Transition{idleEdge("alice", domain.StatusWorking)})
	assert.Zero(t, res.Fired)
	assert.Empty(t, rec.logs)
}

func TestProcessEvents_FiresOncePerTransition(t *testing.T) {
	e, rec := newTestEngine(t)
	_, err := e.Add("task_complete:agentA", "log:done")
	require.NoError(t, err)

	edges := []domain.Transition{idleEdge("agentA", domain.StatusWorking)}
	res := e.ProcessEvents(edges)
	assert.Equal(t, 1, res.Fired)

	// re-running with no new transitions does not refire
	res = e.ProcessEvents(nil)
	assert.Zero(t, res.Fired)
	assert.Len(t, rec.logs, 1)
}

func TestProcessEvents_TaskCompleteNeedsWorkingEdge(t *testing.T) {
	e, rec := newTestEngine(t)
	_, err := e.Add("task_complete:alice", "log:complete")
	require.NoError(t, err)
	_, err = e.Add("agent_idle:alice", "log:idle")
	require.NoError(t, err)

	// connecting -> idle: the agent came online but finished no task
	res := e.ProcessEvents([]domain.Transition{idleEdge("alice", domain.StatusConnecting)})
	assert.Equal(t, 1, res.Fired)
	assert.Equal(t, []string{"idle"}, rec.logs)
}

func TestProcessEvents_DispatchAction(t *testing.T) {
	e, rec := newTestEngine(t)
	_, err := e.Add("task_complete:agentA", "dispatch:agentB:review T1")
	require.NoError(t, err)

	res := e.ProcessEvents([]domain.Transition{idleEdge("agentA", domain.StatusWorking)})
	assert.Equal(t, 1, res.Fired)
	assert.Empty(t, res.Failures)
	assert.Equal(t, []string{"agentB review T1"}, rec.dispatches)
}

func TestProcessEvents_FailureDoesNotAbortBatch(t *testing.T) {
	rec := &recorder{fail: true}
	e := New(rec.dispatch, rec.logSink, logging.New(io.Discard, "silent"))

	_, err := e.Add("task_complete:alice", "dispatch:ghost:work")
	require.NoError(t, err)
	_, err = e.Add("task_complete:alice", "log:still here")
	require.NoError(t, err)

	res := e.ProcessEvents([]domain.Transition{idleEdge("alice", domain.StatusWorking)})
	assert.Equal(t, 2, res.Fired)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Error, "agent not found")
	assert.Equal(t, []string{"still here"}, rec.logs)
}

func TestProcessEvents_IgnoresNonIdleEdges(t *testing.T) {
	e, rec := newTestEngine(t)
	_, err := e.Add("agent_idle:alice", "log:x")
	require.NoError(t, err)

	res := e.ProcessEvents([]domain.Transition{
		{Agent: "alice", From: domain.StatusIdle, To: domain.StatusWorking, At: time.Now()},
		{Agent: "alice", From: domain.StatusWorking, To: domain.StatusOffline, At: time.Now()},
	})
	assert.Zero(t, res.Fired)
	assert.Empty(t, rec.logs)
}
