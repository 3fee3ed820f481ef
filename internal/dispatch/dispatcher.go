// Package dispatch turns textual control commands into registry, queue,
// and connection operations.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/fleetd/internal/conn"
	"github.com/soyeahso/fleetd/internal/domain"
	"github.com/soyeahso/fleetd/internal/logging"
	"github.com/soyeahso/fleetd/internal/queue"
	"github.com/soyeahso/fleetd/internal/registry"
	"github.com/soyeahso/fleetd/internal/report"
	"github.com/soyeahso/fleetd/internal/store"
	"github.com/soyeahso/fleetd/internal/trigger"
)

// ErrNoProvisioner indicates SSH_PROVISION without a configured provisioner.
var ErrNoProvisioner = errors.New("no provisioner configured")

// Sender is the connection-manager surface the dispatcher needs.
// Satisfied by *conn.Manager.
type Sender interface {
	Connect(agent string, ep domain.Endpoint)
	Forget(agent string)
	Send(agent, taskID, payload string, urgent bool) error
	Collect() int
	RestartHost(host string) int
}

// Provisioner installs and starts an agent daemon on a remote endpoint.
// The long-running install is owned by the collaborator; the core only
// waits for connect-or-timeout afterwards.
type Provisioner interface {
	Provision(ctx context.Context, ep domain.Endpoint, agent string) error
}

// Config holds dispatcher settings.
type Config struct {
	Credential    string        // single bearer credential for LOGIN
	ProvisionWait time.Duration // how long SSH_PROVISION waits for first connect
}

// Result is the structured outcome of one command.
type Result struct {
	OK        bool                 `json:"ok"`
	Message   string               `json:"message,omitempty"`
	SessionID string               `json:"sessionId,omitempty"`
	Agents    []domain.Agent       `json:"agents,omitempty"`
	Queue     []domain.QueueEntry  `json:"queue,omitempty"`
	Triggers  []domain.Trigger     `json:"triggers,omitempty"`
	TriggerID string               `json:"triggerId,omitempty"`
	Reports   []domain.Report      `json:"reports,omitempty"`
	Standups  []store.StandupRound `json:"standups,omitempty"`
	Events    *trigger.Result      `json:"events,omitempty"`
	Count     int                  `json:"count,omitempty"`
}

// Dispatcher executes parsed commands. All mutations run under one mutex
// so concurrent callers never interleave partial updates; the connection
// loops mutate the registry through its own lock.
type Dispatcher struct {
	mu sync.Mutex

	reg      *registry.Registry
	queue    *queue.Queue
	conns    Sender
	reports  *report.Collector
	standups *store.StandupStore // nil when no database is configured
	prov     Provisioner         // nil when provisioning is disabled
	triggers *trigger.Engine
	sessions *sessionTable

	cred          string
	provisionWait time.Duration
	log           *logging.Logger
}

// New creates a dispatcher and its trigger engine.
func New(
	reg *registry.Registry,
	q *queue.Queue,
	conns Sender,
	reports *report.Collector,
	standups *store.StandupStore,
	prov Provisioner,
	cfg Config,
	log *logging.Logger,
) *Dispatcher {
	d := &Dispatcher{
		reg:           reg,
		queue:         q,
		conns:         conns,
		reports:       reports,
		standups:      standups,
		prov:          prov,
		sessions:      newSessionTable(),
		cred:          cfg.Credential,
		provisionWait: cfg.ProvisionWait,
		log:           log.Sub("dispatch"),
	}
	if d.provisionWait <= 0 {
		d.provisionWait = 30 * time.Second
	}
	d.triggers = trigger.New(d.dispatchTo, d.auditLog, log)
	return d
}

// Execute parses and runs one command line for the given session.
// LOGIN is the only verb allowed without a session.
func (d *Dispatcher) Execute(ctx context.Context, sessionID, line string) (Result, error) {
	cmd, err := Parse(line)
	if err != nil {
		return Result{}, err
	}

	// LOGIN only touches the session table, which has its own lock.
	if cmd.Verb == domain.VerbLogin {
		return d.login(cmd.Payload)
	}

	sess, ok := d.sessions.get(sessionID)
	if !ok {
		return Result{}, ErrNoSession
	}

	// Provisioning waits on a remote host for seconds to minutes; it must
	// not stall the command plane. It manages its own locking around the
	// register-and-connect step.
	if cmd.Verb == domain.VerbSSHProvision {
		return d.provision(ctx, cmd)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.run(ctx, sess, cmd)
}

func (d *Dispatcher) login(credential string) (Result, error) {
	if d.cred == "" || !safeEqual(credential, d.cred) {
		return Result{}, ErrBadCredential
	}
	sess := d.sessions.create()
	d.log.Info().Str("session", sess.ID).Msg("session established")
	return Result{OK: true, SessionID: sess.ID, Message: "session established"}, nil
}

func (d *Dispatcher) run(ctx context.Context, sess *Session, cmd domain.Command) (Result, error) {
	switch cmd.Verb {
	case domain.VerbListAgents, domain.VerbGetAllStatus:
		return Result{OK: true, Agents: d.reg.List()}, nil

	case domain.VerbSelectAgent:
		if !d.reg.Exists(cmd.Agent) {
			return Result{}, fmt.Errorf("%w: %s", registry.ErrUnknownAgent, cmd.Agent)
		}
		d.sessions.selectAgent(sess.ID, cmd.Agent)
		return Result{OK: true, Message: "selected " + cmd.Agent}, nil

	case domain.VerbDeleteAgent:
		return d.deleteAgent(sess, cmd)

	case domain.VerbBroadcast:
		return d.broadcast(cmd.Payload)

	case domain.VerbDispatch:
		name, err := d.resolveAgent(sess, cmd.Agent)
		if err != nil {
			return Result{}, err
		}
		if err := d.dispatchTo(name, cmd.Payload); err != nil {
			return Result{}, err
		}
		return Result{OK: true, Message: "dispatched to " + name}, nil

	case domain.VerbUrgent:
		return d.urgent(sess, cmd)

	case domain.VerbQueue:
		name, err := d.resolveAgent(sess, cmd.Agent)
		if err != nil {
			return Result{}, err
		}
		d.queue.Enqueue(domain.QueueEntry{
			Priority: domain.PriorityHigh,
			Agent:    name,
			Payload:  cmd.Payload,
		})
		return Result{OK: true, Message: "queued for " + name}, nil

	case domain.VerbListQueue:
		return Result{OK: true, Queue: d.queue.List()}, nil

	case domain.VerbProcessQueue:
		return d.processQueue()

	case domain.VerbAddTrigger:
		id, err := d.triggers.Add(cmd.Pattern, cmd.Action)
		if err != nil {
			return Result{}, err
		}
		return Result{OK: true, TriggerID: id}, nil

	case domain.VerbListTriggers:
		return Result{OK: true, Triggers: d.triggers.List()}, nil

	case domain.VerbRemoveTrigger:
		if err := d.triggers.Remove(cmd.TriggerID); err != nil {
			return Result{}, err
		}
		return Result{OK: true, Message: "trigger removed"}, nil

	case domain.VerbProcessEvents:
		res := d.triggers.ProcessEvents(d.reg.TakeTransitions())
		return Result{OK: true, Events: &res}, nil

	case domain.VerbCollectReports:
		// Replies to the collect frames arrive asynchronously and will
		// show up in a later collection; Reports holds what has landed
		// so far.
		n := d.conns.Collect()
		return Result{
			OK:      true,
			Message: fmt.Sprintf("asked %d agent(s) to report; replies land in the next collection", n),
			Count:   n,
			Reports: d.reports.All(),
		}, nil

	case domain.VerbStandup:
		return d.standup()

	case domain.VerbReadStandups:
		if d.standups == nil {
			return Result{OK: true, Message: "no standup store configured"}, nil
		}
		rounds, err := d.standups.RecentRounds(10)
		if err != nil {
			return Result{}, err
		}
		return Result{OK: true, Standups: rounds}, nil

	case domain.VerbRestartDaemons:
		n := d.conns.RestartHost(cmd.Endpoint.Host)
		return Result{OK: true, Count: n, Message: fmt.Sprintf("restart requested for %d agent(s)", n)}, nil

	default:
		return Result{}, fmt.Errorf("%w: unhandled verb %s", ErrParse, cmd.Verb)
	}
}

// resolveAgent maps the "." placeholder to the session's selection and
// verifies the target exists before any action is taken.
func (d *Dispatcher) resolveAgent(sess *Session, name string) (string, error) {
	if name == SelectedAgent {
		if sess.Selected == "" {
			return "", fmt.Errorf("%w: no agent selected", registry.ErrUnknownAgent)
		}
		name = sess.Selected
	}
	if !d.reg.Exists(name) {
		return "", fmt.Errorf("%w: %s", registry.ErrUnknownAgent, name)
	}
	return name, nil
}

// dispatchTo implements DISPATCH semantics: send now when the agent is
// idle, otherwise defer as a normal-priority queue entry. Also used by
// trigger dispatch: actions.
func (d *Dispatcher) dispatchTo(name, payload string) error {
	agent, err := d.reg.Get(name)
	if err != nil {
		return err
	}

	if agent.Status == domain.StatusIdle {
		task := newTask(payload)
		if err := d.conns.Send(name, task.ID, payload, false); err == nil {
			return d.reg.SetStatus(name, domain.StatusWorking, task)
		}
		// channel raced away between the status read and the send;
		// fall through and defer instead of failing the command
	}

	d.queue.Enqueue(domain.QueueEntry{
		Priority: domain.PriorityNormal,
		Agent:    name,
		Payload:  payload,
	})
	return nil
}

// broadcast sends to every currently idle agent. Working and offline
// agents are skipped, not queued: broadcast is best effort, now.
func (d *Dispatcher) broadcast(payload string) (Result, error) {
	sent := 0
	for _, agent := range d.reg.List() {
		if agent.Status != domain.StatusIdle {
			continue
		}
		task := newTask(payload)
		if err := d.conns.Send(agent.Name, task.ID, payload, false); err != nil {
			d.log.Debug().Str("agent", agent.Name).Err(err).Msg("broadcast skipped unreachable agent")
			continue
		}
		if err := d.reg.SetStatus(agent.Name, domain.StatusWorking, task); err != nil {
			d.log.Warn().Str("agent", agent.Name).Err(err).Msg("broadcast status update failed")
			continue
		}
		sent++
	}
	return Result{OK: true, Count: sent, Message: fmt.Sprintf("broadcast to %d agent(s)", sent)}, nil
}

// urgent interrupts the target immediately, replacing whatever the
// registry considers its current task. An unreachable (offline) agent
// fails the command; urgent work is never silently deferred.
func (d *Dispatcher) urgent(sess *Session, cmd domain.Command) (Result, error) {
	name, err := d.resolveAgent(sess, cmd.Agent)
	if err != nil {
		return Result{}, err
	}

	task := newTask(cmd.Payload)
	if err := d.conns.Send(name, task.ID, cmd.Payload, true); err != nil {
		return Result{}, fmt.Errorf("%w: %s", conn.ErrAgentUnreachable, name)
	}
	if err := d.reg.SetStatus(name, domain.StatusWorking, task); err != nil {
		return Result{}, err
	}
	return Result{OK: true, Message: "urgent task sent to " + name}, nil
}

// processQueue pops at most one entry per idle agent and dispatches it.
// Entries for busy agents stay queued; repeated calls with no newly idle
// agents do nothing.
func (d *Dispatcher) processQueue() (Result, error) {
	dispatched := 0
	for _, agent := range d.reg.List() {
		if agent.Status != domain.StatusIdle {
			continue
		}
		entry, ok := d.queue.PopFor(agent.Name)
		if !ok {
			continue
		}
		task := newTask(entry.Payload)
		if err := d.conns.Send(agent.Name, task.ID, entry.Payload, false); err != nil {
			// not deliverable right now; keep the entry for the next cycle
			d.queue.Enqueue(entry)
			continue
		}
		if err := d.reg.SetStatus(agent.Name, domain.StatusWorking, task); err != nil {
			d.log.Warn().Str("agent", agent.Name).Err(err).Msg("queue dispatch status update failed")
			continue
		}
		dispatched++
	}
	return Result{OK: true, Count: dispatched, Message: fmt.Sprintf("dispatched %d queued task(s)", dispatched)}, nil
}

func (d *Dispatcher) deleteAgent(sess *Session, cmd domain.Command) (Result, error) {
	name, err := d.resolveAgent(sess, cmd.Agent)
	if err != nil {
		return Result{}, err
	}

	d.conns.Forget(name)
	dropped := d.queue.DropAgent(name)
	d.reports.Drop(name)
	if err := d.reg.Deregister(name); err != nil {
		return Result{}, err
	}
	if sess.Selected == name {
		d.sessions.selectAgent(sess.ID, "")
	}

	msg := "deleted " + name
	if dropped > 0 {
		msg = fmt.Sprintf("%s, dropped %d queued task(s)", msg, dropped)
		d.auditLog(msg)
	}
	return Result{OK: true, Message: msg}, nil
}

// provision delegates the remote install to the provisioning
// collaborator, registers the agent, and waits for the first connect or
// a timeout. A timeout is not a failure; the reconnect loop keeps trying.
// Runs without the command mutex: the remote install and the connect
// poll can take minutes, and other commands must keep flowing. Only the
// register-and-connect step is serialized.
func (d *Dispatcher) provision(ctx context.Context, cmd domain.Command) (Result, error) {
	if d.prov == nil {
		return Result{}, ErrNoProvisioner
	}

	if err := d.prov.Provision(ctx, cmd.Endpoint, cmd.Agent); err != nil {
		return Result{}, fmt.Errorf("provisioning %s: %w", cmd.Agent, err)
	}

	d.mu.Lock()
	err := d.reg.Register(cmd.Agent, cmd.Endpoint)
	if err == nil {
		d.conns.Connect(cmd.Agent, cmd.Endpoint)
	}
	d.mu.Unlock()
	if err != nil {
		return Result{}, err
	}

	deadline := time.Now().Add(d.provisionWait)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}
		agent, err := d.reg.Get(cmd.Agent)
		if err == nil && agent.Status == domain.StatusIdle {
			return Result{OK: true, Message: "provisioned and connected " + cmd.Agent}, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return Result{OK: true, Message: "provisioned " + cmd.Agent + "; awaiting first connect"}, nil
}

func (d *Dispatcher) standup() (Result, error) {
	d.conns.Collect()
	reports := d.reports.All()
	round := store.StandupRound{RoundID: uuid.New().String(), Reports: reports}

	if d.standups != nil {
		if err := d.standups.SaveRound(round.RoundID, reports); err != nil {
			return Result{}, err
		}
	}
	return Result{
		OK:       true,
		Standups: []store.StandupRound{round},
		Message:  fmt.Sprintf("standup recorded for %d agent(s)", len(reports)),
	}, nil
}

// auditLog is the observable sink for trigger log: actions.
func (d *Dispatcher) auditLog(message string) {
	d.log.Info().Str("source", "trigger").Msg(message)
	if d.standups != nil {
		if err := d.standups.Audit("trigger", message); err != nil {
			d.log.Warn().Err(err).Msg("audit write failed")
		}
	}
}

func newTask(payload string) *domain.Task {
	return &domain.Task{ID: uuid.New().String(), Payload: payload, AssignedAt: time.Now()}
}
