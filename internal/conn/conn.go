package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/fleetd/internal/domain"
	"github.com/soyeahso/fleetd/internal/logging"
	"github.com/soyeahso/fleetd/internal/registry"
	"github.com/soyeahso/fleetd/internal/report"
	"github.com/soyeahso/fleetd/internal/version"
)

// ErrAgentUnreachable indicates the agent's channel is not connected.
// Callers re-queue or fail the command; they never block waiting.
var ErrAgentUnreachable = errors.New("agent unreachable")

// State is the connection lifecycle. Exactly one live channel exists per
// agent; the state machine is driven by the retry timer and socket events.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoffWait
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoffWait:
		return "backoff_wait"
	default:
		return "disconnected"
	}
}

const (
	handshakeTimeout = 10 * time.Second
	outboxSize       = 16
)

// Conn owns the persistent channel to one agent daemon. It reconnects
// forever with capped exponential backoff; a daemon that is power-cycled
// for an hour still comes back without operator action.
type Conn struct {
	agent    string
	endpoint domain.Endpoint
	reg      *registry.Registry
	reports  *report.Collector
	backoff  Backoff
	dialer   *websocket.Dialer
	log      *logging.Logger

	mu     sync.Mutex
	state  State
	socket *websocket.Conn
	outbox chan Frame

	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(agent string, ep domain.Endpoint, reg *registry.Registry, reports *report.Collector, b Backoff, log *logging.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		agent:    agent,
		endpoint: ep,
		reg:      reg,
		reports:  reports,
		backoff:  b,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send hands a frame to the live channel. It returns ErrAgentUnreachable
// immediately when the channel is down or stalled; it never blocks
// waiting for the daemon.
func (c *Conn) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.outbox == nil {
		return fmt.Errorf("%w: %s is %s", ErrAgentUnreachable, c.agent, c.state)
	}
	select {
	case c.outbox <- f:
		return nil
	default:
		return fmt.Errorf("%w: %s outbox full", ErrAgentUnreachable, c.agent)
	}
}

// Bounce closes the current socket so the run loop reconnects. Used by
// RESTART_DAEMONS; a no-op when already disconnected.
func (c *Conn) Bounce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket != nil {
		c.socket.Close()
	}
}

// Stop tears the connection down permanently.
func (c *Conn) Stop() {
	c.cancel()
	c.Bounce()
}

// run is the connection state machine. One goroutine per agent.
func (c *Conn) run() {
	for {
		if c.ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)
		c.setRegistryStatus(domain.StatusConnecting)

		socket, err := c.dial()
		if err != nil {
			c.setRegistryStatus(domain.StatusOffline)
			c.setState(StateBackoffWait)
			delay := c.backoff.Next()
			c.log.Debug().Str("agent", c.agent).Dur("retryIn", delay).Err(err).Msg("connect failed")
			select {
			case <-time.After(delay):
			case <-c.ctx.Done():
				return
			}
			continue
		}

		c.backoff.Reset()
		outbox := make(chan Frame, outboxSize)
		c.attach(socket, outbox)
		c.setRegistryStatus(domain.StatusIdle)
		c.log.Info().Str("agent", c.agent).Str("endpoint", c.endpoint.String()).Msg("agent connected")

		writerDone := make(chan struct{})
		go c.writeLoop(socket, outbox, writerDone)

		c.readLoop(socket)

		// socket is dead; detach before the next attempt
		socket.Close()
		c.detach()
		<-writerDone
		c.setRegistryStatus(domain.StatusOffline)
		c.log.Warn().Str("agent", c.agent).Msg("agent disconnected")
	}
}

// dial connects and completes the hello handshake.
func (c *Conn) dial() (*websocket.Conn, error) {
	url := "ws://" + c.endpoint.Host + "/ws"
	socket, _, err := c.dialer.DialContext(c.ctx, url, nil)
	if err != nil {
		return nil, err
	}

	socket.SetReadDeadline(time.Now().Add(handshakeTimeout))
	hello := Frame{Type: FrameTypeHello, Agent: c.agent, Version: version.Version}
	if err := socket.WriteJSON(hello); err != nil {
		socket.Close()
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	var ack Frame
	if err := socket.ReadJSON(&ack); err != nil {
		socket.Close()
		return nil, fmt.Errorf("reading hello ack: %w", err)
	}
	if ack.Type != FrameTypeHelloOK {
		socket.Close()
		return nil, fmt.Errorf("unexpected handshake frame %q", ack.Type)
	}
	socket.SetReadDeadline(time.Time{})
	return socket, nil
}

// writeLoop drains the outbox onto the socket. A single writer preserves
// per-agent message ordering.
func (c *Conn) writeLoop(socket *websocket.Conn, outbox <-chan Frame, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case f, ok := <-outbox:
			if !ok {
				return
			}
			if err := socket.WriteJSON(f); err != nil {
				c.log.Debug().Str("agent", c.agent).Err(err).Msg("write failed")
				socket.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// readLoop consumes daemon frames until the socket dies. Completions and
// reports land in the registry and collector asynchronously; nothing here
// replies to a waiting caller.
func (c *Conn) readLoop(socket *websocket.Conn) {
	for {
		var f Frame
		if err := socket.ReadJSON(&f); err != nil {
			return
		}

		switch f.Type {
		case FrameTypeDone:
			c.reports.Set(c.agent, f.Output)
			applied, err := c.reg.CompleteTask(c.agent, f.TaskID)
			if err != nil && !errors.Is(err, registry.ErrUnknownAgent) {
				c.log.Warn().Str("agent", c.agent).Err(err).Msg("task completion rejected")
			} else if !applied {
				c.log.Debug().Str("agent", c.agent).Str("task", f.TaskID).Msg("stale task completion ignored")
			}
		case FrameTypeReport:
			c.reports.Set(c.agent, f.Output)
		default:
			c.log.Debug().Str("agent", c.agent).Str("type", f.Type).Msg("ignoring unknown frame")
		}
	}
}

func (c *Conn) attach(socket *websocket.Conn, outbox chan Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.socket = socket
	c.outbox = outbox
	c.state = StateConnected
}

func (c *Conn) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outbox != nil {
		close(c.outbox)
		c.outbox = nil
	}
	c.socket = nil
	c.state = StateDisconnected
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// setRegistryStatus mirrors the channel state into the registry. Failures
// stay in the background loop; the agent may have been deleted mid-flight.
func (c *Conn) setRegistryStatus(status domain.AgentStatus) {
	if err := c.reg.SetStatus(c.agent, status, nil); err != nil {
		if errors.Is(err, registry.ErrUnknownAgent) {
			return
		}
		if !errors.Is(err, registry.ErrInvalidTransition) {
			c.log.Warn().Str("agent", c.agent).Err(err).Msg("registry update failed")
		}
	}
}
