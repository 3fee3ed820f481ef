// Package trigger is the reactive automation layer: rules that map agent
// lifecycle events to follow-on actions.
package trigger

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/soyeahso/fleetd/internal/domain"
	"github.com/soyeahso/fleetd/internal/logging"
)

var (
	// ErrUnknownTrigger indicates the trigger id does not exist.
	ErrUnknownTrigger = errors.New("unknown trigger")

	// ErrBadPattern indicates an unparseable event pattern.
	ErrBadPattern = errors.New("invalid trigger pattern")

	// ErrBadAction indicates an unparseable trigger action.
	ErrBadAction = errors.New("invalid trigger action")
)

// DispatchFunc sends a payload to an agent on behalf of a dispatch: action.
type DispatchFunc func(agent, payload string) error

// LogFunc records a log: action in the observable log sink.
type LogFunc func(message string)

// ActionFailure reports one trigger action that failed during a batch.
// Failures never abort evaluation of the remaining triggers.
type ActionFailure struct {
	TriggerID string `json:"triggerId"`
	Action    string `json:"action"`
	Error     string `json:"error"`
}

// Result summarizes one ProcessEvents pass.
type Result struct {
	Evaluated int             `json:"evaluated"` // transitions examined
	Fired     int             `json:"fired"`     // actions executed
	Failures  []ActionFailure `json:"failures,omitempty"`
}

// Engine evaluates registered triggers against registry transitions.
type Engine struct {
	mu       sync.Mutex
	triggers []domain.Trigger

	dispatch DispatchFunc
	logSink  LogFunc
	log      *logging.Logger
}

// New creates an engine wired to a dispatch callback and a log sink.
func New(dispatch DispatchFunc, logSink LogFunc, log *logging.Logger) *Engine {
	return &Engine{
		dispatch: dispatch,
		logSink:  logSink,
		log:      log.Sub("trigger"),
	}
}

// Add registers a trigger and returns its id. Duplicate patterns are
// allowed; every matching trigger fires for an event.
func (e *Engine) Add(pattern, action string) (string, error) {
	if _, _, err := parsePattern(pattern); err != nil {
		return "", err
	}
	if err := checkAction(action); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	trig := domain.Trigger{ID: uuid.New().String(), Pattern: pattern, Action: action}
	e.triggers = append(e.triggers, trig)
	e.log.Info().Str("id", trig.ID).Str("pattern", pattern).Str("action", action).Msg("trigger added")
	return trig.ID, nil
}

// Remove deletes a trigger by id.
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, trig := range e.triggers {
		if trig.ID == id {
			e.triggers = append(e.triggers[:i], e.triggers[i+1:]...)
			e.log.Info().Str("id", id).Msg("trigger removed")
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownTrigger, id)
}

// List returns a snapshot of all registered triggers.
func (e *Engine) List() []domain.Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Trigger(nil), e.triggers...)
}

// ProcessEvents evaluates triggers against a batch of registry transitions.
// Matching is edge-triggered: each transition fires each matching trigger
// exactly once, and an already-idle agent never refires. Action failures
// are collected into the result and do not stop the batch.
func (e *Engine) ProcessEvents(transitions []domain.Transition) Result {
	e.mu.Lock()
	triggers := append([]domain.Trigger(nil), e.triggers...)
	e.mu.Unlock()

	res := Result{Evaluated: len(transitions)}
	for _, tr := range transitions {
		if tr.To != domain.StatusIdle {
			continue
		}
		for _, trig := range triggers {
			event, agent, _ := parsePattern(trig.Pattern)
			if agent != tr.Agent {
				continue
			}
			// task_complete is the working->idle edge only; agent_idle
			// matches any transition into idle.
			if event == domain.EventTaskComplete && tr.From != domain.StatusWorking {
				continue
			}

			res.Fired++
			if err := e.run(trig); err != nil {
				res.Failures = append(res.Failures, ActionFailure{
					TriggerID: trig.ID,
					Action:    trig.Action,
					Error:     err.Error(),
				})
				e.log.Warn().Str("id", trig.ID).Err(err).Msg("trigger action failed")
			}
		}
	}
	return res
}

// run executes a single trigger action.
func (e *Engine) run(trig domain.Trigger) error {
	kind, rest, _ := strings.Cut(trig.Action, ":")
	switch kind {
	case domain.ActionDispatch:
		agent, payload, ok := strings.Cut(rest, ":")
		if !ok || agent == "" || payload == "" {
			return fmt.Errorf("%w: %s", ErrBadAction, trig.Action)
		}
		return e.dispatch(agent, payload)
	case domain.ActionLog:
		e.logSink(rest)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrBadAction, trig.Action)
	}
}

// parsePattern splits "<event>:<agent>" and validates the event name.
func parsePattern(pattern string) (event, agent string, err error) {
	event, agent, ok := strings.Cut(pattern, ":")
	if !ok || agent == "" {
		return "", "", fmt.Errorf("%w: %s", ErrBadPattern, pattern)
	}
	switch event {
	case domain.EventTaskComplete, domain.EventAgentIdle:
		return event, agent, nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrBadPattern, pattern)
	}
}

// checkAction validates an action string without executing it.
func checkAction(action string) error {
	kind, rest, ok := strings.Cut(action, ":")
	if !ok {
		return fmt.Errorf("%w: %s", ErrBadAction, action)
	}
	switch kind {
	case domain.ActionDispatch:
		agent, payload, ok := strings.Cut(rest, ":")
		if !ok || agent == "" || payload == "" {
			return fmt.Errorf("%w: %s", ErrBadAction, action)
		}
		return nil
	case domain.ActionLog:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrBadAction, action)
	}
}
