package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/fleetd/internal/domain"
)

// ErrParse indicates a malformed command line.
var ErrParse = errors.New("parse error")

// SelectedAgent is the placeholder agent token that resolves to the
// session's implicit target set by SELECT_AGENT.
const SelectedAgent = "."

// Parse turns one textual command into a Command. The grammar is one
// verb followed by its arguments; payloads extend to the end of the
// line. This is the only place command text is interpreted.
func Parse(line string) (domain.Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return domain.Command{}, fmt.Errorf("%w: empty command", ErrParse)
	}

	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch domain.Verb(strings.ToUpper(verb)) {
	case domain.VerbLogin:
		if rest == "" {
			return domain.Command{}, fmt.Errorf("%w: LOGIN requires a credential", ErrParse)
		}
		return domain.Command{Verb: domain.VerbLogin, Payload: rest}, nil

	case domain.VerbListAgents:
		return noArgs(domain.VerbListAgents, rest)
	case domain.VerbGetAllStatus:
		return noArgs(domain.VerbGetAllStatus, rest)
	case domain.VerbListQueue:
		return noArgs(domain.VerbListQueue, rest)
	case domain.VerbProcessQueue:
		return noArgs(domain.VerbProcessQueue, rest)
	case domain.VerbListTriggers:
		return noArgs(domain.VerbListTriggers, rest)
	case domain.VerbProcessEvents:
		return noArgs(domain.VerbProcessEvents, rest)
	case domain.VerbCollectReports:
		return noArgs(domain.VerbCollectReports, rest)
	case domain.VerbStandup:
		return noArgs(domain.VerbStandup, rest)
	case domain.VerbReadStandups:
		return noArgs(domain.VerbReadStandups, rest)

	case domain.VerbSelectAgent:
		return oneAgent(domain.VerbSelectAgent, rest)
	case domain.VerbDeleteAgent:
		return oneAgent(domain.VerbDeleteAgent, rest)

	case domain.VerbBroadcast:
		if rest == "" {
			return domain.Command{}, fmt.Errorf("%w: BROADCAST requires a payload", ErrParse)
		}
		return domain.Command{Verb: domain.VerbBroadcast, Payload: rest}, nil

	case domain.VerbDispatch:
		return agentAndPayload(domain.VerbDispatch, rest)
	case domain.VerbUrgent:
		return agentAndPayload(domain.VerbUrgent, rest)
	case domain.VerbQueue:
		return agentAndPayload(domain.VerbQueue, rest)

	case domain.VerbSSHProvision:
		fields := strings.Fields(rest)
		if len(fields) != 3 {
			return domain.Command{}, fmt.Errorf("%w: SSH_PROVISION requires endpoint, agent name, path", ErrParse)
		}
		return domain.Command{
			Verb:     domain.VerbSSHProvision,
			Agent:    fields[1],
			Endpoint: domain.Endpoint{Host: fields[0], WorkDir: fields[2]},
		}, nil

	case domain.VerbAddTrigger:
		pattern, action, ok := strings.Cut(rest, " ")
		action = strings.TrimSpace(action)
		if !ok || pattern == "" || action == "" {
			return domain.Command{}, fmt.Errorf("%w: ADD_TRIGGER requires pattern and action", ErrParse)
		}
		return domain.Command{Verb: domain.VerbAddTrigger, Pattern: pattern, Action: action}, nil

	case domain.VerbRemoveTrigger:
		if rest == "" || strings.ContainsRune(rest, ' ') {
			return domain.Command{}, fmt.Errorf("%w: REMOVE_TRIGGER requires a trigger id", ErrParse)
		}
		return domain.Command{Verb: domain.VerbRemoveTrigger, TriggerID: rest}, nil

	case domain.VerbRestartDaemons:
		if rest == "" || strings.ContainsRune(rest, ' ') {
			return domain.Command{}, fmt.Errorf("%w: RESTART_DAEMONS requires an endpoint", ErrParse)
		}
		return domain.Command{Verb: domain.VerbRestartDaemons, Endpoint: domain.Endpoint{Host: rest}}, nil

	default:
		return domain.Command{}, fmt.Errorf("%w: unknown verb %q", ErrParse, verb)
	}
}

func noArgs(verb domain.Verb, rest string) (domain.Command, error) {
	if rest != "" {
		return domain.Command{}, fmt.Errorf("%w: %s takes no arguments", ErrParse, verb)
	}
	return domain.Command{Verb: verb}, nil
}

func oneAgent(verb domain.Verb, rest string) (domain.Command, error) {
	if rest == "" || strings.ContainsRune(rest, ' ') {
		return domain.Command{}, fmt.Errorf("%w: %s requires an agent name", ErrParse, verb)
	}
	return domain.Command{Verb: verb, Agent: rest}, nil
}

func agentAndPayload(verb domain.Verb, rest string) (domain.Command, error) {
	agent, payload, ok := strings.Cut(rest, " ")
	payload = strings.TrimSpace(payload)
	if !ok || agent == "" || payload == "" {
		return domain.Command{}, fmt.Errorf("%w: %s requires an agent and a payload", ErrParse, verb)
	}
	return domain.Command{Verb: verb, Agent: agent, Payload: payload}, nil
}
