package domain

// Verb identifies a control command. The free-text protocol is parsed once
// at the boundary into a Command; nothing downstream re-parses strings.
type Verb string

const (
	VerbLogin          Verb = "LOGIN"
	VerbListAgents     Verb = "LIST_AGENTS"
	VerbGetAllStatus   Verb = "GET_ALL_STATUS"
	VerbSelectAgent    Verb = "SELECT_AGENT"
	VerbDeleteAgent    Verb = "DELETE_AGENT"
	VerbSSHProvision   Verb = "SSH_PROVISION"
	VerbBroadcast      Verb = "BROADCAST"
	VerbDispatch       Verb = "DISPATCH"
	VerbUrgent         Verb = "URGENT"
	VerbQueue          Verb = "QUEUE"
	VerbListQueue      Verb = "LIST_QUEUE"
	VerbProcessQueue   Verb = "PROCESS_QUEUE"
	VerbAddTrigger     Verb = "ADD_TRIGGER"
	VerbListTriggers   Verb = "LIST_TRIGGERS"
	VerbRemoveTrigger  Verb = "REMOVE_TRIGGER"
	VerbProcessEvents  Verb = "PROCESS_EVENTS"
	VerbCollectReports Verb = "COLLECT_REPORTS"
	VerbStandup        Verb = "STANDUP"
	VerbReadStandups   Verb = "READ_STANDUPS"
	VerbRestartDaemons Verb = "RESTART_DAEMONS"
)

// Command is a fully parsed control instruction. Which fields are
// meaningful depends on the verb; the parser guarantees the required
// ones are populated.
type Command struct {
	Verb       Verb     `json:"verb"`
	Agent      string   `json:"agent,omitempty"`      // single target, "" if none or implicit
	Payload    string   `json:"payload,omitempty"`    // task text, credential, trigger spec
	Endpoint   Endpoint `json:"endpoint,omitempty"`   // SSH_PROVISION / RESTART_DAEMONS
	TriggerID  string   `json:"triggerId,omitempty"`  // REMOVE_TRIGGER
	Pattern    string   `json:"pattern,omitempty"`    // ADD_TRIGGER
	Action     string   `json:"action,omitempty"`     // ADD_TRIGGER
}
