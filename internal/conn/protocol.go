package conn

// Frame types for the core <-> daemon WebSocket protocol. The control
// plane dials each daemon and speaks JSON frames; the Type field
// discriminates the payload shape.
const (
	FrameTypeHello   = "hello"   // core -> daemon: identify the fleet controller
	FrameTypeHelloOK = "helloOk" // daemon -> core: handshake accepted
	FrameTypeTask    = "task"    // core -> daemon: run a task
	FrameTypeDone    = "done"    // daemon -> core: task finished, output attached
	FrameTypeCollect = "collect" // core -> daemon: request latest output
	FrameTypeReport  = "report"  // daemon -> core: latest free-text output
)

// Frame is the envelope for all daemon channel messages.
type Frame struct {
	Type string `json:"type"`

	// Handshake fields
	Agent   string `json:"agent,omitempty"`
	Version string `json:"version,omitempty"`

	// Task fields
	TaskID  string `json:"taskId,omitempty"`
	Payload string `json:"payload,omitempty"`
	Urgent  bool   `json:"urgent,omitempty"` // interrupt whatever is running

	// Done / report fields
	Output string `json:"output,omitempty"`
}
