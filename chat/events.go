package chat

// EventType discriminates the frames pushed to the client during a turn.
type EventType string

const (
	EventToken        EventType = "token"
	EventToolUseStart EventType = "tool_use_start"
	EventToolResult   EventType = "tool_result"
	EventToolError    EventType = "tool_error"
	EventError        EventType = "error"
	EventDone         EventType = "done"
)

// Event is one frame of turn output. Fields are populated per type:
// token carries Content; the tool events carry ToolName plus Result or Error;
// error carries Error; done carries ConversationID.
type Event struct {
	Type           EventType `json:"type"`
	Content        string    `json:"content,omitempty"`
	ToolName       string    `json:"toolName,omitempty"`
	Result         string    `json:"result,omitempty"`
	Error          string    `json:"error,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
}

// EventSink receives turn events in strict causal order. A sink error stops
// the turn (the client transport is gone).
type EventSink func(Event) error
