package session

// Session states
const (
	StateActive    = "ACTIVE"
	StateWaiting   = "WAITING"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
)

// Context is the persistent identity of one conversation. Data carries the
// run counters and whatever the agent stashes between pauses.
type Context struct {
	SessionID         string
	TemplateVersionID string
	State             string
	Data              map[string]any
}

// Terminal reports whether the session reached an end state
func (c *Context) Terminal() bool {
	return c.State == StateCompleted || c.State == StateFailed
}

// ChatMessage is one turn in a session's conversation
type ChatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// MessageStore is the in-memory view of a session's append-only message log
type MessageStore struct {
	messages []ChatMessage
}

// Add appends a message
func (m *MessageStore) Add(msg ChatMessage) {
	m.messages = append(m.messages, msg)
}

// All returns the messages in append order
func (m *MessageStore) All() []ChatMessage {
	return m.messages
}

// Len returns the number of messages
func (m *MessageStore) Len() int {
	return len(m.messages)
}
