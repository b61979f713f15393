package agent

// Message is one turn in the conversation sent to a provider
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is a tool invocation requested by the model
type ToolCall struct {
	ID         string
	Name       string
	Parameters map[string]interface{}
}

// ToolSchema describes one tool to the model
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// TokenUsage reports token consumption for one call
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Tool choice modes
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
	ToolChoiceNone     = "none"
)

// Request contains the parameters for one provider call
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSchema
	ToolChoice   string
	Temperature  float64
	MaxTokens    int
}

// Response contains the model's reply
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}
