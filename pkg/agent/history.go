package agent

import (
	"encoding/json"

	"github.com/farhan/arun/pkg/session"
)

// persistedToolCalls is the durable form of an assistant turn that requested
// tool calls. It round-trips through the message log so a resumed session can
// rebuild the exact provider conversation.
type persistedToolCalls struct {
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

// encodeToolCalls serializes an assistant tool-call turn for the message log
func encodeToolCalls(text string, calls []ToolCall) string {
	data, err := json.Marshal(persistedToolCalls{Text: text, ToolCalls: calls})
	if err != nil {
		return text
	}
	return string(data)
}

// toProviderMessage converts a logged message back into provider form,
// reviving encoded tool calls.
func toProviderMessage(msg session.ChatMessage) Message {
	if msg.Role == "assistant" && msg.ToolCallID != "" {
		var persisted persistedToolCalls
		if err := json.Unmarshal([]byte(msg.Content), &persisted); err == nil && len(persisted.ToolCalls) > 0 {
			return Message{
				Role:      msg.Role,
				Content:   persisted.Text,
				ToolCalls: persisted.ToolCalls,
			}
		}
	}
	return Message{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
	}
}

// toProviderMessages converts the session log into a provider conversation,
// dropping the system turn which travels separately.
func toProviderMessages(msgs []session.ChatMessage) []Message {
	out := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == "system" {
			continue
		}
		out = append(out, toProviderMessage(msg))
	}
	return out
}
