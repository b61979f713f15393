package agent

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Event types emitted during a run
const (
	EventStepStart  = "step_start"
	EventThinking   = "thinking"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventMessage    = "message"
	EventError      = "error"
	EventStepEnd    = "step_end"
	EventDone       = "done"
)

// Event is one observable moment of a run. The final answer is streamed as a
// series of message events followed by done.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Iteration int       `json:"iteration,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// messageChunkSize controls how the final answer is split into message events
const messageChunkSize = 512

func newEvent(eventType string, iteration int) Event {
	id, err := gonanoid.New()
	if err != nil {
		id = "evt"
	}
	return Event{
		ID:        id,
		Type:      eventType,
		Iteration: iteration,
		Timestamp: time.Now().UTC(),
	}
}

// compactArgs renders tool-call arguments for event payloads
func compactArgs(args map[string]interface{}) string {
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(data)
}

// chunkMessage splits the final answer into message events, cutting only on
// rune boundaries
func chunkMessage(content string, iteration int) []Event {
	var events []Event
	for len(content) > 0 {
		n := messageChunkSize
		if n >= len(content) {
			n = len(content)
		} else {
			for n > 0 && !utf8.RuneStart(content[n]) {
				n--
			}
			if n == 0 {
				n = messageChunkSize
			}
		}
		ev := newEvent(EventMessage, iteration)
		ev.Content = content[:n]
		events = append(events, ev)
		content = content[n:]
	}
	return events
}
