package tool

import (
	"context"
	"encoding/json"
)

// Tool is a capability an agent can invoke during its reasoning loop.
// Invoke receives the parsed arguments and the per-run invocation state;
// the returned string is fed back to the model as the tool result.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Invoke(ctx context.Context, args map[string]any, inv *Invocation) (string, error)
}

// Source is a reference collected during a run, used for fallback summaries
type Source struct {
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}
