package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// External tool names
const (
	NameWebSearch         = "web_search"
	NameChatHistorySearch = "chat_history_search"
)

// Searcher is the contract a web search backend implements. The runtime does
// not ship an engine; callers plug one in.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Source, error)
}

// HistorySearcher is the contract a chat-history search backend implements
type HistorySearcher interface {
	SearchHistory(ctx context.Context, sessionID, query string, limit int) ([]string, error)
}

// RegisterExternal adds wrapper tools for the provided backends. Nil backends
// are skipped so templates can reference only what is configured.
func RegisterExternal(r *Registry, searcher Searcher, history HistorySearcher) {
	if searcher != nil {
		r.Register(NameWebSearch, func() Tool { return &WebSearch{backend: searcher} })
	}
	if history != nil {
		r.Register(NameChatHistorySearch, func() Tool { return &ChatHistorySearch{backend: history} })
	}
}

// WebSearch queries the configured search backend and collects sources
type WebSearch struct {
	backend    Searcher
	MaxResults int
}

func (t *WebSearch) Name() string { return NameWebSearch }

func (t *WebSearch) Description() string {
	return "Search the web for current information. Returns a list of results with titles and snippets."
}

func (t *WebSearch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query."}
		},
		"required": ["query"]
	}`)
}

func (t *WebSearch) Invoke(ctx context.Context, args map[string]any, inv *Invocation) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	max := t.MaxResults
	if max <= 0 {
		max = 5
	}

	results, err := t.backend.Search(ctx, query, max)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}

	inv.SearchesUsed++
	inv.Sources = append(inv.Sources, results...)

	if len(results) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String(), nil
}

// ChatHistorySearch retrieves relevant earlier messages from the session log
type ChatHistorySearch struct {
	backend HistorySearcher
	Limit   int
}

func (t *ChatHistorySearch) Name() string { return NameChatHistorySearch }

func (t *ChatHistorySearch) Description() string {
	return "Search earlier messages in this conversation for relevant context."
}

func (t *ChatHistorySearch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"session_id": {"type": "string", "description": "Session to search."},
			"query": {"type": "string", "description": "What to look for."}
		},
		"required": ["query"]
	}`)
}

func (t *ChatHistorySearch) Invoke(ctx context.Context, args map[string]any, _ *Invocation) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	sessionID, _ := args["session_id"].(string)

	limit := t.Limit
	if limit <= 0 {
		limit = 10
	}

	matches, err := t.backend.SearchHistory(ctx, sessionID, query, limit)
	if err != nil {
		return "", fmt.Errorf("history search failed: %w", err)
	}
	if len(matches) == 0 {
		return "No matching messages found.", nil
	}
	return strings.Join(matches, "\n---\n"), nil
}
