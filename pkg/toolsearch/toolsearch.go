package toolsearch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/farhan/arun/internal/observability"
	"github.com/farhan/arun/pkg/store"
	"github.com/farhan/arun/pkg/template"
)

// DefaultTopK bounds the result list when neither the request nor the policy
// sets a limit
const DefaultTopK = 10

// Embedder turns text into a vector for similarity scoring
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Repo is the slice of the store the search service needs
type Repo interface {
	ScoreActiveTools(ctx context.Context, queryVec []float32, names []string) ([]*store.ScoredTool, error)
	ToolsByNames(ctx context.Context, names []string) ([]*store.ToolRecord, error)
}

// SearchParams describes one tool retrieval request
type SearchParams struct {
	SessionID      string
	Query          string
	Policy         template.ToolPolicy
	AvailableTools []string // restricts candidates when non-empty
	RequiredTools  []string // overrides the policy's required list when non-empty
	TopK           int
}

// Result is a ranked tool list plus whether it came from the cache
type Result struct {
	Tools     []*store.ToolRecord
	UsedCache bool
}

// Config holds search service dependencies
type Config struct {
	Repo     Repo
	Embedder Embedder
	Logger   zerolog.Logger
	TopK     int
}

// Service ranks tools against a query and caches the resulting name list per
// (session, query). Cached entries are never invalidated: a session that
// repeats a query gets the same tools even if the tool set changed
// underneath, which keeps runs deterministic.
type Service struct {
	repo     Repo
	embedder Embedder
	logger   zerolog.Logger
	topK     int

	mu    sync.Mutex
	cache map[string]map[string][]string // session id -> query -> tool names
}

// NewService creates a tool search service
func NewService(cfg Config) (*Service, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("repo is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	observability.EnsureRegistered()

	return &Service{
		repo:     cfg.Repo,
		embedder: cfg.Embedder,
		logger:   cfg.Logger,
		topK:     topK,
		cache:    make(map[string]map[string][]string),
	}, nil
}

// Search returns the tools most relevant to the query, filtered by the
// policy, required tools first.
func (s *Service) Search(ctx context.Context, params SearchParams) (*Result, error) {
	start := time.Now()

	if cached, ok := s.cachedNames(params.SessionID, params.Query); ok {
		tools, err := s.repo.ToolsByNames(ctx, cached)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cached tools: %w", err)
		}
		observability.RecordToolSearch(time.Since(start), true)
		s.logger.Debug().
			Str("session_id", params.SessionID).
			Str("query", params.Query).
			Int("tools", len(tools)).
			Msg("Tool search served from cache")
		return &Result{Tools: tools, UsedCache: true}, nil
	}

	queryVec, err := s.embedder.Embed(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	scored, err := s.repo.ScoreActiveTools(ctx, queryVec, params.AvailableTools)
	if err != nil {
		return nil, fmt.Errorf("failed to score tools: %w", err)
	}

	required := params.RequiredTools
	if len(required) == 0 {
		required = params.Policy.RequiredTools
	}

	filtered := filterByPolicy(scored, params.Policy, required)
	ordered := requiredFirst(filtered, required)

	limit := params.TopK
	if limit <= 0 && params.Policy.MaxToolsInPrompt != nil {
		limit = *params.Policy.MaxToolsInPrompt
	}
	if limit <= 0 {
		limit = s.topK
	}
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	names := make([]string, len(ordered))
	for i, t := range ordered {
		names[i] = t.Name
	}
	s.storeNames(params.SessionID, params.Query, names)

	observability.RecordToolSearch(time.Since(start), false)
	s.logger.Debug().
		Str("session_id", params.SessionID).
		Str("query", params.Query).
		Int("candidates", len(scored)).
		Int("tools", len(ordered)).
		Msg("Tool search completed")

	return &Result{Tools: ordered}, nil
}

// filterByPolicy keeps tools that pass the allow/deny/required rules. A tool
// survives when the allowlist is empty, lists it, or it is required, and the
// denylist never lists it.
func filterByPolicy(scored []*store.ScoredTool, policy template.ToolPolicy, required []string) []*store.ToolRecord {
	allowed := toSet(policy.Allowlist)
	denied := toSet(policy.Denylist)
	requiredSet := toSet(required)

	out := make([]*store.ToolRecord, 0, len(scored))
	for _, st := range scored {
		name := st.Tool.Name
		if denied[name] {
			continue
		}
		if len(allowed) > 0 && !allowed[name] && !requiredSet[name] {
			continue
		}
		out = append(out, st.Tool)
	}
	return out
}

// requiredFirst moves required tools to the front in their declared order,
// deduplicating against the ranked remainder.
func requiredFirst(tools []*store.ToolRecord, required []string) []*store.ToolRecord {
	if len(required) == 0 {
		return tools
	}

	byName := make(map[string]*store.ToolRecord, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}

	out := make([]*store.ToolRecord, 0, len(tools))
	placed := make(map[string]bool, len(required))
	for _, name := range required {
		if t, ok := byName[name]; ok && !placed[name] {
			out = append(out, t)
			placed[name] = true
		}
	}
	for _, t := range tools {
		if !placed[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) cachedNames(sessionID, query string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queries, ok := s.cache[sessionID]
	if !ok {
		return nil, false
	}
	names, ok := queries[query]
	return names, ok
}

// storeNames caches the result. Concurrent fills of the same key race; the
// last write wins, which is acceptable since both computed a valid answer.
func (s *Service) storeNames(sessionID, query string, names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache[sessionID] == nil {
		s.cache[sessionID] = make(map[string][]string)
	}
	s.cache[sessionID][query] = names
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}
