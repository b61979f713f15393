package template

import "encoding/json"

// LLMPolicy configures the model used by an agent
type LLMPolicy struct {
	BaseURL     string  `json:"base_url,omitempty"`
	APIKeyRef   string  `json:"api_key_ref,omitempty"` // environment variable name
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// PromptConfig configures the agent's prompts
type PromptConfig struct {
	SystemPrompt string `json:"system_prompt,omitempty"`
	Description  string `json:"description,omitempty"`
}

// ExecutionPolicy bounds an agent run
type ExecutionPolicy struct {
	MaxIterations     int `json:"max_iterations,omitempty"`
	TimeBudgetSeconds int `json:"time_budget_seconds,omitempty"`
}

// Field resolves a policy field by its wire name. Rule thresholds may
// reference these names instead of literal values.
func (p ExecutionPolicy) Field(name string) (int, bool) {
	switch name {
	case "max_iterations":
		return p.MaxIterations, true
	case "time_budget_seconds":
		return p.TimeBudgetSeconds, true
	default:
		return 0, false
	}
}

// ToolQuota bounds how often a single tool may be called within a run
type ToolQuota struct {
	MaxCalls        int `json:"max_calls,omitempty"`
	TimeoutSeconds  int `json:"timeout_seconds,omitempty"`
	CooldownSeconds int `json:"cooldown_seconds,omitempty"`
}

// ToolPolicy governs which tools an agent may see and call
type ToolPolicy struct {
	RequiredTools    []string             `json:"required_tools,omitempty"`
	Allowlist        []string             `json:"allowlist,omitempty"`
	Denylist         []string             `json:"denylist,omitempty"`
	MaxToolsInPrompt *int                 `json:"max_tools_in_prompt,omitempty"`
	Quotas           map[string]ToolQuota `json:"quotas,omitempty"`
}

// Quota looks up the quota for a tool name
func (p ToolPolicy) Quota(name string) (ToolQuota, bool) {
	q, ok := p.Quotas[name]
	return q, ok
}

// Settings is the versioned template configuration stored as JSON
type Settings struct {
	BaseClass  string            `json:"base_class,omitempty"` // agent kind key
	LLM        LLMPolicy         `json:"llm,omitempty"`
	Prompt     PromptConfig      `json:"prompt,omitempty"`
	Execution  ExecutionPolicy   `json:"execution,omitempty"`
	ToolPolicy ToolPolicy        `json:"tool_policy,omitempty"`
	Tools      []string          `json:"tools,omitempty"`
	Rules      []json.RawMessage `json:"rules,omitempty"`
}

// RuntimeConfig is the fully resolved configuration an agent runs with
type RuntimeConfig struct {
	TemplateID   string
	TemplateName string
	VersionID    string
	Version      int
	BaseClass    string
	LLM          LLMPolicy
	Prompt       PromptConfig
	Execution    ExecutionPolicy
	ToolPolicy   ToolPolicy
	Tools        []string
	Rules        []json.RawMessage
}
