package prompt

import "strings"

// Template names
const (
	NameSystem             = "system"
	NameInitialUser        = "initial_user"
	NameClarificationReply = "clarification_reply"
	NameFallbackSummary    = "fallback_summary"
)

// defaults used when no override file is present
var defaults = map[string]string{
	NameSystem: `You are a capable assistant that completes tasks step by step.

You have access to the following tools:
{tools}

Work iteratively: pick a tool, examine its result, and decide the next step.
Ask the user for clarification only when the task is genuinely ambiguous.
When you have everything needed, deliver the final answer.`,

	NameInitialUser: `{task}`,

	NameClarificationReply: `The user answered your questions:
{answers}

Continue the task with this information.`,

	NameFallbackSummary: `The iteration limit was reached before the task finished.
Here is a summary of what was gathered:

{sources}`,
}

// Render substitutes {placeholder} variables into a template
func Render(tmpl string, vars map[string]string) string {
	out := tmpl
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}
