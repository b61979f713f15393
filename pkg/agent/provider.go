package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openaisdk "github.com/openai/openai-go"

	"github.com/farhan/arun/pkg/template"
)

// Provider is an LLM API backend
type Provider interface {
	// Call makes one chat completion call
	Call(ctx context.Context, request Request) (*Response, error)

	// Provider returns the provider name
	Provider() string
}

// ErrorCategory classifies a provider failure
type ErrorCategory string

const (
	ErrorConnection ErrorCategory = "connection"
	ErrorAuth       ErrorCategory = "auth"
	ErrorUpstream   ErrorCategory = "upstream"
	ErrorInternal   ErrorCategory = "internal"
)

// CallError wraps a provider failure with its category. The core does not
// retry; the category is for callers and logs.
type CallError struct {
	Category ErrorCategory
	Provider string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call failed (%s): %v", e.Provider, e.Category, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// categorize maps an SDK error to a category
func categorize(provider string, err error) *CallError {
	category := ErrorInternal

	var netErr net.Error
	if errors.As(err, &netErr) {
		category = ErrorConnection
	}

	status := 0
	var oaErr *openaisdk.Error
	if errors.As(err, &oaErr) {
		status = oaErr.StatusCode
	}
	var anErr *anthropicsdk.Error
	if errors.As(err, &anErr) {
		status = anErr.StatusCode
	}
	switch {
	case status == 401 || status == 403:
		category = ErrorAuth
	case status >= 400:
		category = ErrorUpstream
	}

	return &CallError{Category: category, Provider: provider, Err: err}
}

// NewProvider builds a provider from an LLM policy. Anthropic models are
// recognized by their "claude" prefix; everything else goes to the
// OpenAI-compatible endpoint. The API key is read from the environment
// variable the policy names.
func NewProvider(policy template.LLMPolicy) (Provider, error) {
	apiKey := ""
	if policy.APIKeyRef != "" {
		apiKey = os.Getenv(policy.APIKeyRef)
	}

	if strings.HasPrefix(policy.Model, "claude") {
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return NewAnthropicProvider(apiKey), nil
	}

	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return NewOpenAIProvider(apiKey, policy.BaseURL), nil
}
