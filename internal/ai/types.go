package ai

import (
	"context"
	"time"
)

// AIProvider identifies an LLM vendor
type AIProvider string

const (
	ProviderOpenAI AIProvider = "openai"
	ProviderClaude AIProvider = "claude"
)

// FallbackModel is the single model a failed call is retried with
const FallbackModel = "gpt-4o-mini"

// Message is one chat turn sent to a provider
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-neutral chat completion request
type ChatRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`

	// Logprobs asks the provider for per-token log probabilities when it
	// supports them. Claude ignores it.
	Logprobs bool `json:"logprobs,omitempty"`
}

// ChatResponse is the aggregated result of a chat completion
type ChatResponse struct {
	Content       string        `json:"content"`
	Model         string        `json:"model"`
	Provider      AIProvider    `json:"provider"`
	Usage         Usage         `json:"usage"`
	TokenLogprobs []float64     `json:"-"`
	Duration      time.Duration `json:"duration"`
	FellBack      bool          `json:"fell_back,omitempty"`
}

// Usage is token usage for one request
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamHandler receives content deltas as they arrive. Returning an error
// aborts the stream.
type StreamHandler func(delta string) error

// AIClient is implemented by every provider
type AIClient interface {
	// Generate runs a completion and returns the whole response
	Generate(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream runs a completion, calling onDelta for each content chunk, and
	// returns the aggregated response once the stream ends
	Stream(ctx context.Context, req *ChatRequest, onDelta StreamHandler) (*ChatResponse, error)

	// Supports reports whether this client serves the named model
	Supports(model string) bool

	GetProvider() AIProvider
	Health(ctx context.Context) error
	GetUsage() *ProviderUsage
}

// ProviderUsage tracks usage statistics for a provider
type ProviderUsage struct {
	Provider     AIProvider `json:"provider"`
	RequestCount int64      `json:"request_count"`
	TotalTokens  int64      `json:"total_tokens"`
	AvgLatency   float64    `json:"avg_latency"`
	ErrorCount   int64      `json:"error_count"`
	LastUsed     time.Time  `json:"last_used"`
}
