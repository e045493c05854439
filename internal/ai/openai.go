package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient serves chat completions through the official OpenAI SDK.
// Any OpenAI-compatible endpoint works when baseURL is set.
type OpenAIClient struct {
	client *openai.Client
	usage  *usageTracker
}

// NewOpenAIClient creates an OpenAI client
func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(normalizeAPIKey(apiKey))}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		usage:  newUsageTracker(ProviderOpenAI),
	}
}

func (c *OpenAIClient) buildParams(req *ChatRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: openai.F(msgs),
		Model:    openai.F(req.Model),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Logprobs {
		params.Logprobs = openai.Bool(true)
	}
	return params
}

// Generate runs a non-streaming completion
func (c *OpenAIClient) Generate(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	chat, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		c.usage.recordError()
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(chat.Choices) == 0 {
		c.usage.recordError()
		return nil, fmt.Errorf("openai completion returned no choices")
	}

	choice := chat.Choices[0]
	out := &ChatResponse{
		Content:  choice.Message.Content,
		Model:    chat.Model,
		Provider: ProviderOpenAI,
		Usage: Usage{
			PromptTokens:     int(chat.Usage.PromptTokens),
			CompletionTokens: int(chat.Usage.CompletionTokens),
			TotalTokens:      int(chat.Usage.TotalTokens),
		},
		Duration: time.Since(start),
	}
	for _, lp := range choice.Logprobs.Content {
		out.TokenLogprobs = append(out.TokenLogprobs, lp.Logprob)
	}
	if out.Model == "" {
		out.Model = req.Model
	}

	c.usage.record(out.Usage.TotalTokens, out.Duration)
	return out, nil
}

// Stream runs a streaming completion with usage reporting enabled
func (c *OpenAIClient) Stream(ctx context.Context, req *ChatRequest, onDelta StreamHandler) (*ChatResponse, error) {
	start := time.Now()

	params := c.buildParams(req)
	params.StreamOptions = openai.F(openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	})

	strm := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer strm.Close()

	out := &ChatResponse{Model: req.Model, Provider: ProviderOpenAI}
	var content strings.Builder

	for strm.Next() {
		chunk := strm.Current()
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if chunk.Usage.TotalTokens > 0 {
			out.Usage = Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:      int(chunk.Usage.TotalTokens),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		for _, lp := range choice.Logprobs.Content {
			out.TokenLogprobs = append(out.TokenLogprobs, lp.Logprob)
		}

		delta := choice.Delta.Content
		if delta == "" {
			continue
		}
		content.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				c.usage.recordError()
				return nil, err
			}
		}
	}
	if err := strm.Err(); err != nil {
		c.usage.recordError()
		return nil, fmt.Errorf("openai stream failed: %w", err)
	}

	out.Content = content.String()
	out.Duration = time.Since(start)
	c.usage.record(out.Usage.TotalTokens, out.Duration)
	return out, nil
}

// Supports reports true for every non-Claude model
func (c *OpenAIClient) Supports(model string) bool {
	return !strings.HasPrefix(strings.ToLower(model), "claude")
}

// GetProvider returns the provider identifier
func (c *OpenAIClient) GetProvider() AIProvider {
	return ProviderOpenAI
}

// Health looks up the fallback model, which every account can see
func (c *OpenAIClient) Health(ctx context.Context) error {
	_, err := c.client.Models.Get(ctx, FallbackModel)
	return err
}

// GetUsage returns a copy of current usage statistics
func (c *OpenAIClient) GetUsage() *ProviderUsage {
	return c.usage.snapshot()
}
