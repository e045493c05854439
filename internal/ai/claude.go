package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	claudeDefaultURL  = "https://api.anthropic.com/v1/messages"
	claudeAPIVersion  = "2023-06-01"
	claudeHealthModel = "claude-3-5-haiku-latest"
)

// ClaudeClient talks to the Anthropic Messages API
type ClaudeClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	usage      *usageTracker
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewClaudeClient creates a Claude client. An empty baseURL selects the
// public endpoint.
func NewClaudeClient(apiKey, baseURL string, timeout time.Duration) *ClaudeClient {
	if baseURL == "" {
		baseURL = claudeDefaultURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ClaudeClient{
		apiKey:     normalizeAPIKey(apiKey),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		usage:      newUsageTracker(ProviderClaude),
	}
}

// Generate sends a non-streaming Messages request
func (c *ClaudeClient) Generate(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	resp, err := c.do(ctx, c.buildRequest(req, false))
	if err != nil {
		c.usage.recordError()
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.usage.recordError()
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		c.usage.recordError()
		return nil, fmt.Errorf("Claude API error: %s", msg.String())
	}

	var content strings.Builder
	for _, block := range gjson.GetBytes(body, "content").Array() {
		if block.Get("type").String() == "text" {
			content.WriteString(block.Get("text").String())
		}
	}

	out := &ChatResponse{
		Content:  content.String(),
		Model:    gjson.GetBytes(body, "model").String(),
		Provider: ProviderClaude,
		Usage: Usage{
			PromptTokens:     int(gjson.GetBytes(body, "usage.input_tokens").Int()),
			CompletionTokens: int(gjson.GetBytes(body, "usage.output_tokens").Int()),
		},
		Duration: time.Since(start),
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	c.usage.record(out.Usage.TotalTokens, out.Duration)
	return out, nil
}

// Stream sends a streaming Messages request and parses the SSE event stream
func (c *ClaudeClient) Stream(ctx context.Context, req *ChatRequest, onDelta StreamHandler) (*ChatResponse, error) {
	start := time.Now()

	resp, err := c.do(ctx, c.buildRequest(req, true))
	if err != nil {
		c.usage.recordError()
		return nil, err
	}
	defer resp.Body.Close()

	out := &ChatResponse{Model: req.Model, Provider: ProviderClaude}
	var content strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		switch gjson.Get(data, "type").String() {
		case "message_start":
			if m := gjson.Get(data, "message.model").String(); m != "" {
				out.Model = m
			}
			out.Usage.PromptTokens = int(gjson.Get(data, "message.usage.input_tokens").Int())
		case "content_block_delta":
			delta := gjson.Get(data, "delta.text").String()
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
		case "message_delta":
			out.Usage.CompletionTokens = int(gjson.Get(data, "usage.output_tokens").Int())
		case "error":
			c.usage.recordError()
			return nil, fmt.Errorf("Claude stream error: %s", gjson.Get(data, "error.message").String())
		}
	}
	if err := scanner.Err(); err != nil {
		c.usage.recordError()
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	out.Content = content.String()
	out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	out.Duration = time.Since(start)
	c.usage.record(out.Usage.TotalTokens, out.Duration)
	return out, nil
}

func (c *ClaudeClient) buildRequest(req *ChatRequest, stream bool) *claudeRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	cr := &claudeRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		System:    req.System,
		Stream:    stream,
	}
	if req.Temperature > 0 {
		// Anthropic caps temperature at 1.0
		t := req.Temperature
		if t > 1 {
			t = 1
		}
		cr.Temperature = &t
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			if cr.System != "" {
				cr.System += "\n\n"
			}
			cr.System += m.Content
			continue
		}
		cr.Messages = append(cr.Messages, claudeMessage{Role: m.Role, Content: m.Content})
	}
	return cr
}

// do sends the request and maps non-200 statuses to descriptive errors
func (c *ClaudeClient) do(ctx context.Context, req *claudeRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("RATE_LIMIT: Claude API rate limit exceeded")
	case http.StatusForbidden:
		return nil, fmt.Errorf("FORBIDDEN: Claude API access denied - check API key permissions")
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("UNAUTHORIZED: invalid Claude API key")
	case http.StatusPaymentRequired:
		return nil, fmt.Errorf("QUOTA_EXCEEDED: Claude API quota exhausted")
	case 500, 502, 503, 504, 529:
		return nil, fmt.Errorf("SERVICE_ERROR: Claude service temporarily unavailable (status %d)", resp.StatusCode)
	default:
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = string(body)
		}
		return nil, fmt.Errorf("API_ERROR: Claude request failed with status %d: %s", resp.StatusCode, msg)
	}
}

// Supports reports whether model is a Claude model
func (c *ClaudeClient) Supports(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), "claude")
}

// GetProvider returns the provider identifier
func (c *ClaudeClient) GetProvider() AIProvider {
	return ProviderClaude
}

// Health sends a tiny request to check the API is reachable
func (c *ClaudeClient) Health(ctx context.Context) error {
	resp, err := c.do(ctx, &claudeRequest{
		Model:     claudeHealthModel,
		MaxTokens: 5,
		Messages:  []claudeMessage{{Role: "user", Content: "Hello"}},
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// GetUsage returns a copy of current usage statistics
func (c *ClaudeClient) GetUsage() *ProviderUsage {
	return c.usage.snapshot()
}
