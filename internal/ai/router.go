package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Winger29/FSDP-Assignment2/internal/logging"
	"github.com/Winger29/FSDP-Assignment2/internal/metrics"
)

// ErrNoProvider is returned when no configured client serves a model
var ErrNoProvider = errors.New("no AI provider configured for model")

// Completer is the subset of the router used by chat and task execution
type Completer interface {
	Generate(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Stream(ctx context.Context, req *ChatRequest, onDelta StreamHandler) (*ChatResponse, error)
}

// AIRouter dispatches requests to the client that serves the requested model.
// A failed call is retried once on FallbackModel, but only if nothing was
// streamed yet and the caller has not gone away.
type AIRouter struct {
	clients      []AIClient
	defaultModel string
	metrics      *metrics.Metrics

	mu          sync.RWMutex
	healthCheck map[AIProvider]bool
}

// NewAIRouter creates a router over the given clients. Order matters: the
// first client whose Supports returns true wins.
func NewAIRouter(defaultModel string, m *metrics.Metrics, clients ...AIClient) *AIRouter {
	if defaultModel == "" {
		defaultModel = FallbackModel
	}
	return &AIRouter{
		clients:      clients,
		defaultModel: defaultModel,
		metrics:      m,
		healthCheck:  make(map[AIProvider]bool),
	}
}

// DefaultModel returns the model used when an agent names none
func (r *AIRouter) DefaultModel() string {
	return r.defaultModel
}

// HasClients reports whether at least one provider is configured
func (r *AIRouter) HasClients() bool {
	return len(r.clients) > 0
}

func (r *AIRouter) clientFor(model string) (AIClient, error) {
	for _, c := range r.clients {
		if c.Supports(model) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoProvider, model)
}

// Generate runs a non-streaming completion
func (r *AIRouter) Generate(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return r.run(ctx, req, func(c AIClient, req *ChatRequest) (*ChatResponse, error) {
		return c.Generate(ctx, req)
	}, func() bool { return false })
}

// Stream runs a streaming completion
func (r *AIRouter) Stream(ctx context.Context, req *ChatRequest, onDelta StreamHandler) (*ChatResponse, error) {
	var emitted bool
	wrapped := func(delta string) error {
		emitted = true
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	}

	return r.run(ctx, req, func(c AIClient, req *ChatRequest) (*ChatResponse, error) {
		return c.Stream(ctx, req, wrapped)
	}, func() bool { return emitted })
}

func (r *AIRouter) run(
	ctx context.Context,
	req *ChatRequest,
	call func(AIClient, *ChatRequest) (*ChatResponse, error),
	emitted func() bool,
) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = r.defaultModel
	}

	resp, err := r.attempt(req, call)
	if err == nil {
		return resp, nil
	}

	if !r.shouldFallback(ctx, req.Model, err, emitted()) {
		return nil, err
	}

	logging.L().Warn("AI request failed, retrying with fallback model",
		zap.String("model", req.Model),
		zap.String("fallback", FallbackModel),
		zap.Error(err),
	)
	if r.metrics != nil {
		r.metrics.RecordAIFallback(req.Model, FallbackModel)
	}

	retry := *req
	retry.Model = FallbackModel
	resp, fbErr := r.attempt(&retry, call)
	if fbErr != nil {
		return nil, fmt.Errorf("%w (fallback %s: %v)", err, FallbackModel, fbErr)
	}
	resp.FellBack = true
	return resp, nil
}

func (r *AIRouter) attempt(req *ChatRequest, call func(AIClient, *ChatRequest) (*ChatResponse, error)) (*ChatResponse, error) {
	client, err := r.clientFor(req.Model)
	if err != nil {
		return nil, err
	}

	resp, err := call(client, req)
	if r.metrics != nil {
		if err != nil {
			r.metrics.RecordAIRequest(string(client.GetProvider()), req.Model, false, 0, 0, 0)
		} else {
			r.metrics.RecordAIRequest(string(client.GetProvider()), req.Model, true, resp.Duration,
				resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}
	}
	return resp, err
}

// shouldFallback is true only for the first failure of a non-fallback model
// that produced no output and was not caused by the caller cancelling
func (r *AIRouter) shouldFallback(ctx context.Context, model string, err error, emitted bool) bool {
	if emitted || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !strings.EqualFold(model, FallbackModel)
}

// CheckHealth probes every provider and records the result
func (r *AIRouter) CheckHealth(ctx context.Context) map[AIProvider]bool {
	result := make(map[AIProvider]bool, len(r.clients))
	for _, c := range r.clients {
		healthy := c.Health(ctx) == nil
		result[c.GetProvider()] = healthy
		if r.metrics != nil {
			r.metrics.SetAIProviderHealth(string(c.GetProvider()), healthy)
		}
		if !healthy {
			logging.L().Warn("AI provider health check failed", zap.String("provider", string(c.GetProvider())))
		}
	}

	r.mu.Lock()
	r.healthCheck = result
	r.mu.Unlock()
	return result
}

// GetHealthStatus returns the last recorded health of each provider
func (r *AIRouter) GetHealthStatus() map[AIProvider]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[AIProvider]bool, len(r.healthCheck))
	for k, v := range r.healthCheck {
		out[k] = v
	}
	return out
}

// GetProviderUsage returns usage for every configured provider
func (r *AIRouter) GetProviderUsage() map[AIProvider]*ProviderUsage {
	usage := make(map[AIProvider]*ProviderUsage, len(r.clients))
	for _, c := range r.clients {
		usage[c.GetProvider()] = c.GetUsage()
	}
	return usage
}
