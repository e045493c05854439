package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	provider AIProvider
	prefix   string
	fail     map[string]error
	chunks   []string
	failMid  bool
	calls    []string
}

func (f *fakeClient) Generate(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.calls = append(f.calls, req.Model)
	if err := f.fail[req.Model]; err != nil {
		return nil, err
	}
	return &ChatResponse{Content: strings.Join(f.chunks, ""), Model: req.Model, Provider: f.provider}, nil
}

func (f *fakeClient) Stream(_ context.Context, req *ChatRequest, onDelta StreamHandler) (*ChatResponse, error) {
	f.calls = append(f.calls, req.Model)
	err := f.fail[req.Model]
	if err != nil && !f.failMid {
		return nil, err
	}
	for _, c := range f.chunks {
		if herr := onDelta(c); herr != nil {
			return nil, herr
		}
	}
	if err != nil {
		return nil, err
	}
	return &ChatResponse{Content: strings.Join(f.chunks, ""), Model: req.Model, Provider: f.provider}, nil
}

func (f *fakeClient) Supports(model string) bool   { return strings.HasPrefix(model, f.prefix) }
func (f *fakeClient) GetProvider() AIProvider      { return f.provider }
func (f *fakeClient) Health(context.Context) error { return nil }
func (f *fakeClient) GetUsage() *ProviderUsage     { return &ProviderUsage{Provider: f.provider} }

func TestRouterSelectsClientByModel(t *testing.T) {
	gpt := &fakeClient{provider: ProviderOpenAI, prefix: "gpt", chunks: []string{"from gpt"}}
	claude := &fakeClient{provider: ProviderClaude, prefix: "claude", chunks: []string{"from claude"}}
	r := NewAIRouter("gpt-4o", nil, claude, gpt)

	resp, err := r.Generate(context.Background(), &ChatRequest{Model: "claude-3-5-sonnet"})
	require.NoError(t, err)
	assert.Equal(t, ProviderClaude, resp.Provider)

	resp, err = r.Generate(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", resp.Model, "empty model uses the default")
	assert.False(t, resp.FellBack)
}

func TestRouterFallsBackOnce(t *testing.T) {
	gpt := &fakeClient{
		provider: ProviderOpenAI,
		prefix:   "gpt",
		chunks:   []string{"ok"},
		fail:     map[string]error{"gpt-4o": errors.New("boom")},
	}
	r := NewAIRouter("gpt-4o", nil, gpt)

	var got []string
	resp, err := r.Stream(context.Background(), &ChatRequest{Model: "gpt-4o"}, func(d string) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, resp.FellBack)
	assert.Equal(t, FallbackModel, resp.Model)
	assert.Equal(t, []string{"gpt-4o", FallbackModel}, gpt.calls)
	assert.Equal(t, []string{"ok"}, got)
}

func TestRouterNoFallbackAfterOutput(t *testing.T) {
	gpt := &fakeClient{
		provider: ProviderOpenAI,
		prefix:   "gpt",
		chunks:   []string{"partial"},
		failMid:  true,
		fail:     map[string]error{"gpt-4o": errors.New("connection reset")},
	}
	r := NewAIRouter("gpt-4o", nil, gpt)

	_, err := r.Stream(context.Background(), &ChatRequest{Model: "gpt-4o"}, func(string) error { return nil })
	require.Error(t, err)
	assert.Equal(t, []string{"gpt-4o"}, gpt.calls)
}

func TestRouterNoFallbackForFallbackModel(t *testing.T) {
	gpt := &fakeClient{
		provider: ProviderOpenAI,
		prefix:   "gpt",
		fail:     map[string]error{FallbackModel: errors.New("down")},
	}
	r := NewAIRouter(FallbackModel, nil, gpt)

	_, err := r.Generate(context.Background(), &ChatRequest{Model: FallbackModel})
	require.Error(t, err)
	assert.Len(t, gpt.calls, 1)
}

func TestRouterNoFallbackWhenCancelled(t *testing.T) {
	gpt := &fakeClient{
		provider: ProviderOpenAI,
		prefix:   "gpt",
		fail:     map[string]error{"gpt-4o": context.Canceled},
	}
	r := NewAIRouter("gpt-4o", nil, gpt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Generate(ctx, &ChatRequest{Model: "gpt-4o"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, gpt.calls, 1)
}

func TestRouterUnknownModelFallsBack(t *testing.T) {
	gpt := &fakeClient{provider: ProviderOpenAI, prefix: "gpt", chunks: []string{"hi"}}
	r := NewAIRouter("gpt-4o", nil, gpt)

	resp, err := r.Generate(context.Background(), &ChatRequest{Model: "claude-3-opus"})
	require.NoError(t, err)
	assert.True(t, resp.FellBack)
	assert.Equal(t, []string{FallbackModel}, gpt.calls)
}

func TestRouterBothAttemptsFail(t *testing.T) {
	gpt := &fakeClient{
		provider: ProviderOpenAI,
		prefix:   "gpt",
		fail: map[string]error{
			"gpt-4o":      errors.New("primary down"),
			FallbackModel: errors.New("fallback down"),
		},
	}
	r := NewAIRouter("gpt-4o", nil, gpt)

	_, err := r.Generate(context.Background(), &ChatRequest{Model: "gpt-4o"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary down")
	assert.Contains(t, err.Error(), "fallback down")
}

func TestNormalizeAPIKey(t *testing.T) {
	assert.Equal(t, "sk-abc", normalizeAPIKey(`  "Bearer sk-abc"  `))
	assert.Equal(t, "sk-abc", normalizeAPIKey("sk-abc\\n"))
	assert.Equal(t, "", normalizeAPIKey("   "))
}
