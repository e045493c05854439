package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/internal/agents"
	"github.com/Winger29/FSDP-Assignment2/internal/ai"
	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
	"github.com/Winger29/FSDP-Assignment2/internal/sharing"
	"github.com/Winger29/FSDP-Assignment2/internal/testutil"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

type scriptedLLM struct {
	reply    string
	err      error
	requests []*ai.ChatRequest
}

func (s *scriptedLLM) Generate(_ context.Context, req *ai.ChatRequest) (*ai.ChatResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &ai.ChatResponse{Content: s.reply, Model: req.Model, Usage: ai.Usage{TotalTokens: 42}, Duration: time.Millisecond}, nil
}

func (s *scriptedLLM) Stream(ctx context.Context, req *ai.ChatRequest, onDelta ai.StreamHandler) (*ai.ChatResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	for _, word := range strings.SplitAfter(s.reply, " ") {
		if err := onDelta(word); err != nil {
			return nil, err
		}
	}
	return &ai.ChatResponse{Content: s.reply, Model: req.Model, Usage: ai.Usage{TotalTokens: 42}}, nil
}

type fakeUploads struct {
	uploads map[uint]models.Upload
}

func (f *fakeUploads) Attachments(_ context.Context, _ uint, ids []uint) ([]models.Upload, error) {
	var out []models.Upload
	for _, id := range ids {
		u, ok := f.uploads[id]
		if !ok {
			return nil, apierr.NotFound("upload")
		}
		out = append(out, u)
	}
	return out, nil
}

type fixture struct {
	svc   *Service
	db    *gorm.DB
	llm   *scriptedLLM
	user  *models.User
	agent *models.Agent
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	c := testutil.NewCache(t)
	sh := sharing.NewService(db, c, nil)
	agentSvc := agents.NewService(db, c, sh, "gpt-4o")
	llm := &scriptedLLM{reply: "Hello there friend"}
	uploads := &fakeUploads{uploads: map[uint]models.Upload{
		7: {ID: 7, FileName: "notes.txt", ContentType: "text/plain", TextContent: "remember the milk"},
		8: {ID: 8, FileName: "photo.png", ContentType: "image/png"},
	}}

	user := testutil.CreateUser(t, db, "alice")
	agent := testutil.CreateAgent(t, db, user.ID, "helper")
	return &fixture{
		svc:   NewService(db, agentSvc, uploads, llm, nil),
		db:    db,
		llm:   llm,
		user:  user,
		agent: agent,
	}
}

func TestSendMessageStreams(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	conv, err := f.svc.CreateConversation(ctx, f.user.ID, f.agent.ID, "")
	require.NoError(t, err)

	var events []string
	var tokens []string
	emit := func(event string, data interface{}) error {
		events = append(events, event)
		if event == EventToken {
			tokens = append(tokens, data.(map[string]interface{})["delta"].(string))
		}
		return nil
	}

	res, err := f.svc.SendMessage(ctx, f.user.ID, conv.ID, SendInput{
		Content:     "Summarise my notes\nplease",
		Attachments: []uint{7, 8},
	}, emit)
	require.NoError(t, err)

	assert.Equal(t, EventMessageStart, events[0])
	assert.Equal(t, EventMessageEnd, events[len(events)-1])
	assert.Equal(t, "Hello there friend", strings.Join(tokens, ""))
	require.NotNil(t, res.AssistantMessage)
	assert.Equal(t, models.RoleAssistant, res.AssistantMessage.Role)
	assert.Equal(t, 42, res.AssistantMessage.TokensUsed)

	require.Len(t, f.llm.requests, 1)
	req := f.llm.requests[0]
	assert.Equal(t, f.agent.SystemPrompt, req.System)
	assert.Equal(t, "gpt-4o", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "remember the milk")
	assert.Contains(t, req.Messages[0].Content, "photo.png")

	got, err := f.svc.GetConversation(ctx, f.user.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Summarise my notes", got.Title)
	assert.NotNil(t, got.LastMessageAt)

	msgs, err := f.svc.ListMessages(ctx, f.user.ID, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []uint{7, 8}, msgs[0].Attachments)

	var agent models.Agent
	require.NoError(t, f.db.First(&agent, f.agent.ID).Error)
	assert.Equal(t, int64(1), agent.InteractionCount)
	assert.Equal(t, int64(1), agent.SuccessCount)
}

func TestHistoryIsCapped(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	conv, err := f.svc.CreateConversation(ctx, f.user.ID, f.agent.ID, "long")
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		_, err := f.svc.SendMessage(ctx, f.user.ID, conv.ID, SendInput{Content: "ping"}, nil)
		require.NoError(t, err)
	}

	last := f.llm.requests[len(f.llm.requests)-1]
	assert.Len(t, last.Messages, HistoryLimit)
	assert.Equal(t, models.RoleUser, last.Messages[len(last.Messages)-1].Role)

	got, err := f.svc.GetConversation(ctx, f.user.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "long", got.Title, "explicit titles are kept")
}

func TestSendMessageFailureRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.llm.err = errors.New("provider down")

	conv, err := f.svc.CreateConversation(ctx, f.user.ID, f.agent.ID, "")
	require.NoError(t, err)

	res, err := f.svc.SendMessage(ctx, f.user.ID, conv.ID, SendInput{Content: "hi"}, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Nil(t, res.AssistantMessage)

	var agent models.Agent
	require.NoError(t, f.db.First(&agent, f.agent.ID).Error)
	assert.Equal(t, int64(1), agent.FailureCount)

	_, err = f.svc.SendMessage(ctx, f.user.ID, conv.ID, SendInput{Content: "   "}, nil)
	assert.ErrorIs(t, err, apierr.ErrInvalid)
}

func TestFeedbackValues(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	conv, err := f.svc.CreateConversation(ctx, f.user.ID, f.agent.ID, "")
	require.NoError(t, err)
	res, err := f.svc.SendMessage(ctx, f.user.ID, conv.ID, SendInput{Content: "hi"}, nil)
	require.NoError(t, err)
	reply := res.AssistantMessage.ID

	for _, bad := range []int{2, -2, 10} {
		_, err := f.svc.SetFeedback(ctx, f.user.ID, reply, bad)
		assert.ErrorIs(t, err, ErrInvalidFeedback, "value %d", bad)
	}

	_, err = f.svc.SetFeedback(ctx, f.user.ID, res.UserMessage.ID, 1)
	assert.ErrorIs(t, err, apierr.ErrInvalid)

	msg, err := f.svc.SetFeedback(ctx, f.user.ID, reply, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, msg.Feedback)

	_, err = f.svc.SetFeedback(ctx, f.user.ID, reply, -1)
	require.NoError(t, err)

	var agent models.Agent
	require.NoError(t, f.db.First(&agent, f.agent.ID).Error)
	assert.Equal(t, int64(0), agent.PositiveFeedback)
	assert.Equal(t, int64(1), agent.NegativeFeedback)

	other := testutil.CreateUser(t, f.db, "bob")
	_, err = f.svc.SetFeedback(ctx, other.ID, reply, 1)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestAutoTitle(t *testing.T) {
	assert.Equal(t, "Hello world", AutoTitle("  Hello   world  "))
	assert.Equal(t, "First line", AutoTitle("First line\nsecond line"))

	long := AutoTitle(strings.Repeat("word ", 40))
	assert.LessOrEqual(t, len([]rune(long)), maxTitleLength)
	assert.True(t, strings.HasSuffix(long, "..."))
}
