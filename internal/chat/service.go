// Package chat implements conversations between a user and one agent.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/internal/agents"
	"github.com/Winger29/FSDP-Assignment2/internal/ai"
	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
	"github.com/Winger29/FSDP-Assignment2/internal/logging"
	"github.com/Winger29/FSDP-Assignment2/internal/metrics"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

const (
	// HistoryLimit is how many recent messages are sent to the model
	HistoryLimit     = 20
	maxContentLength = 32000
	maxTitleLength   = 60
)

// Stream event names
const (
	EventMessageStart = "message_start"
	EventToken        = "token"
	EventMessageEnd   = "message_end"
	EventError        = "error"
)

var ErrInvalidFeedback = apierr.New(apierr.ErrInvalid, "INVALID_FEEDBACK", "feedback must be -1, 0 or 1")

// AttachmentResolver loads the caller's uploads by id
type AttachmentResolver interface {
	Attachments(ctx context.Context, ownerID uint, ids []uint) ([]models.Upload, error)
}

// Emitter receives stream events. A non-nil error stops the response.
type Emitter func(event string, data interface{}) error

// Service implements conversations and messaging
type Service struct {
	db      *gorm.DB
	agents  *agents.Service
	uploads AttachmentResolver
	llm     ai.Completer
	metrics *metrics.Metrics
}

// NewService creates a chat service
func NewService(db *gorm.DB, agentSvc *agents.Service, uploads AttachmentResolver, llm ai.Completer, m *metrics.Metrics) *Service {
	return &Service{db: db, agents: agentSvc, uploads: uploads, llm: llm, metrics: m}
}

// CreateConversation starts a conversation with an agent the user may use
func (s *Service) CreateConversation(ctx context.Context, userID, agentID uint, title string) (*models.Conversation, error) {
	agent, err := s.agents.GetForUse(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	conv := &models.Conversation{
		UserID:  userID,
		AgentID: agent.ID,
		Title:   strings.TrimSpace(title),
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, err
	}
	conv.Agent = agent
	return conv, nil
}

// ListConversations returns the user's conversations, most recent first.
// agentID 0 lists all of them.
func (s *Service) ListConversations(ctx context.Context, userID, agentID uint) ([]models.Conversation, error) {
	q := s.db.WithContext(ctx).Preload("Agent").Where("user_id = ?", userID)
	if agentID != 0 {
		q = q.Where("agent_id = ?", agentID)
	}
	convs := []models.Conversation{}
	err := q.Order("updated_at DESC").Find(&convs).Error
	return convs, err
}

// GetConversation returns one of the user's conversations
func (s *Service) GetConversation(ctx context.Context, userID, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).Preload("Agent").
		Where("id = ? AND user_id = ?", id, userID).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("conversation")
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// RenameConversation sets a conversation's title
func (s *Service) RenameConversation(ctx context.Context, userID, id uint, title string) (*models.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apierr.Invalidf("title is required")
	}
	conv, err := s.GetConversation(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(conv).Update("title", title).Error; err != nil {
		return nil, err
	}
	conv.Title = title
	return conv, nil
}

// DeleteConversation soft-deletes a conversation
func (s *Service) DeleteConversation(ctx context.Context, userID, id uint) error {
	conv, err := s.GetConversation(ctx, userID, id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(conv).Error
}

// ListMessages returns a conversation's messages in creation order
func (s *Service) ListMessages(ctx context.Context, userID, convID uint) ([]models.Message, error) {
	if _, err := s.GetConversation(ctx, userID, convID); err != nil {
		return nil, err
	}
	msgs := []models.Message{}
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	return msgs, err
}

// SendInput is a new user message
type SendInput struct {
	Content     string `json:"content"`
	Attachments []uint `json:"attachments"`
}

// SendResult holds both sides of an exchange
type SendResult struct {
	UserMessage      *models.Message `json:"user_message"`
	AssistantMessage *models.Message `json:"assistant_message"`
	FellBack         bool            `json:"fell_back,omitempty"`
}

// SendMessage stores the user's message, asks the agent for a reply and
// stores it. With a nil emit the reply is generated in one call; otherwise
// it is streamed through emit as message_start, token and message_end.
func (s *Service) SendMessage(ctx context.Context, userID, convID uint, in SendInput, emit Emitter) (*SendResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" && len(in.Attachments) == 0 {
		return nil, apierr.Invalidf("content is required")
	}
	if len([]rune(content)) > maxContentLength {
		return nil, apierr.Invalidf("content must be at most %d characters", maxContentLength)
	}

	conv, err := s.GetConversation(ctx, userID, convID)
	if err != nil {
		return nil, err
	}
	agent, err := s.agents.GetForUse(ctx, userID, conv.AgentID)
	if err != nil {
		return nil, err
	}

	var attachments []models.Upload
	if len(in.Attachments) > 0 && s.uploads != nil {
		attachments, err = s.uploads.Attachments(ctx, userID, in.Attachments)
		if err != nil {
			return nil, err
		}
	}

	userMsg := &models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        content,
		Attachments:    in.Attachments,
	}
	if userMsg.Attachments == nil {
		userMsg.Attachments = []uint{}
	}
	if err := s.db.WithContext(ctx).Create(userMsg).Error; err != nil {
		return nil, err
	}
	s.touch(ctx, conv, content)
	if s.metrics != nil {
		s.metrics.RecordChatMessage(models.RoleUser)
	}

	result := &SendResult{UserMessage: userMsg}
	if emit != nil {
		if err := emit(EventMessageStart, map[string]interface{}{"conversation_id": conv.ID, "user_message": userMsg}); err != nil {
			return result, err
		}
	}

	req, err := s.buildRequest(ctx, agent, userMsg, attachments)
	if err != nil {
		return result, err
	}

	start := time.Now()
	var resp *ai.ChatResponse
	if emit == nil {
		resp, err = s.llm.Generate(ctx, req)
	} else {
		resp, err = s.llm.Stream(ctx, req, func(delta string) error {
			return emit(EventToken, map[string]interface{}{"delta": delta})
		})
	}
	elapsed := time.Since(start)

	if recErr := s.agents.RecordInteraction(context.WithoutCancel(ctx), agent.ID, elapsed, err == nil); recErr != nil {
		logging.L().Warn("Failed to record agent interaction", zap.Uint("agent_id", agent.ID), zap.Error(recErr))
	}
	if err != nil {
		logging.L().Error("Chat completion failed",
			zap.Uint("conversation_id", conv.ID),
			zap.Uint("agent_id", agent.ID),
			zap.String("model", req.Model),
			zap.Error(err),
		)
		return result, fmt.Errorf("generate reply: %w", err)
	}

	assistant := &models.Message{
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        resp.Content,
		Attachments:    []uint{},
		Model:          resp.Model,
		TokensUsed:     resp.Usage.TotalTokens,
		ResponseTimeMs: elapsed.Milliseconds(),
	}
	// The reply is stored even if the client went away mid-stream
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(assistant).Error; err != nil {
		return result, err
	}
	s.touch(context.WithoutCancel(ctx), conv, "")
	if s.metrics != nil {
		s.metrics.RecordChatMessage(models.RoleAssistant)
	}

	result.AssistantMessage = assistant
	result.FellBack = resp.FellBack
	if emit != nil {
		if err := emit(EventMessageEnd, map[string]interface{}{"message": assistant, "fell_back": resp.FellBack}); err != nil {
			return result, err
		}
	}
	return result, nil
}

// touch bumps last_message_at and titles an untitled conversation from its
// first message
func (s *Service) touch(ctx context.Context, conv *models.Conversation, firstContent string) {
	now := time.Now().UTC()
	updates := map[string]interface{}{"last_message_at": now}
	if conv.Title == "" && firstContent != "" {
		conv.Title = AutoTitle(firstContent)
		updates["title"] = conv.Title
	}
	conv.LastMessageAt = &now
	if err := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", conv.ID).Updates(updates).Error; err != nil {
		logging.L().Warn("Failed to update conversation", zap.Uint("conversation_id", conv.ID), zap.Error(err))
	}
}

// AutoTitle derives a conversation title from the first line of a message
func AutoTitle(content string) string {
	line := strings.TrimSpace(content)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.Join(strings.Fields(line), " ")
	runes := []rune(line)
	if len(runes) <= maxTitleLength {
		return line
	}
	return strings.TrimSpace(string(runes[:maxTitleLength-3])) + "..."
}

// buildRequest assembles the agent's system prompt, the most recent history
// and the text of any attachments on the new message
func (s *Service) buildRequest(ctx context.Context, agent *models.Agent, current *models.Message, attachments []models.Upload) (*ai.ChatRequest, error) {
	var recent []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND role IN ?", current.ConversationID, []string{models.RoleUser, models.RoleAssistant}).
		Order("id DESC").
		Limit(HistoryLimit).
		Find(&recent).Error
	if err != nil {
		return nil, err
	}

	messages := make([]ai.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		text := m.Content
		if m.ID == current.ID {
			text = withAttachments(text, attachments)
		}
		messages = append(messages, ai.Message{Role: m.Role, Content: text})
	}

	return &ai.ChatRequest{
		Model:       agent.Model,
		System:      agent.SystemPrompt,
		Messages:    messages,
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
	}, nil
}

func withAttachments(content string, attachments []models.Upload) string {
	if len(attachments) == 0 {
		return content
	}
	var b strings.Builder
	b.WriteString(content)
	for _, a := range attachments {
		b.WriteString("\n\n")
		if a.TextContent == "" {
			fmt.Fprintf(&b, "[Attachment: %s (%s), content not available as text]", a.FileName, a.ContentType)
			continue
		}
		fmt.Fprintf(&b, "[Attachment: %s]\n%s", a.FileName, a.TextContent)
	}
	return b.String()
}

// SetFeedback records a user's rating of an assistant message
func (s *Service) SetFeedback(ctx context.Context, userID, messageID uint, value int) (*models.Message, error) {
	if !models.ValidFeedback(value) {
		return nil, ErrInvalidFeedback
	}

	var msg models.Message
	err := s.db.WithContext(ctx).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id AND conversations.deleted_at IS NULL").
		Where("messages.id = ? AND conversations.user_id = ?", messageID, userID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("message")
	}
	if err != nil {
		return nil, err
	}
	if msg.Role != models.RoleAssistant {
		return nil, apierr.Invalidf("only assistant messages can be rated")
	}

	previous := msg.Feedback
	if previous == value {
		return &msg, nil
	}
	if err := s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", msg.ID).Update("feedback", value).Error; err != nil {
		return nil, err
	}
	msg.Feedback = value

	var conv models.Conversation
	if err := s.db.WithContext(ctx).Select("id", "agent_id").First(&conv, msg.ConversationID).Error; err != nil {
		return nil, err
	}
	if err := s.agents.RecordFeedback(ctx, conv.AgentID, previous, value); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordFeedback(value)
	}
	return &msg, nil
}
