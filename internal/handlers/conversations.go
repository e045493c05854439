package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Winger29/FSDP-Assignment2/internal/chat"
)

type createConversationRequest struct {
	AgentID uint   `json:"agent_id" binding:"required"`
	Title   string `json:"title"`
}

type renameConversationRequest struct {
	Title string `json:"title" binding:"required"`
}

type feedbackRequest struct {
	Value *int `json:"value" binding:"required"`
}

// CreateConversation starts a conversation with an agent the caller may use
func (h *Handler) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if !bind(c, &req) {
		return
	}

	conv, err := h.Chat.CreateConversation(c.Request.Context(), currentUser(c), req.AgentID, req.Title)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, conv)
}

// ListConversations lists the caller's conversations, optionally for one agent
func (h *Handler) ListConversations(c *gin.Context) {
	agentID, ok := queryUint(c, "agent_id")
	if !ok {
		return
	}

	list, err := h.Chat.ListConversations(c.Request.Context(), currentUser(c), agentID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, list)
}

func (h *Handler) GetConversation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	conv, err := h.Chat.GetConversation(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, conv)
}

func (h *Handler) RenameConversation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req renameConversationRequest
	if !bind(c, &req) {
		return
	}

	conv, err := h.Chat.RenameConversation(c.Request.Context(), currentUser(c), id, req.Title)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, conv)
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.Chat.DeleteConversation(c.Request.Context(), currentUser(c), id); err != nil {
		fail(c, err)
		return
	}
	respondMessage(c, "Conversation deleted")
}

func (h *Handler) ListMessages(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	msgs, err := h.Chat.ListMessages(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, msgs)
}

// SendMessage posts a user message and streams the agent's reply as SSE
// events message_start, token and message_end. With ?stream=false the whole
// exchange is returned as one JSON body.
func (h *Handler) SendMessage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req chat.SendInput
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	if !wantsStream(c) {
		result, err := h.Chat.SendMessage(ctx, currentUser(c), id, req, nil)
		if err != nil {
			fail(c, err)
			return
		}
		respond(c, http.StatusCreated, result)
		return
	}

	if h.Metrics != nil {
		defer h.Metrics.StreamOpened("chat")()
	}
	stream := newEventStream(c)
	if _, err := h.Chat.SendMessage(ctx, currentUser(c), id, req, stream.Send); err != nil {
		stream.Fail(err)
	}
}

// SetFeedback rates an assistant message with -1, 0 or 1
func (h *Handler) SetFeedback(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req feedbackRequest
	if !bind(c, &req) {
		return
	}

	msg, err := h.Chat.SetFeedback(c.Request.Context(), currentUser(c), id, *req.Value)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, msg)
}
