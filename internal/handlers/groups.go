package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
	"github.com/Winger29/FSDP-Assignment2/internal/groups"
	"github.com/Winger29/FSDP-Assignment2/internal/logging"
	"github.com/Winger29/FSDP-Assignment2/internal/middleware"
	"github.com/Winger29/FSDP-Assignment2/internal/realtime"
)

type postGroupMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) CreateGroup(c *gin.Context) {
	var req groups.Input
	if !bind(c, &req) {
		return
	}

	group, err := h.Groups.Create(c.Request.Context(), currentUser(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, group)
}

// ListGroups lists the groups the caller belongs to
func (h *Handler) ListGroups(c *gin.Context) {
	list, err := h.Groups.List(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, list)
}

func (h *Handler) GetGroup(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	group, err := h.Groups.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, group)
}

func (h *Handler) UpdateGroup(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req groups.Input
	if !bind(c, &req) {
		return
	}

	group, err := h.Groups.Update(c.Request.Context(), currentUser(c), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, group)
}

func (h *Handler) DeleteGroup(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.Groups.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		fail(c, err)
		return
	}
	respondMessage(c, "Group deleted")
}

func (h *Handler) AddGroupMember(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req groups.AddMemberInput
	if !bind(c, &req) {
		return
	}

	member, err := h.Groups.AddMember(c.Request.Context(), currentUser(c), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, member)
}

// RemoveGroupMember removes a member; members may also remove themselves
func (h *Handler) RemoveGroupMember(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}

	if err := h.Groups.RemoveMember(c.Request.Context(), currentUser(c), id, userID); err != nil {
		fail(c, err)
		return
	}
	respondMessage(c, "Member removed")
}

// ListGroupMessages pages backwards with ?before=<message id>&limit=
func (h *Handler) ListGroupMessages(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	before, ok := queryUint(c, "before")
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = v
	}

	msgs, err := h.Groups.ListMessages(c.Request.Context(), currentUser(c), id, before, limit)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, msgs)
}

// PostGroupMessage stores a message and fans it out to connected members
func (h *Handler) PostGroupMessage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req postGroupMessageRequest
	if !bind(c, &req) {
		return
	}

	msg, err := h.Groups.PostMessage(c.Request.Context(), currentUser(c), id, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, msg)
}

// GroupSocket upgrades a group member's connection to a websocket in the
// group's room
func (h *Handler) GroupSocket(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID := currentUser(c)

	member, err := h.Groups.IsMember(c.Request.Context(), id, userID)
	if err != nil {
		fail(c, err)
		return
	}
	if !member {
		fail(c, apierr.NotFound("group"))
		return
	}

	username, _ := middleware.GetUsername(c)
	if err := h.Hub.ServeWS(c.Writer, c.Request, realtime.GroupTopic(id), userID, username); err != nil {
		// The upgrader has already written an HTTP error
		logging.L().Warn("WebSocket upgrade failed",
			zap.Uint("group_id", id),
			zap.Uint("user_id", userID),
			zap.Error(err),
		)
	}
}
