package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Winger29/FSDP-Assignment2/internal/agents"
)

// CreateAgent creates an agent owned by the caller
func (h *Handler) CreateAgent(c *gin.Context) {
	var req agents.CreateInput
	if !bind(c, &req) {
		return
	}

	agent, err := h.Agents.Create(c.Request.Context(), currentUser(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, agent)
}

// ListAgents lists owned and shared agents, filtered by ?scope=
func (h *Handler) ListAgents(c *gin.Context) {
	list, err := h.Agents.List(c.Request.Context(), currentUser(c), c.Query("scope"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, list)
}

func (h *Handler) GetAgent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	agent, err := h.Agents.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, agent)
}

func (h *Handler) UpdateAgent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req agents.UpdateInput
	if !bind(c, &req) {
		return
	}

	agent, err := h.Agents.Update(c.Request.Context(), currentUser(c), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, agent)
}

func (h *Handler) DeleteAgent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.Agents.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		fail(c, err)
		return
	}
	respondMessage(c, "Agent deleted")
}

// GetAgentMetrics returns the agent's rolling interaction metrics
func (h *Handler) GetAgentMetrics(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	m, err := h.Agents.GetMetrics(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, m)
}
