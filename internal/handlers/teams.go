package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Winger29/FSDP-Assignment2/internal/teams"
)

func (h *Handler) CreateTeam(c *gin.Context) {
	var req teams.Input
	if !bind(c, &req) {
		return
	}

	team, err := h.Teams.Create(c.Request.Context(), currentUser(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, team)
}

// ListTeams lists visible teams; archived ones only with ?include_archived=true
func (h *Handler) ListTeams(c *gin.Context) {
	includeArchived := c.Query("include_archived") == "true"

	list, err := h.Teams.List(c.Request.Context(), currentUser(c), includeArchived)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, list)
}

func (h *Handler) GetTeam(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	team, err := h.Teams.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, team)
}

func (h *Handler) UpdateTeam(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req teams.Input
	if !bind(c, &req) {
		return
	}

	team, err := h.Teams.Update(c.Request.Context(), currentUser(c), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, team)
}

// ArchiveTeam handles DELETE; teams are archived, never removed
func (h *Handler) ArchiveTeam(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	team, err := h.Teams.Archive(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, team)
}

func (h *Handler) RestoreTeam(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	team, err := h.Teams.Restore(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, team)
}

func (h *Handler) AddTeamMember(c *gin.Context) {
	teamID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req teams.MemberInput
	if !bind(c, &req) {
		return
	}

	member, err := h.Teams.AddMember(c.Request.Context(), currentUser(c), teamID, req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, member)
}

func (h *Handler) UpdateTeamMember(c *gin.Context) {
	teamID, ok := pathID(c, "id")
	if !ok {
		return
	}
	memberID, ok := pathID(c, "memberId")
	if !ok {
		return
	}
	var req teams.MemberUpdate
	if !bind(c, &req) {
		return
	}

	member, err := h.Teams.UpdateMember(c.Request.Context(), currentUser(c), teamID, memberID, req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, member)
}

func (h *Handler) RemoveTeamMember(c *gin.Context) {
	teamID, ok := pathID(c, "id")
	if !ok {
		return
	}
	memberID, ok := pathID(c, "memberId")
	if !ok {
		return
	}

	if err := h.Teams.RemoveMember(c.Request.Context(), currentUser(c), teamID, memberID); err != nil {
		fail(c, err)
		return
	}
	respondMessage(c, "Member removed")
}
