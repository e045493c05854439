package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Winger29/FSDP-Assignment2/internal/sharing"
)

// CreateShare offers a resource to a user, or to every other member of a group
func (h *Handler) CreateShare(c *gin.Context) {
	var req sharing.ShareInput
	if !bind(c, &req) {
		return
	}

	reqs, err := h.Sharing.Share(c.Request.Context(), currentUser(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, reqs)
}

// IncomingShares lists requests sent to the caller, filtered by ?status=
func (h *Handler) IncomingShares(c *gin.Context) {
	reqs, err := h.Sharing.Incoming(c.Request.Context(), currentUser(c), c.Query("status"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, reqs)
}

func (h *Handler) OutgoingShares(c *gin.Context) {
	reqs, err := h.Sharing.Outgoing(c.Request.Context(), currentUser(c), c.Query("status"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, reqs)
}

func (h *Handler) AcceptShare(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	req, err := h.Sharing.Accept(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, req)
}

func (h *Handler) RejectShare(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	req, err := h.Sharing.Reject(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, req)
}

// RevokeShare withdraws a share the caller sent, removing granted access
func (h *Handler) RevokeShare(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.Sharing.Revoke(c.Request.Context(), currentUser(c), id); err != nil {
		fail(c, err)
		return
	}
	respondMessage(c, "Share revoked")
}

// SharedWithMe lists every resource the caller has been granted
func (h *Handler) SharedWithMe(c *gin.Context) {
	list, err := h.Sharing.SharedWithMe(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, list)
}

func (h *Handler) GetDashboard(c *gin.Context) {
	summary, err := h.Dashboard.Summary(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, summary)
}
