package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/Winger29/FSDP-Assignment2/internal/auth"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

// AuthResponse is returned by every endpoint that issues tokens
type AuthResponse struct {
	User   *models.User    `json:"user"`
	Tokens *auth.TokenPair `json:"tokens"`
}

// Register handles user registration
func (h *Handler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if !bind(c, &req) {
		return
	}

	user, tokens, err := h.Auth.Register(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, AuthResponse{User: user, Tokens: tokens})
}

// Login authenticates by username or email
func (h *Handler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if !bind(c, &req) {
		return
	}

	user, tokens, err := h.Auth.Login(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, AuthResponse{User: user, Tokens: tokens})
}

// RefreshToken exchanges a refresh token for a new pair
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}

	tokens, err := h.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"tokens": tokens})
}

// Logout is stateless: clients drop their tokens
func (h *Handler) Logout(c *gin.Context) {
	respondMessage(c, "Logged out successfully")
}

// OAuthProviders lists the configured external identity providers
func (h *Handler) OAuthProviders(c *gin.Context) {
	providers := []string{}
	if h.OAuth != nil {
		providers = h.OAuth.Providers()
		sort.Strings(providers)
	}
	respond(c, http.StatusOK, gin.H{"providers": providers})
}

// OAuthStart redirects to the provider consent page
func (h *Handler) OAuthStart(c *gin.Context) {
	if h.OAuth == nil {
		fail(c, auth.ErrUnknownProvider)
		return
	}
	url, err := h.OAuth.AuthURL(c.Param("provider"))
	if err != nil {
		fail(c, err)
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, url)
}

// OAuthCallback completes the code flow and returns local tokens
func (h *Handler) OAuthCallback(c *gin.Context) {
	if h.OAuth == nil {
		fail(c, auth.ErrUnknownProvider)
		return
	}
	if msg := c.Query("error"); msg != "" {
		badRequest(c, "authorization denied: "+msg)
		return
	}
	code := c.Query("code")
	if code == "" {
		badRequest(c, "code is required")
		return
	}

	user, tokens, err := h.OAuth.Callback(c.Request.Context(), c.Param("provider"), code, c.Query("state"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, AuthResponse{User: user, Tokens: tokens})
}

// GetProfile returns the authenticated user
func (h *Handler) GetProfile(c *gin.Context) {
	user, err := h.Auth.GetUser(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, user)
}

// UpdateProfile changes the authenticated user's profile
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req auth.UpdateProfileRequest
	if !bind(c, &req) {
		return
	}

	user, err := h.Auth.UpdateProfile(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, user)
}
