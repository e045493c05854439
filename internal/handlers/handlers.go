// AgentHub API Handlers
// REST, SSE and websocket endpoints over the service layer

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Winger29/FSDP-Assignment2/internal/agents"
	"github.com/Winger29/FSDP-Assignment2/internal/ai"
	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
	"github.com/Winger29/FSDP-Assignment2/internal/auth"
	"github.com/Winger29/FSDP-Assignment2/internal/chat"
	"github.com/Winger29/FSDP-Assignment2/internal/collab"
	"github.com/Winger29/FSDP-Assignment2/internal/dashboard"
	"github.com/Winger29/FSDP-Assignment2/internal/db"
	"github.com/Winger29/FSDP-Assignment2/internal/groups"
	"github.com/Winger29/FSDP-Assignment2/internal/logging"
	"github.com/Winger29/FSDP-Assignment2/internal/metrics"
	"github.com/Winger29/FSDP-Assignment2/internal/middleware"
	"github.com/Winger29/FSDP-Assignment2/internal/realtime"
	"github.com/Winger29/FSDP-Assignment2/internal/sharing"
	"github.com/Winger29/FSDP-Assignment2/internal/teams"
	"github.com/Winger29/FSDP-Assignment2/internal/uploads"
)

// Handler contains all the dependencies for API handlers
type Handler struct {
	DB        *db.Database
	AIRouter  *ai.AIRouter
	Auth      *auth.AuthService
	OAuth     *auth.OAuthService
	Agents    *agents.Service
	Chat      *chat.Service
	Teams     *teams.Service
	Tasks     *collab.TaskService
	Groups    *groups.Service
	Sharing   *sharing.Service
	Uploads   *uploads.Service
	Dashboard *dashboard.Service
	Hub       *realtime.Hub
	Metrics   *metrics.Metrics
}

// StandardResponse represents a standard API response
type StandardResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, StandardResponse{Success: true, Data: data})
}

func respondMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: message})
}

// fail maps a service error onto an error response. Unknown errors are
// logged and hidden behind a 500.
func fail(c *gin.Context, err error) {
	status, code, msg := apierr.Status(authError(err))
	if status == http.StatusInternalServerError {
		logging.L().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, StandardResponse{Success: false, Error: msg, Code: code})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, StandardResponse{
		Success: false,
		Error:   msg,
		Code:    "INVALID_REQUEST",
	})
}

// authError lifts the auth package's sentinel errors into API error kinds
func authError(err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return apierr.New(apierr.ErrUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
	case errors.Is(err, auth.ErrUserInactive):
		return apierr.New(apierr.ErrForbidden, "ACCOUNT_DISABLED", err.Error())
	case errors.Is(err, auth.ErrTokenExpired):
		return apierr.New(apierr.ErrUnauthorized, "TOKEN_EXPIRED", err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		return apierr.New(apierr.ErrUnauthorized, "INVALID_TOKEN", err.Error())
	case errors.Is(err, auth.ErrUserExists):
		return apierr.New(apierr.ErrConflict, "USER_EXISTS", "username or email is already taken")
	case errors.Is(err, auth.ErrUserNotFound):
		return apierr.NotFound("user")
	case errors.Is(err, auth.ErrUnknownProvider):
		return apierr.NotFound("oauth provider")
	case errors.Is(err, auth.ErrInvalidState):
		return apierr.New(apierr.ErrInvalid, "INVALID_OAUTH_STATE", err.Error())
	case errors.Is(err, auth.ErrNoEmail):
		return apierr.New(apierr.ErrInvalid, "OAUTH_NO_EMAIL", err.Error())
	}
	return err
}

// currentUser returns the authenticated user id; routes behind RequireAuth
// always have one
func currentUser(c *gin.Context) uint {
	id, _ := middleware.GetUserID(c)
	return id
}

// pathID parses a positive integer path parameter
func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// queryUint parses an optional unsigned query parameter; missing means 0
func queryUint(c *gin.Context, name string) (uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(v), true
}

// bind decodes the JSON body and reports malformed input as a 400
func bind(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return false
	}
	return true
}

// wantsStream reports whether the caller asked for a streamed response.
// Streaming is the default; ?stream=false returns a single JSON body.
func wantsStream(c *gin.Context) bool {
	v, err := strconv.ParseBool(c.DefaultQuery("stream", "true"))
	return err != nil || v
}
