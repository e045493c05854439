package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/Winger29/FSDP-Assignment2/internal/metrics"
	"github.com/Winger29/FSDP-Assignment2/internal/middleware"
)

// RouterConfig holds the HTTP settings the router needs
type RouterConfig struct {
	AllowedOrigins     []string
	RateLimitPerMinute int
	EnableMetrics      bool
	Production         bool
}

// NewRouter builds the gin engine with every route and the middleware chain
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	if cfg.EnableMetrics {
		router.Use(metrics.PrometheusMiddleware())
		router.GET("/metrics", metrics.PrometheusHandler())
	}

	router.GET("/health", h.Health)
	router.GET("/health/ready", h.Ready)

	if cfg.RateLimitPerMinute > 0 {
		burst := cfg.RateLimitPerMinute / 4
		if burst < 10 {
			burst = 10
		}
		router.Use(middleware.RateLimit(cfg.RateLimitPerMinute, burst))
	}

	// Browsers cannot always set headers on streaming requests, so the SSE and
	// websocket routes also take the token as ?token=
	requireAuth := middleware.RequireAuth(h.Auth,
		"GET /api/tasks/:id/events",
		"POST /api/tasks/:id/execute",
		"POST /api/conversations/:id/messages",
		"GET /ws/groups/:id",
	)

	api := router.Group("/api")
	{
		// Authentication routes (no auth required, but rate limited)
		authGroup := api.Group("/auth")
		authGroup.Use(middleware.AuthRateLimit())
		{
			authGroup.POST("/register", h.Register)
			authGroup.POST("/login", h.Login)
			authGroup.POST("/refresh", h.RefreshToken)
			authGroup.POST("/logout", h.Logout)
			authGroup.GET("/oauth/providers", h.OAuthProviders)
			authGroup.GET("/oauth/:provider", h.OAuthStart)
			authGroup.GET("/oauth/:provider/callback", h.OAuthCallback)
		}

		protected := api.Group("")
		protected.Use(requireAuth)
		{
			protected.GET("/users/me", h.GetProfile)
			protected.PUT("/users/me", h.UpdateProfile)

			agentsGroup := protected.Group("/agents")
			{
				agentsGroup.POST("", h.CreateAgent)
				agentsGroup.GET("", h.ListAgents)
				agentsGroup.GET("/:id", h.GetAgent)
				agentsGroup.PUT("/:id", h.UpdateAgent)
				agentsGroup.DELETE("/:id", h.DeleteAgent)
				agentsGroup.GET("/:id/metrics", h.GetAgentMetrics)
			}

			conversations := protected.Group("/conversations")
			{
				conversations.POST("", h.CreateConversation)
				conversations.GET("", h.ListConversations)
				conversations.GET("/:id", h.GetConversation)
				conversations.PUT("/:id", h.RenameConversation)
				conversations.DELETE("/:id", h.DeleteConversation)
				conversations.GET("/:id/messages", h.ListMessages)
				conversations.POST("/:id/messages", h.SendMessage)
			}
			protected.PUT("/messages/:id/feedback", h.SetFeedback)

			teamsGroup := protected.Group("/teams")
			{
				teamsGroup.POST("", h.CreateTeam)
				teamsGroup.GET("", h.ListTeams)
				teamsGroup.GET("/:id", h.GetTeam)
				teamsGroup.PUT("/:id", h.UpdateTeam)
				teamsGroup.DELETE("/:id", h.ArchiveTeam)
				teamsGroup.POST("/:id/restore", h.RestoreTeam)
				teamsGroup.POST("/:id/members", h.AddTeamMember)
				teamsGroup.PUT("/:id/members/:memberId", h.UpdateTeamMember)
				teamsGroup.DELETE("/:id/members/:memberId", h.RemoveTeamMember)
				teamsGroup.POST("/:id/tasks", h.CreateTask)
				teamsGroup.GET("/:id/tasks", h.ListTeamTasks)
			}

			tasks := protected.Group("/tasks")
			{
				tasks.GET("/:id", h.GetTask)
				tasks.DELETE("/:id", h.DeleteTask)
				tasks.POST("/:id/execute", h.ExecuteTask)
				tasks.GET("/:id/events", h.TaskEvents)
				tasks.POST("/:id/versions", h.CreateTaskVersion)
				tasks.GET("/:id/versions", h.ListTaskVersions)
			}

			uploadsGroup := protected.Group("/uploads")
			{
				uploadsGroup.POST("", h.CreateUpload)
				uploadsGroup.GET("", h.ListUploads)
				uploadsGroup.GET("/:id", h.GetUpload)
				uploadsGroup.GET("/:id/download", h.DownloadUpload)
				uploadsGroup.DELETE("/:id", h.DeleteUpload)
			}

			groupsGroup := protected.Group("/groups")
			{
				groupsGroup.POST("", h.CreateGroup)
				groupsGroup.GET("", h.ListGroups)
				groupsGroup.GET("/:id", h.GetGroup)
				groupsGroup.PUT("/:id", h.UpdateGroup)
				groupsGroup.DELETE("/:id", h.DeleteGroup)
				groupsGroup.POST("/:id/members", h.AddGroupMember)
				groupsGroup.DELETE("/:id/members/:userId", h.RemoveGroupMember)
				groupsGroup.GET("/:id/messages", h.ListGroupMessages)
				groupsGroup.POST("/:id/messages", h.PostGroupMessage)
			}

			shares := protected.Group("/shares")
			{
				shares.POST("", h.CreateShare)
				shares.GET("/incoming", h.IncomingShares)
				shares.GET("/outgoing", h.OutgoingShares)
				shares.POST("/:id/accept", h.AcceptShare)
				shares.POST("/:id/reject", h.RejectShare)
				shares.DELETE("/:id", h.RevokeShare)
			}
			protected.GET("/shared", h.SharedWithMe)
			protected.GET("/dashboard", h.GetDashboard)

			admin := protected.Group("/admin")
			admin.Use(middleware.RequireRole("admin"))
			{
				admin.GET("/system", h.GetSystemInfo)
			}
		}
	}

	router.GET("/ws/groups/:id", requireAuth, h.GroupSocket)

	return router
}
