// AgentHub System Handlers
// Health checks and admin system information

package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

const serviceVersion = "1.0.0"

var startTime = time.Now()

// Health is the liveness probe; it never touches dependencies
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": serviceVersion,
		"uptime":  time.Since(startTime).Round(time.Second).String(),
	})
}

// Ready pings the database and reports LLM provider health
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	providers := gin.H{}
	healthyProviders := 0
	if h.AIRouter != nil {
		for provider, healthy := range h.AIRouter.GetHealthStatus() {
			providers[string(provider)] = healthy
			if healthy {
				healthyProviders++
			}
		}
	}

	if err := h.DB.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "unhealthy",
			"database":     "unreachable",
			"error":        "database connection failed",
			"ai_providers": providers,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "ready",
		"database":          "connected",
		"ai_providers":      providers,
		"healthy_providers": healthyProviders,
		"total_providers":   len(providers),
	})
}

// GetSystemInfo returns runtime, database, realtime and provider statistics
func (h *Handler) GetSystemInfo(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	info := gin.H{
		"service": gin.H{
			"name":    "AgentHub",
			"version": serviceVersion,
			"uptime":  time.Since(startTime).String(),
		},
		"runtime": gin.H{
			"go_version":   runtime.Version(),
			"goroutines":   runtime.NumGoroutine(),
			"cpu_count":    runtime.NumCPU(),
			"memory_alloc": memStats.Alloc,
			"memory_sys":   memStats.Sys,
			"gc_runs":      memStats.NumGC,
		},
		"database": h.DB.GetStats(),
	}

	if h.Hub != nil {
		rooms, clients := h.Hub.Stats()
		info["realtime"] = gin.H{"active_rooms": rooms, "active_connections": clients}
	}
	if h.AIRouter != nil {
		info["ai"] = gin.H{
			"default_model":   h.AIRouter.DefaultModel(),
			"provider_health": h.AIRouter.GetHealthStatus(),
			"provider_usage":  h.AIRouter.GetProviderUsage(),
		}
	}

	respond(c, http.StatusOK, info)
}
