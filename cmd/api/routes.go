package main

import (
	"context"
	"log/slog"
	"net/http"

	"crm-platform/internal/auth"
	"crm-platform/internal/httpapi"
	"crm-platform/internal/rbac"
	"crm-platform/internal/telephony"
	"crm-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	Webhook telephony.WebhookHandler
	API     httpapi.Handlers
	AuthMW  gin.HandlerFunc
	// Ready reports whether backing stores answer; nil means always ready.
	Ready func(ctx context.Context) error
}

// newRouter builds the engine with middleware and every route.
func newRouter(log *slog.Logger, deps routeDeps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, deps)
	return r
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(c.Request.Context()); err != nil {
				logger.FromGin(c).Warn("readiness failed", "err", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhooks (public). Unknown accounts are acknowledged and dropped.
	r.POST("/webhooks/voice/status", deps.Webhook.HandleStatusCallback)

	r.POST("/v1/auth/login", deps.API.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(deps.AuthMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			orgID, _ := auth.OrgID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "org_id": orgID, "role": role})
		})

		// CALLS routes
		calls := v1.Group("/calls")
		calls.Use(httpapi.RequireOrgAndAnyRole(rbac.RoleOwner, rbac.RoleManager, rbac.RoleAgent, rbac.RoleAnalyst)...)
		{
			calls.GET("/summary", deps.API.CallsSummary)
			calls.GET("/agents", deps.API.AgentBreakdown)
			calls.GET("/:call_id", deps.API.GetCall)
			calls.GET("/:call_id/recording", deps.API.StreamRecording)
		}

		// ADMIN routes
		// Only owner/super_admin can access admin endpoints by default.
		// Hidden support role is intentionally NOT included unless explicitly desired.
		admin := v1.Group("/admin")
		admin.Use(httpapi.RequireOrgAndAnyRole(rbac.RoleOwner)...)
		{
			admin.POST("/sync/run", deps.API.RunSync)
		}
	}
}
