package main

import (
	"tablecall/internal/httpapi"
	"tablecall/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes declares the whole HTTP surface in one place: which
// paths exist, which are public, and which role gate sits in front of
// each group. No business logic here; handlers delegate to internal
// packages.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhook (public; gated by the shared token when configured).
	r.POST("/webhooks/dinodial/call-result", h.CallResult)

	// Token issuance is public; everything else under /v1 is not.
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/refresh", h.Refresh)

	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", h.Me)

		// Read surface: hosts work the floor and need to see state.
		view := v1.Group("/customers")
		view.Use(rbac.RequireAnyRole(rbac.RoleManager, rbac.RoleHost))
		{
			view.GET("", h.ListCustomers)
			view.GET("/:customer_id", h.GetCustomer)
			view.GET("/:customer_id/journal", h.CustomerJournal)
		}

		// Write surface: managers run the outreach.
		manage := v1.Group("/customers")
		manage.Use(rbac.RequireAnyRole(rbac.RoleManager))
		{
			manage.POST("", h.CreateCustomer)
			manage.PATCH("/:customer_id", h.UpdateCustomer)
			manage.POST("/:customer_id/call", h.TriggerCall)
			manage.GET("/:customer_id/recording", h.Recording)
		}

		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleManager))
		{
			calls.GET("", h.ListCalls)
			calls.GET("/:call_id", h.CallDetail)
		}

		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleManager))
		{
			reports.GET("/outreach", h.OutreachReport)
		}
	}
}
