package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-invoicing/internal/middleware"
)

// RegisterRoutes mounts the v1 API on router. Role checks for invoice
// actions live in the services so background agents go through the same
// rules; only user management is gated here.
func RegisterRoutes(router *gin.Engine, h *Handlers, jwtSecret string) {
	v1 := router.Group("/api/v1")
	{
		// Health check (public)
		v1.GET("/health", h.Health.Index)

		// Authentication (public)
		v1.POST("/auth/login", h.Auth.Login)

		// Protected routes (requires authentication)
		protected := v1.Group("")
		protected.Use(middleware.Auth(jwtSecret))
		{
			// User management (admin only)
			admin := protected.Group("/users")
			admin.Use(middleware.RequireAdmin())
			{
				admin.GET("", h.User.Index)
				admin.POST("", h.User.Create)
				admin.GET("/:user_id", h.User.Show)
			}

			// Contracts and work events
			contracts := protected.Group("/contracts")
			{
				contracts.GET("", h.Contract.Index)
				contracts.POST("", h.Contract.Create)
				contracts.GET("/:contract_id", h.Contract.Show)
				contracts.PUT("/:contract_id/clauses", h.Contract.ReviseClauses)
				contracts.GET("/:contract_id/clauses/history", h.Contract.ClauseHistory)
				contracts.GET("/:contract_id/work_events", h.WorkEvent.Index)
				contracts.POST("/:contract_id/work_events", h.WorkEvent.Create)
				contracts.POST("/:contract_id/work_events/import", h.WorkEvent.Import)
			}

			// Invoices
			invoices := protected.Group("/invoices")
			{
				invoices.GET("", h.Invoice.Index)
				invoices.POST("", h.Invoice.Derive)
				invoices.GET("/:invoice_id", h.Invoice.Show)
				invoices.POST("/:invoice_id/rederive", h.Invoice.Rederive)
				invoices.POST("/:invoice_id/lines/:line_id/review", h.Invoice.ReviewLine)
				invoices.POST("/:invoice_id/approve", h.Invoice.Approve)
				invoices.GET("/:invoice_id/approval/verify", h.Invoice.VerifyApproval)
				invoices.POST("/:invoice_id/reject", h.Invoice.Reject)
				invoices.POST("/:invoice_id/push", h.Invoice.Push)
				invoices.GET("/:invoice_id/exceptions", h.Invoice.Exceptions)
			}

			// Exception review
			exceptions := protected.Group("/exceptions")
			{
				exceptions.GET("", h.Exception.Index)
				exceptions.GET("/:exception_id", h.Exception.Show)
				exceptions.POST("/:exception_id/resolve", h.Exception.Resolve)
				exceptions.POST("/:exception_id/comments", h.Exception.Comment)
				exceptions.PUT("/:exception_id/assign", h.Exception.Assign)
			}

			// Audit ledger
			audit := protected.Group("/audit")
			{
				audit.GET("/:entity_id", h.Audit.Trail)
				audit.GET("/:entity_id/verify", h.Audit.Verify)
				audit.GET("/:entity_id/export", h.Audit.Export)
			}
			protected.POST("/audit_entries/:entry_id/corrections", h.Audit.Correct)

			protected.GET("/jobs/status", h.Job.Status)
		}
	}
}
