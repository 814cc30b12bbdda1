package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/chama-backend/internal/handler"
)

// RegisterGroups registers group, membership, admin and on-chain group
// endpoints.  Every route needs a session; writes to an existing group
// additionally need group admin rights.
func RegisterGroups(api *echo.Group, h *handler.GroupHandler, m Middleware) {
	g := api.Group("/groups", m.RequireUser)
	g.POST("", h.Create)
	g.GET("", h.List, m.Cache)
	g.GET("/user/:user_id", h.ListForUser)

	g.POST("/prepare-transaction", h.PrepareCreate)
	g.POST("/create-with-transaction", h.CreateWithTransaction)
	g.POST("/verify-transaction", h.VerifyTransaction)

	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update, m.GroupAdmin)
	g.DELETE("/:id", h.Delete, m.GroupAdmin)
	g.GET("/:id/blockchain-status", h.BlockchainStatus)

	g.POST("/:id/members", h.AddMember)
	g.GET("/:id/members", h.ListMembers)
	g.POST("/:id/members/confirm", h.ConfirmMember)
	g.PUT("/:id/members/:member_id", h.UpdateMemberStatus, m.GroupAdmin)
	g.DELETE("/:id/members/:member_id", h.RemoveMember, m.GroupAdmin)
	g.POST("/:id/join-transaction", h.JoinTransaction)

	g.POST("/:id/admins", h.AddAdmin, m.GroupAdmin)
	g.GET("/:id/admins", h.ListAdmins)
	g.DELETE("/:id/admins/:admin_id", h.RemoveAdmin, m.GroupAdmin)
}

// RegisterContributions registers the contribution endpoints.
func RegisterContributions(api *echo.Group, h *handler.ContributionHandler, m Middleware) {
	g := api.Group("/contributions", m.RequireUser)
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/group/:group_id", h.ListByGroup)
	g.GET("/group/:group_id/summary", h.Summary)
	g.GET("/user/:user_id", h.ListByUser)
	g.GET("/user/:user_id/overdue", h.Overdue)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/pay", h.Pay)
	g.POST("/:id/prepare-payment", h.PreparePayment)
	g.POST("/:id/confirm-payment", h.ConfirmPayment)
}

func RegisterNotifications(api *echo.Group, h *handler.NotificationHandler, m Middleware) {
	g := api.Group("/notifications", m.RequireUser)
	g.GET("", h.List)
	g.PUT("/:id/read", h.MarkRead)
}

// RegisterBlockchain registers read-only chain endpoints.
func RegisterBlockchain(api *echo.Group, h *handler.BlockchainHandler, m Middleware) {
	g := api.Group("/blockchain", m.RequireUser)
	g.GET("/network", h.Network)
	g.GET("/groups", h.Groups)
}
