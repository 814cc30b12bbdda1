package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/chama-backend/internal/handler"
)

// RegisterAuth registers the auth and profile endpoints.  Registration,
// login and password recovery share the tighter auth rate limit.
func RegisterAuth(api *echo.Group, a *handler.AuthHandler, p *handler.ProfileHandler, m Middleware) {
	g := api.Group("/auth")
	g.POST("/register", a.Register, m.AuthLimit)
	g.POST("/login", a.Login, m.AuthLimit)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)
	g.POST("/verify-token", a.VerifyToken)
	g.GET("/me", a.Me, m.RequireUser)

	g.POST("/reset-password", a.ResetPassword, m.AuthLimit)
	g.POST("/update-password", a.UpdatePassword, m.AuthLimit)
	g.POST("/verify-email", a.VerifyEmail)

	g.GET("/oauth/callback", a.Callback)
	g.GET("/oauth/:provider", a.OAuthURL)
	g.POST("/oauth/exchange", a.Exchange, m.AuthLimit)
	g.GET("/oauth-tokens/:provider", a.GetOAuthToken, m.RequireUser)
	g.DELETE("/oauth-tokens/:provider", a.DeleteOAuthToken, m.RequireUser)

	pr := api.Group("/profiles", m.RequireUser)
	pr.GET("/me", p.Me)
	pr.PUT("/me", p.UpdateMe)
	pr.GET("/:user_id", p.Get)
}
