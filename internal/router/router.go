// Package router wires handlers and middleware onto an Echo instance.
package router

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/config"
	"github.com/iliyamo/chama-backend/internal/handler"
	"github.com/iliyamo/chama-backend/internal/middleware"
	"github.com/iliyamo/chama-backend/internal/repository"
)

// Handlers groups every HTTP handler the API exposes.
type Handlers struct {
	Auth          *handler.AuthHandler
	Profiles      *handler.ProfileHandler
	Groups        *handler.GroupHandler
	Contributions *handler.ContributionHandler
	Notifications *handler.NotificationHandler
	Blockchain    *handler.BlockchainHandler
}

// Options carries what New needs besides the handlers.  Redis may be nil,
// in which case rate limiting and caching are disabled.
type Options struct {
	Config   config.Config
	Redis    *redis.Client
	Log      zerolog.Logger
	Resolver middleware.UserResolver
	Access   middleware.GroupAccess
}

// New builds the Echo instance with global middleware and all routes.
func New(opts Options, h Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = handler.NewHTTPErrorHandler(opts.Log)

	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(opts.Log))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{opts.Config.FrontendURL},
		AllowCredentials: true,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept,
			echo.HeaderAuthorization},
	}))

	RegisterRoutes(e)

	api := e.Group("/api/v1",
		middleware.OptionalUser(opts.Resolver, opts.Log),
		middleware.NewTokenBucket(opts.Config.RateLimit, opts.Redis, opts.Log),
	)
	m := Middleware{
		RequireUser: middleware.RequireUser(opts.Resolver),
		GroupAdmin:  middleware.RequireGroupAdmin(opts.Access, "id"),
		AuthLimit:   middleware.NewTokenBucket(opts.Config.RateLimit.ForAuth(), opts.Redis, opts.Log),
		Cache:       middleware.NewRedisCache(opts.Config.Cache, opts.Redis),
	}
	RegisterAuth(api, h.Auth, h.Profiles, m)
	RegisterGroups(api, h.Groups, m)
	RegisterContributions(api, h.Contributions, m)
	RegisterNotifications(api, h.Notifications, m)
	RegisterBlockchain(api, h.Blockchain, m)
	return e
}

// Middleware is the route-level middleware shared by the registrars.
type Middleware struct {
	RequireUser echo.MiddlewareFunc
	GroupAdmin  echo.MiddlewareFunc // group id taken from :id
	AuthLimit   echo.MiddlewareFunc
	Cache       echo.MiddlewareFunc
}

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// GroupAccess adapts the group and admin stores to middleware.GroupAccess.
func GroupAccess(groups handler.GroupStore, admins handler.AdminStore) middleware.GroupAccess {
	return groupAccess{groups: groups, admins: admins}
}

type groupAccess struct {
	groups handler.GroupStore
	admins handler.AdminStore
}

func (a groupAccess) GroupExists(ctx context.Context, groupID string) (bool, error) {
	_, err := a.groups.GetByID(ctx, groupID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (a groupAccess) IsAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	return a.admins.IsAdmin(ctx, groupID, userID)
}
