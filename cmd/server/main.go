package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/chain"
	"github.com/iliyamo/chama-backend/internal/config"
	"github.com/iliyamo/chama-backend/internal/database"
	"github.com/iliyamo/chama-backend/internal/handler"
	"github.com/iliyamo/chama-backend/internal/identity"
	"github.com/iliyamo/chama-backend/internal/logging"
	"github.com/iliyamo/chama-backend/internal/queue"
	"github.com/iliyamo/chama-backend/internal/repository"
	"github.com/iliyamo/chama-backend/internal/router"
	"github.com/iliyamo/chama-backend/internal/service"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.RunMigrations {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	// Redis is optional
	var states identity.StateStore = identity.NewMemoryStateStore()
	rdb, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable; rate limiting and caching disabled")
	} else {
		defer rdb.Close()
		states = identity.NewRedisStateStore(rdb)
	}

	profiles := repository.NewProfileRepo(db)
	groups := repository.NewGroupRepo(db)
	members := repository.NewMemberRepo(db)
	admins := repository.NewAdminRepo(db)
	contributions := repository.NewContributionRepo(db)
	notifications := repository.NewNotificationRepo(db)

	sessions := service.NewTokenService(service.TokenConfig{
		Secret:     cfg.JWTSecret,
		AccessTTL:  time.Duration(cfg.AccessTTLMin) * time.Minute,
		BcryptCost: cfg.BcryptCost,
	}, repository.NewTokenRepo(db), profiles, log)

	// a nil interface, not a nil *chain.Bridge, marks the bridge disabled
	var bridge handler.Chain
	if cfg.Chain.Enabled() {
		client, err := chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return err
		}
		defer client.Close()
		b, err := chain.New(client, chain.Config{
			FactoryAddress:  cfg.Chain.FactoryAddress,
			FactoryABIPath:  cfg.Chain.FactoryABIPath,
			GroupABIPath:    cfg.Chain.GroupABIPath,
			DefaultGasLimit: cfg.Chain.DefaultGasLimit,
			DefaultGasGwei:  cfg.Chain.DefaultGasGwei,
		}, log)
		if err != nil {
			return err
		}
		bridge = b
	} else {
		log.Info().Msg("WEB3_PROVIDER_URL not set; blockchain endpoints disabled")
	}

	var events handler.Events
	if cfg.QueueEnabled {
		pub := queue.NewPublisher(cfg.RabbitMQURL, log)
		defer pub.Close()
		events = pub
		consumer := queue.NewConsumer(cfg.RabbitMQURL, notifications, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("notification consumer stopped")
			}
		}()
	}

	h := router.Handlers{
		Auth: handler.NewAuthHandler(
			identity.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, log),
			sessions, profiles, repository.NewOAuthTokenRepo(db), states,
			handler.AuthOptions{
				FrontendURL:   cfg.FrontendURL,
				PublicBaseURL: cfg.PublicBaseURL,
				Cookies:       handler.CookiePolicyFor(cfg.IsProduction()),
			}, log),
		Profiles:      handler.NewProfileHandler(profiles),
		Groups:        handler.NewGroupHandler(groups, members, admins, profiles, bridge, events, log),
		Contributions: handler.NewContributionHandler(contributions, groups, members, admins, bridge, events, log),
		Notifications: handler.NewNotificationHandler(notifications),
		Blockchain:    handler.NewBlockchainHandler(bridge),
	}
	e := router.New(router.Options{
		Config:   cfg,
		Redis:    rdb,
		Log:      log,
		Resolver: sessions,
		Access:   router.GroupAccess(groups, admins),
	}, h)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return e.Shutdown(shutdownCtx)
}
