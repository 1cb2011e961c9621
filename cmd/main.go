package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meowlet/mercury-api/internal/app/registry"
	"github.com/meowlet/mercury-api/internal/app/server"
	"github.com/meowlet/mercury-api/internal/app/server/handlers"
	"github.com/meowlet/mercury-api/internal/app/server/ws"
	"github.com/meowlet/mercury-api/internal/app/worker"
	"github.com/meowlet/mercury-api/internal/config"
	"github.com/meowlet/mercury-api/internal/core/services"
	"github.com/meowlet/mercury-api/internal/platform/logger"
	"github.com/meowlet/mercury-api/internal/platform/telemetry"
	"github.com/meowlet/mercury-api/internal/plugins/postgres"
	redisPlugin "github.com/meowlet/mercury-api/internal/plugins/redis"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg := config.Load()

	// Logger
	log := logger.NewLogger(*cfg)
	log.Info("starting application")
	if cfg.SecretToken == "" {
		log.Error("JWT_SECRET is required")
		return
	}

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "err", err)
		}
	}()

	// Infra
	var pdb *sql.DB
	if pdb, err = postgres.New(ctx, *cfg.Postgres); err != nil {
		log.Error("postgres connection failed", "err", err)
		return
	}
	defer pdb.Close()
	log.Info("postgres connected")
	var rdb *redis.Client
	if rdb, err = redisPlugin.NewRedisClient(ctx, *cfg.Redis); err != nil {
		log.Error("redis connection failed", "url", cfg.Redis.URL, "err", err)
		return
	}
	defer rdb.Close()
	log.Info("redis connected")

	// Adapters
	userRepo := postgres.NewUserRepository(pdb)
	convRepo := postgres.NewConversationRepo(pdb)
	memberRepo := postgres.NewMemberRepo(pdb)
	msgRepo := postgres.NewMessageRepo(pdb)
	txManager := postgres.NewTxManager(pdb)
	presStore := redisPlugin.NewRedisPresenceStore(rdb)

	// Core Services
	userSvc := services.NewUserService(log, userRepo, presStore)
	chatSvc := services.NewChatService(log, convRepo, memberRepo, msgRepo, txManager)
	tokenSvc := services.NewTokenService(cfg.SecretToken)

	hub := registry.NewRegistry(log, userSvc)
	presence := registry.NewPresence()
	broadcaster := registry.NewBroadcaster(log, hub, presence)
	router := services.NewRouter(log, chatSvc, chatSvc, presence, broadcaster, cfg.Chat.MultiConversation)
	managerSvc := services.NewManagerService(log, hub, presence, broadcaster, router)

	sweeper := worker.NewSweepWorker(log, hub, userSvc, cfg.Chat.SweepInterval, cfg.Chat.PresenceTTL)

	// Server
	wsHandler := handlers.NewWSHandler(managerSvc, ws.OptionsFrom(*cfg.Chat))
	chatHandler := handlers.NewChatHandler(chatSvc, userSvc, broadcaster)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"postgres": pdb,
		"redis":    redisPlugin.HealthCheck{Client: rdb},
	}, hub, presence)
	srv := server.NewServer(log, cfg.Service.Name, cfg.Service.Add, cfg.Chat.ShutdownTimeout,
		tokenSvc, wsHandler, chatHandler, healthHandler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	if err := g.Wait(); err != nil {
		log.Error("application stopped with error", "err", err)
		return
	}
	log.Info("application stopped")
}
