package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zaliubovskiy/chatrelay/internal/auth"
	"github.com/zaliubovskiy/chatrelay/internal/cache"
	"github.com/zaliubovskiy/chatrelay/internal/config"
	"github.com/zaliubovskiy/chatrelay/internal/domain"
	"github.com/zaliubovskiy/chatrelay/internal/handler"
	"github.com/zaliubovskiy/chatrelay/internal/hub"
	"github.com/zaliubovskiy/chatrelay/internal/repository"
	"github.com/zaliubovskiy/chatrelay/internal/service"
	"github.com/zaliubovskiy/chatrelay/pkg/database"
	pkglog "github.com/zaliubovskiy/chatrelay/pkg/log"
	"github.com/zaliubovskiy/chatrelay/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "chatrelay",
	})
	logger := pkglog.L()

	// Connect to database using GORM
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Auto-migrate
	if err := database.AutoMigrate(db,
		&domain.UserModel{},
		&domain.TokenModel{},
		&domain.ChatModel{},
		&domain.MessageModel{},
		&domain.AttachmentModel{},
	); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Msg("database migration completed")

	// Initialize repositories
	userRepo := repository.NewGormUserRepository(db)
	chatRepo := repository.NewGormChatRepository(db)
	messageRepo := repository.NewGormMessageRepository(db)

	// Initialize blob storage
	blobs, err := newStorage(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	logger.Info().Str("backend", cfg.Storage.Backend).Msg("blob storage ready")

	// Initialize Redis history cache
	var history cache.HistoryCache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisHistoryCache(cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisCache.Close()
		history = redisCache
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis cache connected")
	}

	// Initialize token validator
	validator, err := auth.New(cfg.Auth, userRepo)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize auth")
	}

	// Room registry
	registry := hub.NewHub()

	// Initialize service
	chatService := service.NewChatService(
		userRepo, chatRepo, messageRepo,
		registry, blobs, validator, history,
		cfg.Chat, cfg.Redis.CacheTTL, cfg.Storage.URLTTL,
	)

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	// Register routes
	handler.NewWSHandler(registry, chatService, cfg.WebSocket).RegisterRoutes(r)
	handler.NewHTTPHandler(chatService, validator).RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", addr).Str("driver", cfg.Database.Driver).Msg("chatrelay starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	logger.Info().Msg("server stopped")
}

func newStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return storage.NewS3Storage(context.Background(), cfg.Storage.S3)
	default:
		return storage.NewLocalStorage(cfg.Storage.Local)
	}
}
