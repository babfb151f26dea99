package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/deals-auth-api/api/swagger"
	"github.com/noah-isme/deals-auth-api/internal/handler"
	"github.com/noah-isme/deals-auth-api/internal/middleware"
	"github.com/noah-isme/deals-auth-api/internal/models"
	"github.com/noah-isme/deals-auth-api/internal/repository"
	"github.com/noah-isme/deals-auth-api/internal/service"
	"github.com/noah-isme/deals-auth-api/pkg/cache"
	"github.com/noah-isme/deals-auth-api/pkg/config"
	"github.com/noah-isme/deals-auth-api/pkg/database"
	"github.com/noah-isme/deals-auth-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/deals-auth-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/deals-auth-api/pkg/middleware/requestid"
)

// @title Deals Auth API
// @version 1.0.0
// @description Session and token lifecycle service for the deals platform
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Redis only throttles opportunistic sweeps; without it they just
		// run unthrottled.
		logr.Sugar().Warnw("redis unavailable, sweep throttling disabled", "error", err)
		redisClient = nil
	}

	signer, err := service.NewTokenSigner(service.SignerConfig{
		Secret:       cfg.JWT.Secret,
		AccessExpiry: cfg.JWT.AccessExpiry,
		Issuer:       cfg.JWT.Issuer,
		Audience:     cfg.JWT.Audience,
	})
	if err != nil {
		logr.Sugar().Fatalw("failed to init token signer", "error", err)
	}

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close()

	metrics := service.NewMetricsService()

	sweeper := service.NewSweeperService(tokenRepo, metrics, logr, service.SweeperConfig{
		RetentionWindow: cfg.Cleanup.RetentionWindow,
		SweepInterval:   cfg.Cleanup.SweepInterval,
		WorkerCount:     cfg.Cleanup.WorkerCount,
	})
	sweeper.Start(context.Background())
	defer sweeper.Stop()

	sessions := service.NewSessionService(userRepo, tokenRepo, signer, nil, logr, service.SessionConfig{
		RefreshExpiry: cfg.JWT.RefreshExpiry,
		SingleSession: cfg.JWT.SingleSession,
		SweepThrottle: cfg.Cleanup.ThrottleWindow,
	}).WithSweeper(sweeper, cacheRepo).WithMetrics(metrics)

	authHandler := handler.NewAuthHandler(sessions, handler.CookieSettings{
		Name:   cfg.Cookie.Name,
		Path:   cfg.APIPrefix,
		Domain: cfg.Cookie.Domain,
		Secure: cfg.Cookie.Secure,
	})
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/validate-refresh-token", authHandler.ValidateRefreshToken)
		auth.GET("/me", middleware.JWT(sessions), authHandler.Me)
		auth.DELETE("/users/:id/sessions",
			middleware.JWT(sessions),
			middleware.RequireRoles(models.RoleAdmin),
			authHandler.RevokeAllSessions)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Env))
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
