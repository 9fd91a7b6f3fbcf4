package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"ipproof-backend/docs"
	"ipproof-backend/internal/common/config"
	"ipproof-backend/internal/common/logger"
	"ipproof-backend/internal/common/middleware"
	"ipproof-backend/internal/features/ipproof/certificate"
	ipproofHTTP "ipproof-backend/internal/features/ipproof/delivery/http"
	"ipproof-backend/internal/features/ipproof/repository"
	proofRepo "ipproof-backend/internal/features/ipproof/repository/postgres"
	lockRepo "ipproof-backend/internal/features/ipproof/repository/redis"
	ipproofService "ipproof-backend/internal/features/ipproof/service"
	"ipproof-backend/internal/platform/esplora"
	"ipproof-backend/internal/platform/opentimestamps"
	"ipproof-backend/internal/platform/postgres"
	"ipproof-backend/internal/platform/redis"
	"ipproof-backend/internal/platform/telegram"
)

// @title           IP Proof API
// @version         1.0
// @description     Registers file hashes, anchors them in Bitcoin through OpenTimestamps and issues PDF certificates.
// @BasePath        /api/v1

// @tag.name ip
// @tag.description Proof registration, verification and certificates

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init(cfg.ServiceName, cfg.Debug)

	ctx := context.Background()

	if cfg.Postgres.AutoMigrate {
		if err := postgres.Migrate(cfg.Postgres.URL); err != nil {
			logger.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		logger.Info().Msg("Database migrations applied")
	}

	postgresClient, err := postgres.NewClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer postgresClient.Close()

	var (
		redisClient *redis.Client
		locker      repository.Locker
	)
	if cfg.RedisEnabled() {
		redisClient, err = redis.NewClient(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		locker = lockRepo.NewLocker(redisClient.Client)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Redis anchoring lock enabled")
	} else {
		locker = lockRepo.NewMemoryLocker()
		logger.Warn().Msg("REDIS_ADDR not set, using in-process anchoring lock")
	}

	proofs := proofRepo.NewProofRepository(postgresClient.Pool())
	var otsOpts []opentimestamps.Option
	if len(cfg.Timestamp.UpgradeWhitelist) > 0 {
		otsOpts = append(otsOpts, opentimestamps.WithUpgradeWhitelist(cfg.Timestamp.UpgradeWhitelist...))
	}
	calendars := opentimestamps.NewClient(cfg.Timestamp.CalendarURLs, cfg.Timestamp.CalendarTimeout, otsOpts...)
	blocks := esplora.NewClient(cfg.Timestamp.EsploraURL, cfg.Timestamp.EsploraTimeout)
	notifier := telegram.NewClient(cfg.Telegram.BotToken)

	registrationSvc := ipproofService.NewRegistrationService(proofs, calendars)
	verificationSvc := ipproofService.NewVerificationService(proofs, cfg.VerifyCache.Size, cfg.VerifyCache.TTL)
	anchorSvc := ipproofService.NewAnchorService(proofs, calendars, blocks, notifier, locker, ipproofService.AnchorConfig{
		Interval:      cfg.Anchor.Interval,
		BatchSize:     cfg.Anchor.BatchSize,
		LockTTL:       cfg.Anchor.LockTTL,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	})
	renderer := certificate.NewRenderer(cfg.Server.PublicBaseURL, certificate.WithCompression(cfg.Certificate.Compress))

	logger.Info().
		Strs("calendars", calendars.Calendars()).
		Bool("telegram", notifier.Enabled()).
		Msg("Services initialized")

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())
	router.Use(middleware.Recovery())
	router.Use(middleware.ErrorHandler())

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.CORSAllowedOrigins) == 0 || cfg.Server.CORSAllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Server.CORSAllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Accept", middleware.InitDataHeader, middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{"Content-Disposition", middleware.RequestIDHeader}
	router.Use(cors.New(corsConfig))

	docs.SwaggerInfo.BasePath = "/api/v1"
	setupRoutes(router, cfg, postgresClient, redisClient,
		ipproofHTTP.NewIPProofHandler(registrationSvc, verificationSvc, anchorSvc, renderer))

	if cfg.Anchor.Enabled {
		anchorSvc.Start()
	} else {
		logger.Info().Msg("Anchoring worker disabled")
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if cfg.Anchor.Enabled {
		anchorSvc.Stop()
	}

	logger.Info().Msg("Server exited")
}

func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	postgresClient *postgres.Client,
	redisClient *redis.Client,
	ipproofHandler *ipproofHTTP.IPProofHandler,
) {
	v1 := router.Group("/api/v1")
	v1.Use(middleware.TelegramInitData(cfg.Telegram.BotToken, cfg.Telegram.InitDataTTL))
	ipproofHandler.RegisterRoutes(v1)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"service":   cfg.ServiceName,
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := postgresClient.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unready",
				"error":  "postgres unavailable",
			})
			return
		}

		if redisClient != nil {
			if err := redisClient.HealthCheck(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unready",
					"error":  "redis unavailable",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}
