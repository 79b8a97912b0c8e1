package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxlink-backend/internal/database"
	"voxlink-backend/internal/domain"
	callHandler "voxlink-backend/internal/handler/http/call"
	presenceHandler "voxlink-backend/internal/handler/http/presence"
	pushHandler "voxlink-backend/internal/handler/http/push"
	wsHandler "voxlink-backend/internal/handler/ws"
	"voxlink-backend/internal/middleware"
	"voxlink-backend/internal/repository/cassandra"
	"voxlink-backend/internal/repository/cockroach"
	redisRepo "voxlink-backend/internal/repository/redis"
	"voxlink-backend/internal/repository/session"
	callService "voxlink-backend/internal/service/call"
	directoryService "voxlink-backend/internal/service/directory"
	"voxlink-backend/pkg/config"
	"voxlink-backend/pkg/jwt"
	"voxlink-backend/pkg/logger"
	"voxlink-backend/pkg/metrics"
	"voxlink-backend/pkg/push"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.JWT.Secret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	verifier := jwt.NewVerifier(cfg.JWT.Secret, cfg.JWT.Audience)

	// Redis: presence mirror, profile cache, push tokens, rate limiting.
	// The service keeps signaling without it (degraded mode).
	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	redisDB.StartHealthCheck(context.Background(), 10*time.Second)
	logger.Info("Connected to Redis")

	// CockroachDB: user directory reads and the call archive.
	dbConfig := database.DefaultDBConfig()
	dbConfig.MaxOpenConns = cfg.Database.MaxConns
	cockroachDB, err := database.NewDB(context.Background(), cfg.Database.DSN(), dbConfig)
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	logger.Info("Connected to CockroachDB")

	// Cassandra: append-only call activity trail.
	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:    cfg.Cassandra.Hosts,
		Keyspace: cfg.Cassandra.Keyspace,
		Timeout:  cfg.Cassandra.Timeout,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("Connected to Cassandra")

	// Repositories
	callRepo := cockroach.NewCallRepository(cockroachDB.Pool)
	userRepo := cockroach.NewUserRepository(cockroachDB.Pool)
	activityRepo := cassandra.NewActivityRepository(cassandraDB.Session)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	directoryCache := redisRepo.NewDirectoryRepository(redisDB)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)

	// Metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// Push providers, enabled only when credentials are configured
	pushSvc := push.NewService(pushTokenRepo, appMetrics)
	if cfg.Push.FCMCredentialsPath != "" {
		fcm, err := push.NewFCMProvider(&push.FCMConfig{
			CredentialsPath: cfg.Push.FCMCredentialsPath,
			ProjectID:       cfg.Push.FCMProjectID,
		})
		if err != nil {
			logger.Fatal("Failed to initialize FCM provider", zap.Error(err))
		}
		pushSvc.RegisterProvider(push.TokenTypeFCM, fcm)
		logger.Info("FCM push provider enabled")
	}
	if cfg.Push.APNsKeyPath != "" {
		apns, err := push.NewAPNsProvider(&push.APNsConfig{
			KeyPath:    cfg.Push.APNsKeyPath,
			KeyID:      cfg.Push.APNsKeyID,
			TeamID:     cfg.Push.APNsTeamID,
			BundleID:   cfg.Push.APNsTopic,
			Production: cfg.Push.APNsProduction,
		})
		if err != nil {
			logger.Fatal("Failed to initialize APNs provider", zap.Error(err))
		}
		pushSvc.RegisterProvider(push.TokenTypeAPNs, apns)
		logger.Info("APNs push provider enabled")
	}

	// Services
	sessions := session.NewStore(callRepo)
	directory := directoryService.NewService(userRepo, directoryCache)
	hub := wsHandler.NewHub(presenceRepo, appMetrics)
	callSvc := callService.NewService(sessions, directory, hub,
		callService.WithActivityTrail(activityRepo),
		callService.WithCallLog(callRepo),
		callService.WithPusher(&pushAdapter{pushSvc}),
		callService.WithMetrics(appMetrics),
	)

	// Reaper expires stale ringing calls in the background
	reaper := callService.NewReaper(callSvc, cfg.Signaling.RingTimeout, cfg.Signaling.ReaperInterval)
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go reaper.Run(reaperCtx)

	// Handlers
	callHdlr := callHandler.NewHandler(callSvc)
	pushHdlr := pushHandler.NewHandler(pushSvc)
	presenceHdlr := presenceHandler.NewHandler(hub, presenceRepo)
	wsHdlr := wsHandler.NewHandler(hub, callSvc)

	// Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	revocationChecker := middleware.NewRedisRevocationChecker(redisDB.Client)
	rateLimiter := middleware.NewRateLimiter(redisDB.Client,
		cfg.Signaling.RateLimitRequests, cfg.Signaling.RateLimitWindow)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(verifier, revocationChecker))
	v1.Use(rateLimiter.Middleware())
	{
		v1.POST("/calls", callHdlr.Start)
		v1.GET("/calls", callHdlr.History)
		v1.GET("/calls/:id", callHdlr.Get)
		v1.GET("/calls/:id/activity", callHdlr.Activity)
		v1.POST("/calls/:id/accept", callHdlr.Accept)
		v1.POST("/calls/:id/join", callHdlr.Join)
		v1.POST("/calls/:id/decline", callHdlr.Decline)
		v1.POST("/calls/:id/missed", callHdlr.Missed)
		v1.POST("/calls/:id/leave", callHdlr.Leave)
		v1.POST("/calls/:id/cancel", callHdlr.Cancel)
		v1.POST("/calls/:id/end", callHdlr.End)

		v1.POST("/push/tokens", pushHdlr.RegisterToken)
		v1.DELETE("/push/tokens", pushHdlr.UnregisterToken)
		v1.DELETE("/push/tokens/all", pushHdlr.UnregisterAllTokens)

		v1.GET("/presence/online", presenceHdlr.GetOnlineUsers)
		v1.GET("/presence/:id", presenceHdlr.GetUserPresence)

		v1.GET("/ws/signaling", wsHdlr.ServeWS)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("Signaling service starting",
			zap.String("addr", addr),
			zap.Duration("ring_timeout", cfg.Signaling.RingTimeout))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopReaper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// pushAdapter bridges the call service's Pusher port to the push service.
type pushAdapter struct {
	svc *push.Service
}

func (a *pushAdapter) SendCallOffer(ctx context.Context, userID uuid.UUID, call *domain.Call) error {
	callerName := ""
	if p := call.Participant(call.InitiatorID); p != nil {
		callerName = p.DisplayName
	}
	return a.svc.SendCallOffer(ctx, userID, &push.CallOfferData{
		CallID:      call.CallID,
		ChannelID:   call.ChannelID,
		InitiatorID: call.InitiatorID,
		CallerName:  callerName,
		MediaKind:   string(call.MediaKind),
		CallKind:    string(call.CallKind),
		Title:       call.Title,
		Timestamp:   call.CreatedAt.Unix(),
	})
}
