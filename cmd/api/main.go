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
	"go.uber.org/zap"

	"facescan/internal/auth"
	"facescan/internal/cloudinary"
	"facescan/internal/config"
	"facescan/internal/detection"
	"facescan/internal/faceclient"
	"facescan/internal/handler"
	"facescan/internal/history"
	"facescan/internal/httpmiddleware"
	"facescan/internal/queue"
	"facescan/internal/roster"
	"facescan/internal/store"
)

func main() {
	cfg := config.Load()

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func newLogger(cfg config.App) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Production() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	students, err := roster.Seed()
	if err != nil {
		return err
	}
	entries, err := history.Seed()
	if err != nil {
		return err
	}
	rosterStore := roster.NewStore(students)
	historyStore := history.NewStore(entries)

	// Redis is only dialed when a backend asks for it.
	var redisClient *store.Redis
	if cfg.QueueBackend == "redis" || cfg.SessionBackend == "redis" {
		redisClient, err = store.NewRedis(cfg.RedisAddr)
		if err != nil {
			return err
		}
		readyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = redisClient.WaitReady(readyCtx, 500*time.Millisecond)
		cancel()
		if err != nil {
			logger.Warn("redis not reachable yet, continuing", zap.Error(err))
		}
		logger.Info("redis configured", zap.String("addr", redisClient.Client.Options().Addr))
	}
	defer func() { _ = redisClient.Close() }()

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(redisClient.Client, "")
	} else {
		q = queue.NewInMemory(64)
	}

	var revoker auth.Revoker
	if cfg.SessionBackend == "redis" {
		revoker = auth.NewRedisRevoker(redisClient.Client, "")
	} else {
		revoker = auth.NewMemoryRevoker()
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	recorderDone := make(chan struct{})
	go func() {
		defer close(recorderDone)
		history.NewRecorder(historyStore, logger.Named("recorder")).Run(ctx, msgs)
	}()

	faces := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	var (
		detector detection.Detector
		enroller handler.Enroller
	)
	switch cfg.Detector {
	case "face":
		detector = detection.NewFaceService(faces, cfg.FaceThreshold, func(nim string) (detection.Identity, bool) {
			st, ok := rosterStore.ByNIM(nim)
			if !ok {
				return detection.Identity{}, false
			}
			return detection.Identity{Name: st.Name, NIM: st.NIM, Program: st.Program, Photo: st.Photo}, true
		})
		enroller = faces
		logger.Info("face service detector", zap.String("url", cfg.FaceServiceURL), zap.Bool("skip", cfg.FaceSkip))
	default:
		detector = detection.NewSimulator(cfg.DetectDelay, cfg.MatchProbability)
		logger.Info("simulated detector", zap.Duration("delay", cfg.DetectDelay), zap.Float64("match_probability", cfg.MatchProbability))
	}

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	if cfg.CloudinaryEnabled() {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		logger.Info("cloudinary not configured, student photos are stored as given")
	}

	h := handler.New(handler.Options{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		LoginLimit: cfg.LoginRateLimitPerMin,
	}, handler.Deps{
		Roster:   rosterStore,
		History:  historyStore,
		Detector: detector,
		Queue:    q,
		Revoker:  revoker,
		Cloud:    cdnClient,
		Enroller: enroller,
		Log:      logger.Named("http"),
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket("global", cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		resp := gin.H{"status": "ok", "detector": cfg.Detector}
		status := http.StatusOK
		if redisClient != nil {
			healthy := redisClient.Healthy(c.Request.Context())
			resp["redis"] = healthy
			if !healthy {
				status = http.StatusServiceUnavailable
			}
		}
		if enroller != nil {
			resp["face_service"] = faces.Health(c.Request.Context()) == nil
		}
		c.JSON(status, resp)
	})
	h.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	h.Close()
	stop()
	<-recorderDone

	logger.Info("server exited")
	return nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
