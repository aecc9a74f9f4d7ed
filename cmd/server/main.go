package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/reelforge/api/internal/auth"
	"github.com/reelforge/api/internal/client"
	"github.com/reelforge/api/internal/config"
	"github.com/reelforge/api/internal/handler"
	"github.com/reelforge/api/internal/lease"
	"github.com/reelforge/api/internal/logger"
	"github.com/reelforge/api/internal/middleware"
	"github.com/reelforge/api/internal/render"
	"github.com/reelforge/api/internal/scheduler"
	"github.com/reelforge/api/internal/service"
	"github.com/reelforge/api/internal/store"
	ws "github.com/reelforge/api/internal/websocket"
	"github.com/reelforge/api/internal/worker"
	"github.com/reelforge/api/pkg/response"
)

// @title          ReelForge API
// @version        1.0
// @description    Job API for automated short-form video generation.
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	log := logger.WithModule("main").WithField("mode", cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis not available")
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	jobs := store.NewJobStore(redisClient)
	assets := store.NewAssetStore(redisClient)
	stats := store.NewStatsStore(redisClient)

	hub := ws.NewHub()
	go hub.Run()

	gens, storage, providers := buildProviders(cfg, log)

	runAPI := cfg.Server.Mode == "api" || cfg.Server.Mode == "all"
	runWorker := cfg.Server.Mode == "worker" || cfg.Server.Mode == "all"

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	videoService := service.NewVideoService(jobs, assets, stats, service.NewAsynqEnqueuer(asynqClient), cfg.Render)

	var asynqServer *asynq.Server
	done := make(chan struct{})
	if runWorker {
		sched := buildScheduler(cfg, redisClient, jobs, assets, stats, gens, storage, hub)
		go func() {
			defer close(done)
			if err := sched.Run(ctx); err != nil {
				log.WithError(err).Error("Scheduler error")
			}
		}()

		asynqServer = asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: cfg.Worker.AsynqConcurrency,
			Queues:      map[string]int{"video": 1},
			Logger:      logger.WithModule("asynq"),
			LogLevel:    asynqLogLevel(cfg.Log.Level),
		})
		mux := asynq.NewServeMux()
		mux.HandleFunc(scheduler.TaskTypeVideoProcess, sched.ProcessTask)
		if err := asynqServer.Start(mux); err != nil {
			log.WithError(err).Fatal("Failed to start asynq server")
		}
	} else {
		close(done)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		Output: logrus.StandardLogger().Writer(),
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", handler.NewHealthHandler(redisClient, videoService, cfg.Server.Mode, providers).Check)

	if runAPI {
		verifier := buildVerifier(ctx, cfg, log)
		app.Get("/auth/verify", handler.NewAuthHandler(verifier).Verify)

		var apiAuth fiber.Handler
		if cfg.Gateway.Enabled {
			log.Info("Gateway mode enabled, using header-based auth")
			apiAuth = middleware.GatewayAuth()
		} else {
			apiAuth = middleware.NewAuthMiddleware(verifier).Authenticate()
		}
		rateLimiter := middleware.NewRateLimiter(redisClient)
		videos := handler.NewVideoHandler(videoService, validator.New())

		api := app.Group("/api", apiAuth)
		api.Post("/videos", rateLimiter.VideoLimit(cfg.RateLimit.VideosPerHour), videos.Create)
		api.Get("/videos", videos.List)
		api.Get("/videos/:jobId", videos.Get)
		api.Post("/videos/:jobId/cancel", videos.Cancel)
		api.Post("/videos/:jobId/regenerate", rateLimiter.VideoLimit(cfg.RateLimit.VideosPerHour), videos.Regenerate)

		app.Use("/ws", handler.RequireUpgrade)
		app.Get("/ws/jobs/:jobId", apiAuth, handler.RequireJobAccess(videoService), handler.JobStream(hub))
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down server...")
		if asynqServer != nil {
			asynqServer.Shutdown()
		}
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Infof("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Error("Server error")
		stop()
	}

	// The scheduler abandons the current job on shutdown; recovery resumes it on the next start.
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		log.Warn("Scheduler did not stop in time")
	}
}

// buildProviders picks real clients where configured and golden fallbacks elsewhere
func buildProviders(cfg *config.Config, log *logrus.Entry) (worker.Generators, client.StorageClient, map[string]bool) {
	groqClient := client.NewGroqClient(&cfg.Groq)
	imageClient := client.NewImageClient(&cfg.Image)
	speechClient := client.NewSpeechClient(&cfg.Speech)

	gens := worker.Generators{
		Script:  client.GoldenScriptWriter{},
		Image:   client.GoldenImageGenerator{},
		Speech:  client.GoldenSpeechGenerator{},
		Caption: client.GoldenScriptWriter{},
	}
	if groqClient.IsConfigured() {
		writer := client.NewScriptWriter(groqClient)
		gens.Script, gens.Caption = writer, writer
	} else {
		log.Info("Groq not configured, using golden script writer")
	}
	if imageClient.IsConfigured() {
		gens.Image = imageClient
	} else {
		log.Info("Image provider not configured, using golden images")
	}
	if speechClient.IsConfigured() {
		gens.Speech = speechClient
	} else {
		log.Info("Speech provider not configured, using golden narration")
	}

	var storage client.StorageClient
	r2Ready := false
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2, cfg.Render.MaxDownloadBytes)
		if err != nil {
			log.WithError(err).Warn("R2 client not initialized")
		} else {
			storage, r2Ready = r2Client, true
		}
	}
	if storage == nil {
		log.Info("R2 storage not configured, using in-memory storage")
		storage = client.NewMemoryStorage()
	}

	providers := map[string]bool{
		"groq":   groqClient.IsConfigured(),
		"image":  imageClient.IsConfigured(),
		"speech": speechClient.IsConfigured(),
		"r2":     r2Ready,
	}
	return gens, storage, providers
}

func buildScheduler(
	cfg *config.Config,
	redisClient redis.UniversalClient,
	jobs *store.JobStore,
	assets *store.AssetStore,
	stats *store.StatsStore,
	gens worker.Generators,
	storage client.StorageClient,
	hub *ws.Hub,
) *scheduler.Scheduler {
	leases := lease.NewManager(redisClient)
	prober := render.NewFFprobe(cfg.Render.FFprobeBin)
	renderer := render.NewRenderer(
		render.NewFFmpeg(cfg.Render.FFmpegBin),
		&render.RetryingProber{Prober: prober, Attempts: uint(cfg.Worker.ProbeAttempts)},
		storage,
		render.NewSystemResources(cfg.Render.ThrottleCPU, cfg.Render.ThrottleFreeMem, cfg.Render.ThrottleFreeDisk),
		render.Options{
			TempRoot:       cfg.Render.TempRoot,
			ExtraArgs:      cfg.Render.ExtraArgs,
			MinOutputBytes: cfg.Render.MinOutputBytes,
			ThumbnailAt:    cfg.Render.ThumbnailAt,
		},
	)

	videoWorker := worker.NewVideoWorker(worker.Deps{
		Jobs:     jobs,
		Assets:   assets,
		Stats:    stats,
		Leases:   leases,
		Caller: client.NewCaller(client.CallerOptions{
			MaxConcurrent:   cfg.Worker.MaxOutboundCalls,
			MaxAttempts:     cfg.Worker.RetryAttempts,
			InitialInterval: cfg.Worker.RetryInitialInterval,
			MaxInterval:     cfg.Worker.RetryMaxInterval,
		}),
		Storage:  storage,
		Renderer: renderer,
		Prober:   prober,
		Notifier: hub,
	}, gens, worker.Options{
		LeaseTTL:                cfg.Worker.LeaseTTL,
		RenewInterval:           cfg.Worker.RenewInterval,
		SceneConcurrency:        cfg.Worker.SceneConcurrency,
		ImagePlaceholderOnError: cfg.Worker.ImagePlaceholderOnError,
		ProbeAttempts:           uint(cfg.Worker.ProbeAttempts),
		RenderTimeout:           cfg.Render.Timeout,
		TempRoot:                cfg.Render.TempRoot,
	}, lease.NewOwnerID())

	logger.WithModule("main").WithField("owner", videoWorker.Owner()).Info("Worker initialized")
	return scheduler.New(jobs, leases, videoWorker, cfg.Worker.RecoveryInterval)
}

// buildVerifier tries Zitadel JWKS first and falls back to the shared secret
func buildVerifier(ctx context.Context, cfg *config.Config, log *logrus.Entry) auth.TokenVerifier {
	var chain auth.Chain
	if cfg.Zitadel.Issuer != "" {
		jwks, err := auth.NewJWKSVerifier(ctx, &cfg.Zitadel)
		if err != nil {
			log.WithError(err).Warn("JWKS verifier not initialized")
		} else {
			chain = append(chain, jwks)
		}
	}
	if cfg.JWT.Secret != "" {
		chain = append(chain, auth.NewHMACVerifier(cfg.JWT.Secret))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch level {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
