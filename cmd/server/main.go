package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/dubstudio/api/internal/auth"
	"github.com/dubstudio/api/internal/cleanup"
	"github.com/dubstudio/api/internal/client"
	"github.com/dubstudio/api/internal/config"
	"github.com/dubstudio/api/internal/dubbing"
	"github.com/dubstudio/api/internal/handler"
	"github.com/dubstudio/api/internal/history"
	"github.com/dubstudio/api/internal/media"
	"github.com/dubstudio/api/internal/middleware"
	"github.com/dubstudio/api/internal/mixer"
	"github.com/dubstudio/api/internal/model"
	"github.com/dubstudio/api/internal/service"
	"github.com/dubstudio/api/internal/status"
	ws "github.com/dubstudio/api/internal/websocket"
	"github.com/dubstudio/api/internal/worker"
	"github.com/dubstudio/api/internal/workspace"
)

// @title          Dub Studio API
// @version        1.0
// @description    Video dubbing service: upload a clip, receive it re-voiced.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	for _, dir := range []string{cfg.Storage.UploadDir, cfg.Storage.ResultDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is only needed for the distributed backend
	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: Redis not available: %v", err)
		}
		defer redisClient.Close()
	}

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Job status tracker; every change is pushed to WebSocket subscribers
	var baseTracker status.Tracker = status.NewMemoryTracker()
	if redisClient != nil {
		baseTracker = status.NewRedisTracker(redisClient, cfg.Status.StatusRetention())
	}
	tracker := status.Notifying(baseTracker, hub)

	workspaces, err := workspace.NewManager(cfg.Storage.WorkspaceDir)
	if err != nil {
		log.Fatalf("Failed to prepare workspace root: %v", err)
	}

	// Initialize external clients
	transcriber := newTranscriber(cfg)
	localizer := newLocalizer(cfg)
	synthesizer := newSynthesizer(cfg)

	compositor, err := mixer.NewCompositor(cfg.Mix, cfg.Media.MixSampleRate)
	if err != nil {
		log.Fatalf("Failed to create compositor: %v", err)
	}

	// Initialize R2 client (optional - results stay local if not configured)
	var resultStore client.ResultStore
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			resultStore = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, serving results from disk")
	}

	// Job history (optional)
	var recorder dubbing.Recorder
	var historyReader service.HistoryReader
	if cfg.Storage.HistoryDB != "" {
		store, err := history.Open(cfg.Storage.HistoryDB)
		if err != nil {
			log.Printf("Warning: job history disabled: %v", err)
		} else {
			defer store.Close()
			recorder = store
			historyReader = store
		}
	}

	orchestrator, err := dubbing.NewOrchestrator(dubbing.Deps{
		Tracker:     tracker,
		Workspaces:  workspaces,
		Media:       media.NewFFmpeg(cfg.Media, nil),
		Transcriber: transcriber,
		Localizer:   localizer,
		Synthesizer: synthesizer,
		Compositor:  compositor,
		Recorder:    recorder,
	}, dubbing.Options{
		Voice: model.VoiceConfig{
			Voice:      cfg.TTS.Voice,
			Speed:      cfg.TTS.Speed,
			Pitch:      cfg.TTS.Pitch,
			Energy:     cfg.TTS.Energy,
			Encoding:   cfg.TTS.Encoding,
			SampleRate: cfg.TTS.SampleRate,
		},
		AmbientPath:       cfg.Storage.AmbientPath,
		ResultDir:         cfg.Storage.ResultDir,
		TranscribeTimeout: time.Duration(cfg.ASR.Timeout) * time.Second,
		LocalizeTimeout:   time.Duration(cfg.Translate.Timeout) * time.Second,
		SynthesizeTimeout: time.Duration(cfg.TTS.Timeout) * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	dubbingWorker := worker.NewDubbingWorker(orchestrator, resultStore, cfg.Worker.JobTimeoutDuration())

	// Job dispatch: in-process pool or asynq on Redis
	var dispatcher service.Dispatcher
	var pool *worker.Pool
	var asynqServer *asynq.Server
	if cfg.UsesRedis() {
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		inspector := asynq.NewInspector(redisOpt)
		defer inspector.Close()

		dispatcher = service.NewAsynqDispatcher(asynqClient, inspector, cfg.Worker.QueueCapacity, cfg.Worker.JobTimeoutDuration())
		asynqServer = startWorkerServer(cfg, redisOpt, dubbingWorker)
	} else {
		pool = worker.NewPool(cfg.Worker.Concurrency, cfg.Worker.QueueCapacity, dubbingWorker.Handle)
		pool.Start(ctx)
		dispatcher = service.NewPoolDispatcher(pool)
	}

	// Initialize services
	dubbingService := service.NewDubbingService(service.DubbingServiceOptions{
		Upload:     cfg.Upload,
		UploadDir:  cfg.Storage.UploadDir,
		ResultDir:  cfg.Storage.ResultDir,
		Tracker:    tracker,
		Dispatcher: dispatcher,
		Store:      resultStore,
		URLExpiry:  time.Duration(cfg.R2.URLExpiry) * time.Minute,
		History:    historyReader,
	})

	janitor := cleanup.NewJanitor(workspaces, tracker, cleanup.Options{
		UploadDir:       cfg.Storage.UploadDir,
		Interval:        time.Duration(cfg.Cleanup.IntervalMinutes) * time.Minute,
		WorkspaceMaxAge: time.Duration(cfg.Cleanup.WorkspaceMaxAgeHours) * time.Hour,
		UploadMaxAge:    time.Duration(cfg.Cleanup.UploadMaxAgeHours) * time.Hour,
	})
	janitor.Start(ctx)

	// Token verifiers: JWKS first, shared secret as fallback
	var verifiers auth.Chain
	if cfg.Auth.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(&cfg.Auth)
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
		} else {
			verifiers = append(verifiers, jwksVerifier)
		}
	}
	if cfg.Auth.JWTSecret != "" {
		verifiers = append(verifiers, auth.NewHMACVerifier(cfg.Auth.JWTSecret))
	}
	defer verifiers.Close()

	var apiAuthMiddleware fiber.Handler
	switch {
	case cfg.Gateway.Enabled:
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	case len(verifiers) > 0:
		apiAuthMiddleware = middleware.NewAuthMiddleware(verifiers).Authenticate()
	default:
		log.Println("Warning: no authentication configured, API routes are open")
	}

	// keep the interface nil when Redis is off so the limiter uses memory
	var rateLimiter *middleware.RateLimiter
	if redisClient != nil {
		rateLimiter = middleware.NewRateLimiter(redisClient)
	} else {
		rateLimiter = middleware.NewRateLimiter(nil)
	}

	var tokenVerifier auth.TokenVerifier
	if len(verifiers) > 0 {
		tokenVerifier = verifiers
	}

	app := handler.NewApp(handler.AppConfig{
		BodyLimitMB: cfg.Server.BodyLimitMB,
		LogLevel:    cfg.Server.LogLevel,
	})
	handler.Register(app, handler.Routes{
		Dubbing:     handler.NewDubbingHandler(dubbingService),
		Auth:        handler.NewAuthHandler(tokenVerifier),
		Hub:         hub,
		APIAuth:     apiAuthMiddleware,
		UploadLimit: rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour),
		Health: func() fiber.Map {
			return fiber.Map{
				"queue":     cfg.Queue.Backend,
				"asr":       cfg.ASR.Provider,
				"translate": cfg.Translate.Provider,
				"tts":       cfg.TTS.Provider,
				"r2":        resultStore != nil,
				"history":   historyReader != nil,
				"auth":      len(verifiers) > 0 || cfg.Gateway.Enabled,
				"pending":   pendingJobs(pool),
			}
		},
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s (queue backend: %s)", addr, cfg.Queue.Backend)
	if err := app.Listen(addr); err != nil {
		log.Printf("Server error: %v", err)
	}

	janitor.Stop()
	if pool != nil {
		pool.Stop()
	}
	if asynqServer != nil {
		asynqServer.Shutdown()
	}
	log.Println("Server stopped")
}

func newTranscriber(cfg *config.Config) dubbing.Transcriber {
	switch cfg.ASR.Provider {
	case "whisper-cli":
		return dubbing.NewWhisperCLITranscriber(media.ExecRunner{}, cfg.ASR.WhisperCommand, cfg.ASR.WhisperModel, cfg.ASR.Language)
	default:
		openaiClient := client.NewOpenAIClient(cfg.ASR.APIKey, cfg.ASR.BaseURL)
		if !openaiClient.IsConfigured() {
			log.Println("Warning: OPENAI_API_KEY not set, transcription requests will fail")
		}
		return dubbing.NewOpenAITranscriber(openaiClient, cfg.ASR.Model, cfg.ASR.Language)
	}
}

func newLocalizer(cfg *config.Config) dubbing.Localizer {
	switch cfg.Translate.Provider {
	case "openai":
		openaiClient := client.NewOpenAIClient(cfg.Translate.APIKey, cfg.Translate.BaseURL)
		chat := func(ctx context.Context, system, user string) (string, error) {
			return openaiClient.ChatCompletion(ctx, cfg.Translate.Model, system, user)
		}
		return dubbing.NewChatLocalizer(chat, cfg.Translate.TargetLanguage)
	case "groq":
		groqClient := client.NewGroqClient(&cfg.Groq, time.Duration(cfg.Translate.Timeout)*time.Second)
		if !groqClient.IsConfigured() {
			log.Println("Warning: GROQ_API_KEY not set, localization requests will fail")
		}
		return dubbing.NewChatLocalizer(groqClient.Translate, cfg.Translate.TargetLanguage)
	default:
		return dubbing.IdentityLocalizer{}
	}
}

func newSynthesizer(cfg *config.Config) dubbing.Synthesizer {
	if cfg.TTS.Provider == "openai" {
		return dubbing.NewOpenAISynthesizer(client.NewOpenAIClient(cfg.TTS.OpenAIKey, cfg.TTS.OpenAIURL), cfg.TTS.OpenAIVoice)
	}
	yatingClient := client.NewYatingClient(&cfg.TTS)
	if !yatingClient.IsConfigured() {
		log.Println("Warning: YATING_API_KEY not set, speech synthesis requests will fail")
	}
	return dubbing.NewYatingSynthesizer(yatingClient)
}

func pendingJobs(pool *worker.Pool) int {
	if pool == nil {
		return -1
	}
	return pool.Pending()
}

func startWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, dubbingWorker *worker.DubbingWorker) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			worker.QueueDubbing: 1,
		},
		LogLevel: asynqLogLevel,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeDubbing, dubbingWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Fatalf("Asynq worker error: %v", err)
	}
	return srv
}
