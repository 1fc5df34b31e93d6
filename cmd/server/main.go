// Command server runs the Styx chat service.
//
// @title                       Styx Chat API
// @version                     1.0
// @description                 Multi-room realtime chat with an AI participant.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/styxchat/chat-service/internal/api"
	"github.com/styxchat/chat-service/internal/api/handler"
	"github.com/styxchat/chat-service/internal/core/ports"
	"github.com/styxchat/chat-service/internal/core/service"
	"github.com/styxchat/chat-service/internal/core/trigger"
	"github.com/styxchat/chat-service/internal/infrastructure/ai"
	mongodb "github.com/styxchat/chat-service/internal/infrastructure/db/mongo"
	redisdb "github.com/styxchat/chat-service/internal/infrastructure/db/redis"
	"github.com/styxchat/chat-service/internal/infrastructure/queue"
	"github.com/styxchat/chat-service/internal/infrastructure/ratelimit"
	"github.com/styxchat/chat-service/internal/infrastructure/realtime"
	"github.com/styxchat/chat-service/internal/infrastructure/tts"
	"github.com/styxchat/chat-service/internal/pkg/config"
	"github.com/styxchat/chat-service/pkg/logger"
)

const (
	serviceName     = "chat-service"
	shutdownTimeout = 15 * time.Second
	sweepInterval   = time.Minute
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		// logger is not configured yet
		bootLog := logger.Init(logger.Options{Service: serviceName})
		bootLog.Error().Err(err).Msg("invalid configuration")
		return err
	}

	base := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: serviceName,
		Env:     cfg.Env,
	})
	log := logger.For("main")

	// --- Stores ---
	accounts, err := mongodb.Connect(ctx, mongodb.Config{
		URI:         cfg.Mongo.URI,
		Database:    cfg.Mongo.Database,
		AppName:     serviceName,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
	})
	if err != nil {
		log.Error().Err(err).Msg("mongodb unavailable")
		return err
	}
	defer accounts.Close()

	rdb, err := redisdb.Connect(ctx, redisdb.Config{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		ClientName: serviceName,
		PoolSize:   cfg.Redis.PoolSize,
	})
	if err != nil {
		log.Error().Err(err).Msg("redis unavailable")
		return err
	}
	defer rdb.Close()

	userRepo := mongodb.NewUserRepository(accounts.DB)
	if err := userRepo.EnsureIndexes(ctx); err != nil {
		log.Error().Err(err).Msg("failed to create user indexes")
		return err
	}
	roomRepo := redisdb.NewRoomRepository(rdb)
	messages := redisdb.NewMessageStore(rdb)
	bus := redisdb.NewEventBus(rdb, base)

	// --- Upstreams ---
	aiClient := ai.NewClient(ai.Config{
		BaseURL: cfg.AI.ModelURL,
		APIKey:  cfg.AI.APIKey,
		Timeout: cfg.AI.ResponseTimeout + 5*time.Second,
	}, base)
	speech := tts.NewClient(tts.Config{
		BaseURL: cfg.TTS.URL,
		APIKey:  cfg.TTS.APIKey,
		VoiceID: cfg.TTS.VoiceID,
		Model:   cfg.TTS.Model,
	}, base)

	// --- Services ---
	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.TokenExpiry, base)
	userService := service.NewUserService(userRepo, base)
	roomService := service.NewRoomService(roomRepo, bus, base)
	presence := service.NewPresenceTracker(redisdb.NewPresenceStore(rdb), bus, base)

	created, generated, err := authService.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password)
	if err != nil {
		log.Error().Err(err).Msg("admin bootstrap failed")
		return err
	}
	if created {
		ev := log.Warn().Str("username", cfg.Admin.Username)
		if generated != "" {
			ev = ev.Str("generated_password", generated)
		}
		ev.Msg("admin account created")
	}
	if err := roomService.EnsureDefaultRoom(ctx); err != nil {
		log.Error().Err(err).Msg("default room bootstrap failed")
		return err
	}

	limiter := ratelimit.New(map[ports.Channel]ratelimit.Rule{
		ports.ChannelAuth: {Events: cfg.RateLimit.Auth.Events, Window: cfg.RateLimit.Auth.Window},
		ports.ChannelAPI:  {Events: cfg.RateLimit.API.Events, Window: cfg.RateLimit.API.Window},
		ports.ChannelWS:   {Events: cfg.RateLimit.WS.Events, Window: cfg.RateLimit.WS.Window},
	})

	hub := realtime.NewHub(roomService, base)
	dispatcher := queue.NewDispatcher(cfg.Chat.PipelineWorkers, base)
	assistant := service.NewAssistant(service.AssistantConfig{
		Name:         cfg.AI.AssistantName,
		Alias:        cfg.AI.TriggerAlias,
		DefaultModel: cfg.AI.Model,
		Timeout:      cfg.AI.ResponseTimeout,
		ContextSize:  cfg.AI.ContextSize,
		Temperature:  cfg.AI.Temperature,
		MaxTokens:    cfg.AI.MaxTokens,
	}, aiClient, messages, bus, base)
	pipeline := service.NewPipeline(service.PipelineConfig{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		HistorySize:      cfg.Chat.MaxHistory,
	}, service.PipelineDeps{
		Rooms:     roomRepo,
		Store:     messages,
		Dedup:     redisdb.NewDedupChecker(rdb),
		Notifier:  hub,
		Queue:     dispatcher,
		Assistant: assistant,
		Detector:  trigger.NewDetector(cfg.AI.TriggerAlias),
		HelpText:  service.HelpText(cfg.AI.AssistantName, cfg.AI.TriggerAlias),
	}, base)

	wsServer := realtime.NewServer(hub, realtime.Deps{
		Auth:     authService,
		Rooms:    roomService,
		Presence: presence,
		Chat:     pipeline,
		Bus:      bus,
		Limiter:  limiter,
	}, realtime.Config{
		PingInterval:     cfg.Chat.PingInterval,
		PongTimeout:      cfg.Chat.PongTimeout,
		AllowedOrigins:   cfg.AllowedOrigins,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
	}, base)

	e := api.NewRouter(api.Deps{
		Auth:         authService,
		TokenTTL:     authService.TokenTTL(),
		Users:        userService,
		Rooms:        roomService,
		Chat:         pipeline,
		Completer:    aiClient,
		DefaultModel: cfg.AI.Model,
		Speech:       speech,
		Voices:       speech,
		Limiter:      limiter,
		Realtime:     wsServer,
		Ready: map[string]handler.Check{
			"mongodb": handler.MongoCheck(accounts.DB),
			"redis":   handler.RedisCheck(rdb),
		},
		Informational:  map[string]handler.Check{"ai": aiClient.Ping},
		AllowedOrigins: cfg.AllowedOrigins,
		Log:            base,
	})

	// Pipeline workers outlive the signal so assistant fallbacks still land;
	// Close drains them once the assistant has settled.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	dispatcher.Start(workerCtx, pipeline)

	g, gctx := errgroup.WithContext(ctx)

	ready := make(chan struct{})
	g.Go(func() error { return hub.Run(gctx, bus, ready) })
	g.Go(func() error {
		limiter.Run(gctx, sweepInterval)
		return nil
	})
	g.Go(func() error {
		select {
		case <-ready:
		case <-gctx.Done():
			return nil
		}
		log.Info().Str("port", cfg.Port).Msg("chat service listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := e.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("http shutdown incomplete")
		}
		if err := wsServer.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("websocket sessions still open at deadline")
		}
		assistant.Shutdown()
		dispatcher.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
