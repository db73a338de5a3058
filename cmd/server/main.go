package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/avvvet/mute-api/internal/cache"
	"github.com/avvvet/mute-api/internal/config"
	"github.com/avvvet/mute-api/internal/handlers"
	"github.com/avvvet/mute-api/internal/llm"
	"github.com/avvvet/mute-api/internal/logging"
	"github.com/avvvet/mute-api/internal/mcp"
	"github.com/avvvet/mute-api/internal/music"
	"github.com/avvvet/mute-api/internal/prompts"
	"github.com/avvvet/mute-api/internal/transport"
	"github.com/avvvet/mute-api/internal/video"
)

const version = "0.1.0"

func main() {
	// Load .env file if it exists (for development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("❌ Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("🚀 Starting MUTE API",
		zap.String("service", cfg.ServiceName),
		zap.String("port", cfg.Port),
		zap.String("model", cfg.AnthropicModel))
	logger.Info("Credentials",
		zap.Bool("anthropic", cfg.AnthropicAPIKey != ""),
		zap.Bool("opensea", cfg.ToolsEnabled()),
		zap.Bool("google", cfg.GoogleAPIKey != ""),
		zap.Bool("veed", cfg.VeedAPIKey != ""),
		zap.Bool("audius", cfg.AudiusAPIKey != ""))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Conversation orchestrator
	provider := llm.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, cfg.AnthropicTimeout)
	tools := mcp.NewClient(cfg.OpenSeaMCPURL, cfg.OpenSeaBearerToken, cfg.ServiceName, version)
	chat := handlers.NewChatHandler(provider, tools, prompts.NewSystemPrompt(cfg.AssistantName, "MUTE"), handlers.ChatOptions{
		Model:         cfg.AnthropicModel,
		MaxTokens:     cfg.MaxTokens,
		MaxIterations: cfg.MaxToolIterations,
	}, logger)
	collections := handlers.NewCollectionsHandler(tools, cfg.PopularCollections, logger)

	// Video generation
	veo, err := video.NewVeoGenerator(ctx, cfg.GoogleAPIKey)
	if err != nil {
		return err
	}
	tracker := video.NewTracker(veo, cfg.VeoModel, cfg.VideoJobTTL, logger)
	if err := tracker.StartSweeper(cfg.VideoSweepSchedule); err != nil {
		return fmt.Errorf("invalid VIDEO_SWEEP_SCHEDULE: %w", err)
	}
	defer tracker.StopSweeper()

	altVideo := video.NewAltVideoClient(video.AltVideoOptions{
		APIKey:        cfg.VeedAPIKey,
		BaseURL:       cfg.VeedBaseURL,
		VideoDir:      cfg.VideoDir,
		PublicBaseURL: cfg.PublicBaseURL,
	}, logger)

	// Music catalog, cached in Redis when configured
	var store cache.Store = cache.NopStore{}
	if cfg.RedisURL != "" {
		redisStore, err := cache.NewRedisStore(cfg.RedisURL, "music", cfg.MusicCacheTTL)
		if err != nil {
			logger.Warn("Redis unavailable, music cache disabled", zap.Error(err))
		} else {
			logger.Info("✅ Redis connected")
			store = redisStore
		}
	}
	defer store.Close()

	catalog := music.NewClient(music.Options{
		BaseURL: cfg.AudiusBaseURL,
		APIKey:  cfg.AudiusAPIKey,
		AppName: cfg.AudiusAppName,
	}, store, logger)

	server := transport.NewHTTPServer(cfg, transport.Services{
		Chat:        chat,
		Collections: collections,
		Videos:      tracker,
		AltVideo:    altVideo,
		Music:       catalog,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })

	if cfg.NatsURL != "" {
		natsTransport, err := transport.NewNATSTransport(cfg, chat, logger)
		if err != nil {
			return err
		}
		if err := natsTransport.Start(); err != nil {
			natsTransport.Close()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return natsTransport.Close()
		})
	}

	logger.Info("✅ MUTE API is running", zap.String("public_url", cfg.PublicBaseURL))

	err = g.Wait()
	logger.Info("👋 MUTE API stopped", zap.Int("pending_video_operations", tracker.Pending()))
	return err
}
