package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/grimoire/backend/internal/config"
	"github.com/zhouzirui/grimoire/backend/internal/handler"
	personamodel "github.com/zhouzirui/grimoire/backend/internal/model/persona"
	"github.com/zhouzirui/grimoire/backend/internal/service/ai"
	"github.com/zhouzirui/grimoire/backend/internal/service/conversation"
	"github.com/zhouzirui/grimoire/backend/internal/service/identify"
	personaservice "github.com/zhouzirui/grimoire/backend/internal/service/persona"
	"github.com/zhouzirui/grimoire/backend/internal/service/pipeline"
	"github.com/zhouzirui/grimoire/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, continuing with system environment variables only", zap.Error(envErr))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := openStore(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close conversation store failed", zap.Error(err))
		}
	}()

	deps := handler.Dependencies{
		Server:        cfg.Server,
		Conversations: store,
		Logger:        logger,
	}

	// Initialize AI service
	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, cfg.AI, logger)
		if err != nil {
			logger.Warn("failed to initialize AI service, continuing without text generation", zap.Error(err))
			aiService = nil
		} else {
			logger.Info("AI service initialized", zap.String("model", cfg.AI.Model))
		}
	} else {
		logger.Warn("Ark credentials not configured, skipping AI initialization")
	}

	var resolver *personaservice.Resolver
	if aiService != nil {
		cache, err := newPersonaCache(ctx, cfg.Persona, logger)
		if err != nil {
			return err
		}
		resolver = personaservice.NewResolver(aiService, cache, personaservice.Options{
			CacheDefaults: cfg.Persona.CacheDefaults,
			Timeout:       cfg.Pipeline.UpstreamTimeout,
			Logger:        logger,
		})
		defer func() {
			if err := resolver.Close(); err != nil {
				logger.Warn("close persona cache failed", zap.Error(err))
			}
		}()
		deps.Personas = resolver
		deps.Identifier = identify.NewService(aiService, cfg.Pipeline.UpstreamTimeout, logger)
	}

	// Initialize Speech service
	var speechService *speech.Service
	if cfg.Speech.Enabled {
		speechService, err = speech.NewService(cfg.Speech, logger)
		if err != nil {
			logger.Warn("failed to initialize speech service, continuing without voice", zap.Error(err))
			speechService = nil
		} else {
			logger.Info("speech service initialized",
				zap.String("transcriptionModel", cfg.Speech.TranscriptionModel),
				zap.String("synthesisModel", cfg.Speech.SynthesisModel),
			)
			deps.Speech = speechService
		}
	} else {
		logger.Warn("speech credentials not configured, skipping voice initialization")
	}

	if aiService != nil {
		opts := pipeline.Options{
			Resolver:  resolver,
			Generator: aiService,
			Log:       store,
			Timeout:   cfg.Pipeline.UpstreamTimeout,
			Logger:    logger,
		}
		if speechService != nil {
			opts.Transcriber = speechService
			opts.Synthesizer = speechService
		}
		deps.Turns = pipeline.New(opts)
	}

	router := handler.NewRouter(deps)
	return startServer(ctx, cfg.Server, router, logger)
}

func openStore(cfg config.StoreConfig, logger *zap.Logger) (conversation.Store, error) {
	switch cfg.Driver {
	case config.StoreFile:
		logger.Info("using file conversation store", zap.String("path", cfg.Path))
		return conversation.Open(cfg.Path)
	case config.StorePostgres:
		logger.Info("using postgres conversation store")
		return conversation.NewGormStore(cfg.DatabaseURL, logger)
	default:
		logger.Info("using in-memory conversation store")
		return conversation.NewMemoryStore(), nil
	}
}

func newPersonaCache(ctx context.Context, cfg config.PersonaConfig, logger *zap.Logger) (personamodel.Cache, error) {
	if cfg.RedisURL == "" {
		return personamodel.NewMemoryCache(cfg.CacheSize), nil
	}

	cache, err := personaservice.NewRedisCache(cfg.RedisURL, cfg.RedisTTL)
	if err != nil {
		return nil, fmt.Errorf("persona redis cache: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("persona redis cache: %w", err)
	}
	logger.Info("using redis persona cache", zap.Duration("ttl", cfg.RedisTTL))
	return cache, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("Grimoire backend listening", zap.String("addr", serverCfg.Addr))
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
