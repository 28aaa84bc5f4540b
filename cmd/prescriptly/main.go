package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/prescriptly/internal/auth"
	"github.com/vbonduro/prescriptly/internal/config"
	"github.com/vbonduro/prescriptly/internal/db"
	"github.com/vbonduro/prescriptly/internal/llm"
	"github.com/vbonduro/prescriptly/internal/llm/claude"
	"github.com/vbonduro/prescriptly/internal/llm/ollama"
	"github.com/vbonduro/prescriptly/internal/llm/openai"
	"github.com/vbonduro/prescriptly/internal/logging"
	"github.com/vbonduro/prescriptly/internal/photostore/local"
	"github.com/vbonduro/prescriptly/internal/session"
	"github.com/vbonduro/prescriptly/internal/store"
	"github.com/vbonduro/prescriptly/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		cleanup()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	photos, err := local.NewDirStore(cfg.PhotoPath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize image store: %w", err)
	}

	tokens, err := auth.ParseTokens(cfg.AuthTokens)
	if err != nil {
		return fmt.Errorf("failed to parse AUTH_TOKENS: %w", err)
	}
	if len(tokens) == 0 {
		logger.Warn("AUTH_TOKENS is empty; every agent request will be rejected")
	}

	backends, err := newBackends(cfg, logger)
	if err != nil {
		return err
	}

	catalog := store.NewCatalogStore(database)
	carts := store.NewCartStore(database)
	manager, err := session.NewManager(session.Deps{
		Catalog:     catalog,
		Carts:       carts,
		Turns:       store.NewTurnStore(database),
		Uploads:     store.NewUploadStore(database),
		Photos:      photos,
		Chat:        backends.chat,
		Extractor:   backends.extractor,
		Transcriber: backends.transcriber,
	}, session.Options{
		MaxToolRounds:         cfg.MaxToolRounds,
		ClearCartConfirmation: cfg.ClearCartConfirmation,
		VoiceErrorReset:       cfg.VoiceErrorReset,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	server := web.NewServer(manager, catalog, carts, photos, auth.NewTokenAuthenticator(tokens), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx, cfg.ListenAddr)
	})
	g.Go(func() error {
		<-ctx.Done()
		manager.Shutdown()
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

type backends struct {
	chat        llm.ChatModel
	extractor   llm.Extractor
	transcriber llm.Transcriber
}

// newBackends selects the chat and vision providers from cfg. Every provider
// call shares one rate limiter and timeout.
func newBackends(cfg *config.Config, logger *slog.Logger) (*backends, error) {
	guard := llm.NewGuard(cfg.RequestsPerMinute, cfg.ModelTimeout)

	var (
		claudeClient *claude.Client
		openaiClient *openai.Client
	)
	if cfg.ClaudeAPIKey != "" {
		claudeClient = claude.New(cfg.ClaudeAPIKey, cfg.ClaudeModel)
	}
	if cfg.OpenAIAPIKey != "" {
		openaiClient = openai.New(openai.Config{
			APIKey:          cfg.OpenAIAPIKey,
			BaseURL:         cfg.OpenAIBaseURL,
			Model:           cfg.OpenAIModel,
			TranscribeModel: cfg.OpenAITranscribeModel,
		})
	}

	b := &backends{}
	switch cfg.ChatBackend {
	case "claude":
		if claudeClient == nil {
			return nil, errors.New("CLAUDE_API_KEY is required when LLM_BACKEND=claude")
		}
		logger.Info("using Claude chat backend", "model", cfg.ClaudeModel)
		b.chat = guard.Chat(claudeClient)
	case "openai":
		if openaiClient == nil {
			return nil, errors.New("OPENAI_API_KEY is required when LLM_BACKEND=openai")
		}
		logger.Info("using OpenAI chat backend", "model", cfg.OpenAIModel)
		b.chat = guard.Chat(openaiClient)
	default:
		return nil, fmt.Errorf("unknown LLM_BACKEND %q", cfg.ChatBackend)
	}

	switch cfg.VisionBackend {
	case "claude":
		if claudeClient == nil {
			return nil, errors.New("CLAUDE_API_KEY is required when VISION_BACKEND=claude")
		}
		logger.Info("using Claude vision backend", "model", cfg.ClaudeModel)
		b.extractor = guard.Extractor(claudeClient)
	case "openai":
		if openaiClient == nil {
			return nil, errors.New("OPENAI_API_KEY is required when VISION_BACKEND=openai")
		}
		logger.Info("using OpenAI vision backend", "model", cfg.OpenAIModel)
		b.extractor = guard.Extractor(openaiClient)
	default:
		logger.Info("using Ollama vision backend", "model", cfg.OllamaModel)
		b.extractor = guard.Extractor(ollama.NewExtractor(cfg.OllamaHost, cfg.OllamaModel))
	}

	if openaiClient != nil {
		logger.Info("voice input enabled", "model", cfg.OpenAITranscribeModel)
		b.transcriber = guard.Transcriber(openaiClient)
	} else {
		logger.Info("voice input disabled: OPENAI_API_KEY is not set")
	}
	return b, nil
}
