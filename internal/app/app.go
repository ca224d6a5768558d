package app

import (
	"context"
	"fmt"
	"log/slog"

	"paklaw.com/paklaw-assist/internal/auth"
	"paklaw.com/paklaw-assist/internal/config"
	"paklaw.com/paklaw-assist/internal/core"
	"paklaw.com/paklaw-assist/internal/logging"
	"paklaw.com/paklaw-assist/internal/retrieval"
	"paklaw.com/paklaw-assist/internal/store"
	"paklaw.com/paklaw-assist/internal/textproc"
)

// App holds the services shared by the HTTP server and the CLI.
type App struct {
	Config    config.Config
	DB        *store.SQLiteStore
	Chats     core.ChatStore
	Index     *retrieval.Index
	Responder *retrieval.Responder
	LLM       *core.LLMService
	Router    *core.Router
	Auth      *auth.Service
	Chat      *core.ChatService

	logger *slog.Logger
}

// New builds the offline index from cfg.CorpusPath, opens the stores and
// wires the router. An unloadable corpus is fatal.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg, logger: logging.NewModuleLogger("app", "bootstrap")}

	if err := a.buildIndex(); err != nil {
		return nil, err
	}

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db
	a.Auth = auth.NewService(db)

	switch cfg.ChatStore {
	case config.ChatStoreFile:
		a.Chats = store.NewFileStore(cfg.ChatStorePath)
		a.logger.Info("Using JSON chat store", "path", cfg.ChatStorePath)
	default:
		a.Chats = db
		a.logger.Info("Using SQLite chat store", "path", cfg.DatabaseURL)
	}

	var generator core.Generator
	if cfg.OnlineEnabled() {
		llm, err := core.NewLLMService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.LLMTimeout)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.LLM = llm
		generator = llm
	} else {
		a.logger.Warn("GEMINI_API_KEY not set, answering from the offline corpus only")
	}

	prober := core.NewHTTPProber(cfg.ReachabilityURLs, cfg.ReachabilityTimeout)
	prompts := core.NewPromptBuilder(core.NewTokenCounter(), cfg.HistoryTokenBudget)
	a.Router = core.NewRouter(generator, prober, a.Responder, prompts)
	a.Chat = core.NewChatService(a.Auth, a.Chats, a.Router, cfg.SessionTTL)
	return a, nil
}

func (a *App) buildIndex() error {
	entries, err := retrieval.LoadCorpus(a.Config.CorpusPath)
	if err != nil {
		return fmt.Errorf("failed to load corpus %s: %w", a.Config.CorpusPath, err)
	}
	normalizer, err := textproc.New()
	if err != nil {
		return fmt.Errorf("failed to load lemmatizer: %w", err)
	}
	index, err := retrieval.BuildIndex(entries, normalizer)
	if err != nil {
		return fmt.Errorf("failed to build offline index: %w", err)
	}

	a.Index = index
	a.Responder = retrieval.NewResponder(index, a.Config.SimilarityThreshold)
	a.logger.Info("Offline index ready", "entries", index.Len(), "terms", index.VocabularySize(), "threshold", a.Config.SimilarityThreshold)
	return nil
}

// Close logs out live sessions and releases the model client and database.
func (a *App) Close() {
	if a.Chat != nil {
		a.Chat.Shutdown(context.Background())
	}
	if a.LLM != nil {
		a.LLM.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.logger.Error("Error closing database", "error", err)
		}
	}
}
