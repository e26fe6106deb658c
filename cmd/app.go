package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillhq/quill/db"
	"github.com/quillhq/quill/internal/config"
	"github.com/quillhq/quill/internal/conversation"
	"github.com/quillhq/quill/internal/enrich"
	"github.com/quillhq/quill/internal/history"
	"github.com/quillhq/quill/internal/log"
	"github.com/quillhq/quill/internal/provider"
)

// defaultWorkspace is the workspace all CLI exchanges attach to. Workspaces
// become interesting once multiple clients share one database.
var defaultWorkspace = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// app bundles the shared wiring for all commands.
type app struct {
	cfg       *config.Config
	logger    log.Logger
	providers map[string]provider.Provider

	pool  *pgxpool.Pool
	store *history.Store
}

// setup loads configuration and constructs every provider that has
// credentials. The database is connected separately, because ask and chat
// degrade gracefully without one.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level: parseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})

	providers := make(map[string]provider.Provider)
	if cfg.GeminiAPIKey != "" {
		g, err := provider.NewGemini(ctx, provider.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating gemini provider: %w", err)
		}
		providers[provider.NameGemini] = g
	}
	if cfg.OpenAIAPIKey != "" {
		o, err := provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBase,
			Model:   cfg.OpenAIModel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating openai provider: %w", err)
		}
		providers[provider.NameOpenAI] = o
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no provider configured: set GEMINI_API_KEY or OPENAI_API_KEY")
	}
	if _, ok := providers[cfg.Provider]; !ok {
		return nil, fmt.Errorf("provider %q selected but not configured", cfg.Provider)
	}

	return &app{cfg: cfg, logger: logger, providers: providers}, nil
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// connectStore connects to PostgreSQL, runs migrations, and builds the
// history store.
func (a *app) connectStore(ctx context.Context) (*history.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	url := a.cfg.DatabaseURL()
	if err := db.Migrate(url); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	a.pool = pool
	a.store = history.New(pool, a.logger)
	return a.store, nil
}

// tryStore is connectStore with graceful degradation: without a reachable
// database the conversation still works, it just isn't saved.
func (a *app) tryStore(ctx context.Context) *history.Store {
	store, err := a.connectStore(ctx)
	if err != nil {
		a.logger.Warn("history disabled, database unavailable", "error", err)
		return nil
	}
	return store
}

// activeGenerator routes enrichment generation through whichever backend is
// currently active on the manager, so a provider switch carries over to
// suggestions and summaries.
type activeGenerator struct {
	providers map[string]provider.Provider
	manager   *conversation.Manager
}

var _ enrich.Generator = (*activeGenerator)(nil)

func (g *activeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.providers[g.manager.Provider()].Generate(ctx, prompt)
}

// manager builds a conversation manager with all enrichment wired in.
func (a *app) manager(store *history.Store) (*conversation.Manager, error) {
	gen := &activeGenerator{providers: a.providers}

	mc := conversation.Config{
		Providers:   a.providers,
		Active:      a.cfg.Provider,
		WorkspaceID: defaultWorkspace,
		Suggester:   enrich.NewSuggester(gen, a.logger),
		Images:      enrich.NewImageFinder(nil, a.logger),
		Logger:      a.logger,
	}
	if store != nil {
		mc.History = store
		mc.Summaries = enrich.NewSummarizer(gen, store, a.logger)
	}

	m, err := conversation.New(mc)
	if err != nil {
		return nil, err
	}
	gen.manager = m
	return m, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// waitIdle blocks until the manager leaves its busy states, polling snapshots
// between events so lossy notifications cannot stall the caller.
func waitIdle(ctx context.Context, m *conversation.Manager) conversation.Snapshot {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap := m.Snapshot()
		if !snap.State.Busy() {
			return snap
		}
		select {
		case <-ctx.Done():
			m.Stop()
			return m.Snapshot()
		case <-m.Events():
		case <-ticker.C:
		}
	}
}

// detectMIME sniffs a small attachment payload.
func detectMIME(name string, data []byte) string {
	mime := http.DetectContentType(data)
	if mime == "application/octet-stream" && strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return "application/pdf"
	}
	return mime
}
