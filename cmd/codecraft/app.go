package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nugget/codecraft/internal/agent"
	"github.com/nugget/codecraft/internal/changes"
	"github.com/nugget/codecraft/internal/config"
	"github.com/nugget/codecraft/internal/embeddings"
	"github.com/nugget/codecraft/internal/llm"
	"github.com/nugget/codecraft/internal/retrieval"
	"github.com/nugget/codecraft/internal/tools"
)

// app holds the components shared by the subcommands that run tools.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	llm      *llm.MultiClient
	ollama   *llm.OllamaClient
	embedder *embeddings.Client
	index    *retrieval.Index // nil until "codecraft index" has run
	history  *changes.Store   // nil when history_db is unset
	registry *tools.Registry
	code     *tools.CodeTools
}

// newApp wires the model clients, the retrieval index, the change
// history and the tool registry. confirmer may be nil, in which case
// modifications that need confirmation are declined.
func newApp(cfg *config.Config, logger *slog.Logger, confirmer tools.Confirmer) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		embedder: embeddings.New(embeddings.Config{
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
			Logger:  logger,
		}),
	}
	a.llm, a.ollama = createLLMClient(cfg, logger)

	var retriever tools.Retriever
	if _, err := os.Stat(cfg.Index.Path); err == nil {
		ix, err := a.openIndex()
		if err != nil {
			return nil, err
		}
		a.index = ix
		retriever = indexRetriever{ix}
	} else {
		logger.Warn("no retrieval index; search_codebase is unavailable until `codecraft index` runs", "path", cfg.Index.Path)
	}

	var sink tools.ChangeSink
	if cfg.HistoryDB != "" {
		store, err := changes.NewStore(cfg.HistoryDB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open change history: %w", err)
		}
		a.history = store
		sink = store
	}

	a.registry = tools.NewRegistry(logger)
	a.code = tools.NewCodeTools(tools.Options{
		RepoRoot:            cfg.RepoPath,
		BackupDir:           cfg.BackupDir,
		TopK:                cfg.TopK,
		AllowModifications:  cfg.AllowModifications,
		RequireConfirmation: cfg.RequireConfirmation,
		Retriever:           retriever,
		Confirmer:           confirmer,
		ChangeSink:          sink,
		Logger:              logger,
	})
	if err := a.code.Register(a.registry); err != nil {
		a.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	logger.Info("tools ready",
		"repo", cfg.RepoPath,
		"tools", a.registry.Names(),
		"modifications", cfg.AllowModifications,
		"confirmation", cfg.RequireConfirmation,
	)
	return a, nil
}

func (a *app) openIndex() (*retrieval.Index, error) {
	ix, err := retrieval.Open(a.cfg.Index.Path, retrieval.Options{
		Embedder: a.embedder,
		MinScore: a.cfg.Index.MinScore,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", a.cfg.Index.Path, err)
	}
	return ix, nil
}

// indexStatus describes the retrieval index for the session banner.
func (a *app) indexStatus(ctx context.Context) string {
	if a.index == nil {
		return "none; run `codecraft index` to enable search"
	}
	stats, err := a.index.Stats(ctx)
	if err != nil {
		a.logger.Warn("could not read index stats", "error", err)
		return "unreadable"
	}
	return describeIndex(stats)
}

// checkModel warns when the default model's provider is unreachable or,
// for Ollama, when the model is not installed.
func (a *app) checkModel(ctx context.Context) {
	model := a.cfg.Models.Default
	if err := a.llm.PingModel(ctx, model); err != nil {
		a.logger.Warn("model provider unreachable", "model", model, "error", err)
		return
	}
	if a.cfg.ProviderFor(model) != "ollama" {
		return
	}

	installed, err := a.ollama.ListModels(ctx)
	if err != nil {
		a.logger.Warn("could not list ollama models", "error", err)
		return
	}
	if !hasModel(installed, model) {
		a.logger.Warn("default model is not installed; run `ollama pull` first", "model", model, "installed", installed)
	}
}

// hasModel matches names the way Ollama does, where a missing tag means
// "latest".
func hasModel(installed []string, model string) bool {
	if !strings.Contains(model, ":") {
		model += ":latest"
	}
	for _, name := range installed {
		if !strings.Contains(name, ":") {
			name += ":latest"
		}
		if name == model {
			return true
		}
	}
	return false
}

// newLoop starts a fresh agent session.
func (a *app) newLoop() *agent.Loop {
	return agent.New(agent.Config{
		Model:            a.cfg.Models.Default,
		ReasoningModel:   a.cfg.Models.Reasoning,
		Reasoning:        a.cfg.Reasoning,
		MaxTurns:         a.cfg.Memory.MaxTurns,
		MaxContextTokens: a.cfg.Memory.MaxContextTokens,
	}, a.llm, a.registry, a.logger)
}

// Close releases the databases.
func (a *app) Close() {
	var errs []error
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("close failed", "error", err)
	}
}

// createLLMClient builds a multi-provider client from the configuration.
// Models not explicitly mapped fall through to Ollama, which is also
// returned on its own for model management.
func createLLMClient(cfg *config.Config, logger *slog.Logger) (*llm.MultiClient, *llm.OllamaClient) {
	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	multi := llm.NewMultiClient(ollama)
	multi.AddProvider("ollama", ollama)

	if cfg.Anthropic.APIKey != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		logger.Debug("anthropic provider configured")
	}
	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}

	logger.Debug("model client initialized",
		"default_model", cfg.Models.Default,
		"default_provider", cfg.ProviderFor(cfg.Models.Default),
		"reasoning_model", cfg.Models.Reasoning,
	)
	return multi, ollama
}

// indexRetriever adapts the retrieval index to the search tool.
type indexRetriever struct {
	ix *retrieval.Index
}

func (r indexRetriever) Retrieve(ctx context.Context, query string, topK int) ([]tools.SearchHit, error) {
	chunks, err := r.ix.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	hits := make([]tools.SearchHit, len(chunks))
	for i, c := range chunks {
		hits[i] = tools.SearchHit{
			FilePath:   c.FilePath,
			ChunkIndex: c.ChunkIndex,
			Score:      c.Score,
			Text:       c.Text,
		}
	}
	return hits, nil
}
