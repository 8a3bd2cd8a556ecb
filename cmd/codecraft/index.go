package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/codecraft/internal/changes"
	"github.com/nugget/codecraft/internal/embeddings"
	"github.com/nugget/codecraft/internal/retrieval"
)

// runIndex rebuilds the retrieval index for the configured repository.
// Interrupting it leaves the previous index in place.
func runIndex(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	embedder := embeddings.New(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		Logger:  logger,
	})
	ix, err := retrieval.Open(cfg.Index.Path, retrieval.Options{
		Embedder: embedder,
		MinScore: cfg.Index.MinScore,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("open index %s: %w", cfg.Index.Path, err)
	}
	defer ix.Close()

	indexer := retrieval.NewIndexer(ix, embedder, retrieval.IndexerConfig{
		Root:         cfg.RepoPath,
		Extensions:   cfg.Index.Extensions,
		ChunkSize:    cfg.Index.ChunkSize,
		ChunkOverlap: cfg.Index.ChunkOverlap,
		Concurrency:  cfg.Index.Concurrency,
		Model:        embedder.Model(),
		Logger:       logger,
	})

	start := time.Now()
	res, err := indexer.Run(ctx)
	if err != nil {
		return fmt.Errorf("index %s: %w", cfg.RepoPath, err)
	}
	elapsed := time.Since(start).Round(time.Millisecond)

	stats, err := ix.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read index %s: %w", cfg.Index.Path, err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"repo":        cfg.RepoPath,
			"index":       cfg.Index.Path,
			"files":       res.Files,
			"skipped":     res.Skipped,
			"chunks":      res.Chunks,
			"elapsed":     elapsed.String(),
			"model":       stats.Model,
			"indexed_at":  stats.IndexedAt,
			"total_files": stats.Files,
		})
	}
	fmt.Fprintf(stdout, "Indexed %d files (%d chunks) from %s into %s in %s\n",
		res.Files, res.Chunks, cfg.RepoPath, cfg.Index.Path, elapsed)
	if res.Skipped > 0 {
		fmt.Fprintf(stdout, "Skipped %d files that are not valid UTF-8\n", res.Skipped)
	}
	fmt.Fprintf(stdout, "Index: %s\n", describeIndex(stats))
	return nil
}

// describeIndex is the one-line summary of an index shown after
// indexing and when a session starts.
func describeIndex(s retrieval.Stats) string {
	if s.Chunks == 0 {
		return "empty"
	}
	desc := fmt.Sprintf("%d chunks from %d files", s.Chunks, s.Files)
	if s.Model != "" {
		desc += ", model " + s.Model
	}
	if !s.IndexedAt.IsZero() {
		desc += ", built " + s.IndexedAt.Local().Format(time.DateTime)
	}
	return desc
}

// historyEntry is the JSON shape of a change record.
type historyEntry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	FilePath    string    `json:"file_path"`
	Description string    `json:"description"`
	BackupPath  string    `json:"backup_path"`
	ChangeType  string    `json:"change_type"`
}

// runHistory lists the most recent persisted modifications, newest
// first.
func runHistory(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, limit int) error {
	cfg, _, err := setup(stderr, configPath)
	if err != nil {
		return err
	}
	if cfg.HistoryDB == "" {
		return errors.New("history_db is not configured; change records are kept for the session only")
	}

	store, err := changes.NewStore(cfg.HistoryDB)
	if err != nil {
		return fmt.Errorf("open change history: %w", err)
	}
	defer store.Close()

	records, err := store.List(ctx, limit)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		entries := make([]historyEntry, len(records))
		for i, r := range records {
			entries[i] = historyEntry(r)
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(records) == 0 {
		fmt.Fprintln(stdout, "No modifications recorded.")
		return nil
	}
	for _, r := range records {
		fmt.Fprintf(stdout, "%s  %-7s  %s\n", r.Timestamp.Local().Format(time.DateTime), r.ChangeType, r.FilePath)
		fmt.Fprintf(stdout, "    %s\n", r.Description)
		fmt.Fprintf(stdout, "    backup: %s\n", r.BackupPath)
	}
	return nil
}
