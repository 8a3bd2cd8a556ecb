// Package retrieval stores embedded code chunks and finds the ones most
// similar to a query.
//
// The index lives in a single SQLite database. Chunks are written in one
// transaction by [Index.Replace], so a search never sees a half-built
// index; [Index.Retrieve] embeds the query and ranks every stored chunk
// by cosine similarity.
package retrieval

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/codecraft/internal/embeddings"

	_ "modernc.org/sqlite"
)

// Chunk is one indexed piece of a source file. Score is set on search
// results only.
type Chunk struct {
	Text       string
	FilePath   string
	ChunkIndex int
	Score      float64
}

// Embedder turns text into a vector.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Options configures an [Index].
type Options struct {
	// Embedder embeds queries. Required for Retrieve.
	Embedder Embedder
	// MinScore drops results scoring below it.
	MinScore float64
	Logger   *slog.Logger
}

// Index is the SQLite-backed chunk store.
type Index struct {
	db       *sql.DB
	embedder Embedder
	minScore float64
	logger   *slog.Logger
}

// Stats describes the index contents.
type Stats struct {
	Chunks    int
	Files     int
	Model     string
	IndexedAt time.Time
}

// Open opens or creates the index database at path.
func Open(path string, opts Options) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// One connection keeps pragmas and writes on the same handle.
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ix := &Index{
		db:       db,
		embedder: opts.Embedder,
		minScore: opts.MinScore,
		logger:   logger.With("component", "retrieval"),
	}
	if err := ix.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index: %w", err)
	}
	return ix, nil
}

func (ix *Index) migrate() error {
	_, err := ix.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			file_path   TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content     TEXT NOT NULL,
			embedding   BLOB NOT NULL,
			PRIMARY KEY (file_path, chunk_index)
		);
		CREATE TABLE IF NOT EXISTS index_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

// Close closes the database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// EmbeddedChunk is a chunk with its vector, as written by the indexer.
type EmbeddedChunk struct {
	Chunk
	Embedding []float32
}

// Replace swaps the whole index contents for chunks in one transaction
// and records the embedding model that produced them.
func (ix *Index) Replace(ctx context.Context, chunks []EmbeddedChunk, model string) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (file_path, chunk_index, content, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.FilePath, c.ChunkIndex, c.Text, encodeEmbedding(c.Embedding)); err != nil {
			return fmt.Errorf("insert %s#%d: %w", c.FilePath, c.ChunkIndex, err)
		}
	}

	meta := map[string]string{
		"model":      model,
		"indexed_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	ix.logger.Info("index replaced", "chunks", len(chunks), "model", model)
	return nil
}

// Count returns the number of stored chunks.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Stats summarizes the index.
func (ix *Index) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := ix.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT file_path) FROM chunks`).Scan(&s.Chunks, &s.Files)
	if err != nil {
		return s, fmt.Errorf("stats: %w", err)
	}

	rows, err := ix.db.QueryContext(ctx, `SELECT key, value FROM index_meta`)
	if err != nil {
		return s, fmt.Errorf("stats meta: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return s, err
		}
		switch k {
		case "model":
			s.Model = v
		case "indexed_at":
			s.IndexedAt, _ = time.Parse(time.RFC3339Nano, v)
		}
	}
	return s, rows.Err()
}

// Retrieve returns up to topK chunks most similar to query, best first.
// An empty index yields an empty result without embedding the query.
func (ix *Index) Retrieve(ctx context.Context, query string, topK int) ([]Chunk, error) {
	if topK <= 0 {
		return []Chunk{}, nil
	}
	n, err := ix.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []Chunk{}, nil
	}
	if ix.embedder == nil {
		return nil, errors.New("no embedder configured")
	}

	qvec, err := ix.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := ix.db.QueryContext(ctx,
		`SELECT file_path, chunk_index, content, embedding FROM chunks ORDER BY file_path, chunk_index`)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	defer rows.Close()

	chunks := make([]Chunk, 0, n)
	vectors := make([][]float32, 0, n)
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.FilePath, &c.ChunkIndex, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
		vectors = append(vectors, decodeEmbedding(blob))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]Chunk, 0, topK)
	for _, m := range embeddings.TopK(qvec, vectors, topK) {
		if float64(m.Score) < ix.minScore {
			continue
		}
		c := chunks[m.Index]
		c.Score = float64(m.Score)
		results = append(results, c)
	}
	ix.logger.Debug("retrieved chunks", "query_len", len(query), "candidates", n, "results", len(results))
	return results, nil
}

func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	result := make([]float32, len(data)/4)
	for i := range result {
		result[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return result
}
