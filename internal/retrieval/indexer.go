package retrieval

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/sourcegraph/conc/pool"
)

// SkipDirs are directory names never descended into.
var SkipDirs = []string{".git", ".venv", "env", "node_modules", "dist", "build", "__pycache__", "venv"}

// IndexerConfig configures an [Indexer].
type IndexerConfig struct {
	Root         string
	Extensions   []string
	ChunkSize    int
	ChunkOverlap int
	// Concurrency bounds parallel embedding requests.
	Concurrency int
	// Model is recorded in the index metadata.
	Model  string
	Logger *slog.Logger
}

// Indexer walks a repository, chunks its source files and rebuilds an
// [Index] from them.
type Indexer struct {
	index    *Index
	embedder Embedder
	cfg      IndexerConfig
	logger   *slog.Logger
}

// IndexResult reports what a run did.
type IndexResult struct {
	Files   int
	Skipped int
	Chunks  int
}

// NewIndexer creates an indexer writing into index.
func NewIndexer(index *Index, embedder Embedder, cfg IndexerConfig) *Indexer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		index:    index,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With("component", "indexer"),
	}
}

// Run rebuilds the index. The stored index is only replaced once every
// chunk has been embedded; a failure leaves the previous index intact.
func (ixr *Indexer) Run(ctx context.Context) (IndexResult, error) {
	var res IndexResult

	files, err := ixr.Files()
	if err != nil {
		return res, err
	}
	ixr.logger.Info("scanning repository", "root", ixr.cfg.Root, "files", len(files))

	var pending []EmbeddedChunk
	for i, path := range files {
		if i > 0 && i%50 == 0 {
			ixr.logger.Info("scanned files", "count", i)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", path, err)
		}
		if !utf8.Valid(data) {
			ixr.logger.Debug("skipping non-UTF-8 file", "path", path)
			res.Skipped++
			continue
		}
		res.Files++
		for n, text := range ChunkText(string(data), ixr.cfg.ChunkSize, ixr.cfg.ChunkOverlap) {
			pending = append(pending, EmbeddedChunk{Chunk: Chunk{Text: text, FilePath: path, ChunkIndex: n}})
		}
	}

	if len(pending) == 0 {
		ixr.logger.Warn("no documents found to index", "root", ixr.cfg.Root)
		return res, ixr.index.Replace(ctx, nil, ixr.cfg.Model)
	}

	ixr.logger.Info("embedding chunks", "chunks", len(pending), "concurrency", ixr.cfg.Concurrency)
	if err := ixr.embedAll(ctx, pending); err != nil {
		return res, err
	}

	if err := ixr.index.Replace(ctx, pending, ixr.cfg.Model); err != nil {
		return res, err
	}
	res.Chunks = len(pending)
	return res, nil
}

// embedAll fills in the Embedding of every chunk, stopping at the first
// failure.
func (ixr *Indexer) embedAll(ctx context.Context, chunks []EmbeddedChunk) error {
	type embedded struct {
		seq int
		vec []float32
	}

	p := pool.NewWithResults[embedded]().
		WithContext(ctx).
		WithMaxGoroutines(ixr.cfg.Concurrency).
		WithCancelOnError().
		WithFirstError()

	for i := range chunks {
		text, where := chunks[i].Text, fmt.Sprintf("%s#%d", chunks[i].FilePath, chunks[i].ChunkIndex)
		p.Go(func(ctx context.Context) (embedded, error) {
			vec, err := ixr.embedder.Generate(ctx, text)
			if err != nil {
				return embedded{}, fmt.Errorf("embed %s: %w", where, err)
			}
			return embedded{seq: i, vec: vec}, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return err
	}
	if len(results) != len(chunks) {
		return errors.New("embedding incomplete")
	}
	slices.SortFunc(results, func(a, b embedded) int { return cmp.Compare(a.seq, b.seq) })
	for _, r := range results {
		chunks[r.seq].Embedding = r.vec
	}
	return nil
}

// Files lists the files to index under the root, in walk order: wanted
// extensions only, skipping [SkipDirs] and anything the root .gitignore
// matches.
func (ixr *Indexer) Files() ([]string, error) {
	root := ixr.cfg.Root
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .gitignore: %w", err)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if slices.Contains(SkipDirs, d.Name()) || (gi != nil && gi.MatchesPath(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !ixr.wanted(path) {
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

func (ixr *Indexer) wanted(path string) bool {
	if len(ixr.cfg.Extensions) == 0 {
		return true
	}
	return slices.Contains(ixr.cfg.Extensions, strings.ToLower(filepath.Ext(path)))
}

// ChunkText splits text into windows of size characters, each starting
// size-overlap characters after the previous one. The last window ends
// at the end of the text.
func ChunkText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks
}
