package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	maxListedDirs  = 20
	maxListedFiles = 30
	resultBodyMax  = 500
)

// SearchHit is one retrieval result as the search tool renders it.
type SearchHit struct {
	FilePath   string
	ChunkIndex int
	Score      float64
	Text       string
}

// Retriever finds indexed code relevant to a query, best match first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]SearchHit, error)
}

// Options configures the code tools.
type Options struct {
	// RepoRoot is the repository the tools operate on.
	RepoRoot string
	// BackupDir receives a copy of every file before it is modified.
	BackupDir string
	// TopK is the default number of search results.
	TopK int

	AllowModifications  bool
	RequireConfirmation bool

	// Retriever backs search_codebase. Nil means no index is available.
	Retriever Retriever
	// Confirmer approves modifications when RequireConfirmation is set.
	// Nil declines every modification.
	Confirmer Confirmer
	// ChangeSink, if set, receives each ChangeRecord after it is logged.
	ChangeSink ChangeSink

	Logger *slog.Logger
}

// CodeTools implements the built-in repository tools.
type CodeTools struct {
	opts    Options
	changes *ChangeLog
	logger  *slog.Logger
	clock   func() time.Time
}

// NewCodeTools creates the code tools.
func NewCodeTools(opts Options) *CodeTools {
	if opts.RepoRoot == "" {
		opts.RepoRoot = "."
	}
	if opts.BackupDir == "" {
		opts.BackupDir = "backups"
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CodeTools{
		opts:    opts,
		changes: NewChangeLog(opts.ChangeSink, logger),
		logger:  logger,
	}
}

// Changes returns the audit log of applied modifications.
func (c *CodeTools) Changes() *ChangeLog {
	return c.changes
}

// Register adds search_codebase, read_file, modify_file and list_files
// to r.
func (c *CodeTools) Register(r *Registry) error {
	defs := []*Tool{
		{
			Name:        "search_codebase",
			Description: "Search through the code repository using semantic search. Use this when you need to find relevant code snippets or understand the codebase structure.",
			Params: []Param{
				{Name: "query", Type: "string", Required: true, Description: "What to search for (e.g., 'function that handles authentication', 'database connection code')"},
				{Name: "top_k", Type: "integer", Default: c.opts.TopK, Description: fmt.Sprintf("Number of results to return (default: %d)", c.opts.TopK)},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				k, _ := intArg(args, "top_k")
				return c.Search(ctx, stringArg(args, "query"), k)
			},
		},
		{
			Name:        "read_file",
			Description: "Read the contents of a file. Use this when you need to see exactly what's in a specific file.",
			Params: []Param{
				{Name: "file_path", Type: "string", Required: true, Description: "Path to the file (e.g., 'src/utils.go', 'config.json')"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return c.ReadFile(ctx, stringArg(args, "file_path"))
			},
		},
		{
			Name:        "modify_file",
			Description: "Make changes to a code file. Use this when asked to fix, update, or improve code.",
			Params: []Param{
				{Name: "file_path", Type: "string", Required: true, Description: "Path to the file to modify"},
				{Name: "change_description", Type: "string", Required: true, Description: "Description of what needs to be changed (be specific)"},
				{Name: "new_code", Type: "string", Required: true, Description: "The new code to write"},
				{Name: "old_code", Type: "string", Description: "The exact code to replace (if replacing). Leave empty for new code."},
				{Name: "line_number", Type: "integer", Description: "Line number where to insert the new code (if known)"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				req := ModifyRequest{
					FilePath:    stringArg(args, "file_path"),
					Description: stringArg(args, "change_description"),
					NewCode:     stringArg(args, "new_code"),
					OldCode:     stringArg(args, "old_code"),
				}
				if n, ok := intArg(args, "line_number"); ok {
					if n < 0 {
						return "", &ArgumentError{Tool: "modify_file", Problems: []string{"line_number: must be a positive line number"}}
					}
					req.LineNumber = n
				}
				return c.ModifyFile(ctx, req)
			},
		},
		{
			Name:        "list_files",
			Description: "List files in a directory. Use this to explore the project structure.",
			Params: []Param{
				{Name: "directory_path", Type: "string", Default: ".", Description: "Directory to list (default: project root)"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return c.ListFiles(ctx, stringArg(args, "directory_path"))
			},
		},
	}

	for _, t := range defs {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Search renders the topK best matches for query.
func (c *CodeTools) Search(ctx context.Context, query string, topK int) (string, error) {
	if c.opts.Retriever == nil {
		return "", errors.New("no index found; run `codecraft index` first")
	}
	if topK <= 0 {
		topK = c.opts.TopK
	}

	hits, err := c.opts.Retriever.Retrieve(ctx, query, topK)
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	if len(hits) == 0 {
		return fmt.Sprintf("No results found for %q.", query), nil
	}

	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "\n--- Result %d ---\n", i+1)
		fmt.Fprintf(&b, "File: %s\n", h.FilePath)
		fmt.Fprintf(&b, "Relevance: %.3f\n", h.Score)
		b.WriteString("\n")
		b.WriteString(truncate(h.Text, resultBodyMax))
		b.WriteString("\n")
	}
	return b.String(), nil
}

// ReadFile returns a short header followed by the file's full content.
func (c *CodeTools) ReadFile(_ context.Context, path string) (string, error) {
	resolved, err := c.resolveFile(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	content := string(data)
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", resolved)
	fmt.Fprintf(&b, "Size: %d chars, %d lines\n", len([]rune(content)), countLines(content))
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n")
	b.WriteString(content)
	return b.String(), nil
}

// ListFiles lists a directory under the repository root, directories
// first, each group sorted by name.
func (c *CodeTools) ListFiles(_ context.Context, dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	target := filepath.Join(c.opts.RepoRoot, dir)
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", dir, err)
	}

	var dirs, files []fs.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e)
		} else {
			files = append(files, e)
		}
	}
	byName := func(a, b fs.DirEntry) int { return strings.Compare(a.Name(), b.Name()) }
	slices.SortFunc(dirs, byName)
	slices.SortFunc(files, byName)

	var b strings.Builder
	fmt.Fprintf(&b, "Directory: %s\n", target)
	if len(dirs) > 0 {
		b.WriteString("\nDirectories:\n")
		for _, d := range dirs[:min(len(dirs), maxListedDirs)] {
			fmt.Fprintf(&b, "  %s/\n", d.Name())
		}
	}
	if len(files) > 0 {
		b.WriteString("\nFiles:\n")
		for _, f := range files[:min(len(files), maxListedFiles)] {
			var size int64
			if fi, err := f.Info(); err == nil {
				size = fi.Size()
			}
			fmt.Fprintf(&b, "  %s (%d bytes)\n", f.Name(), size)
		}
	}
	if omitted := max(0, len(dirs)-maxListedDirs) + max(0, len(files)-maxListedFiles); omitted > 0 {
		fmt.Fprintf(&b, "\n... and %d more items\n", omitted)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// resolveFile finds path as given, then relative to the repository root.
func (c *CodeTools) resolveFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", ErrFileNotFound)
	}
	candidates := []string{path}
	if !filepath.IsAbs(path) {
		candidates = append(candidates, filepath.Join(c.opts.RepoRoot, path))
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
}

// countLines counts lines the way a text editor does: a trailing newline
// does not start another line.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
