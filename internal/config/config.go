// Package config handles CodeCraft configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned by [FindConfig] when no explicit path was given
// and none of the search paths exist. Callers may fall back to [Default].
var ErrNoConfig = errors.New("no config file found")

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./codecraft.yaml, ~/.config/codecraft/config.yaml, /etc/codecraft/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"codecraft.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "codecraft", "config.yaml"))
	}

	paths = append(paths, "/etc/codecraft/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists,
// or an error wrapping [ErrNoConfig].
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all CodeCraft configuration.
type Config struct {
	Models     ModelsConfig     `yaml:"models"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Index      IndexConfig      `yaml:"index"`
	Memory     MemoryConfig     `yaml:"memory"`

	// RepoPath is the repository the agent works on. Relative tool
	// paths resolve against it.
	RepoPath string `yaml:"repo_path"`

	// TopK is the default number of retrieval results for
	// search_codebase.
	TopK int `yaml:"top_k"`

	// AllowModifications enables modify_file. Off by default.
	AllowModifications bool `yaml:"allow_modifications"`
	// RequireConfirmation asks the operator before each write.
	RequireConfirmation bool   `yaml:"require_confirmation"`
	BackupDir           string `yaml:"backup_dir"`

	// HistoryDB, when set, persists change records to SQLite.
	HistoryDB string `yaml:"history_db"`

	// Reasoning enables the planning pass before each turn.
	Reasoning bool `yaml:"reasoning"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Model   string `yaml:"model"`   // Embedding model name (e.g., nomic-embed-text)
	BaseURL string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// IndexConfig controls the retrieval index and the indexer that builds it.
type IndexConfig struct {
	Path         string   `yaml:"path"`
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Extensions   []string `yaml:"extensions"`
	MinScore     float64  `yaml:"min_score"`
	Concurrency  int      `yaml:"concurrency"`
}

// MemoryConfig bounds the conversation window.
type MemoryConfig struct {
	MaxTurns         int `yaml:"max_turns"`
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// ModelsConfig defines model routing settings.
type ModelsConfig struct {
	Default string `yaml:"default"`
	// Reasoning is the model used for the planning pass. Empty means
	// Default.
	Reasoning string        `yaml:"reasoning"`
	OllamaURL string        `yaml:"ollama_url"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig maps a model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, anthropic
}

// Load reads configuration from a YAML file, expands ${VAR} references,
// applies defaults for anything unset, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	// Unmarshal over the defaults so booleans that default to true stay
	// true unless the file says otherwise.
	// Derived fields are cleared so they follow the file's values.
	cfg := Default()
	cfg.Models.Available = nil
	cfg.Models.Reasoning = ""
	cfg.Embeddings.BaseURL = ""
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Models: ModelsConfig{
			Default:   "gemma3:1b",
			OllamaURL: "http://localhost:11434",
		},
		Embeddings: EmbeddingsConfig{
			Model: "nomic-embed-text",
		},
		Index: IndexConfig{
			Path:         filepath.Join("data", "index.db"),
			ChunkSize:    1000,
			ChunkOverlap: 200,
			Extensions:   []string{".go", ".py", ".js", ".ts", ".md"},
			Concurrency:  4,
		},
		Memory: MemoryConfig{
			MaxTurns:         20,
			MaxContextTokens: 4000,
		},
		RepoPath:            ".",
		TopK:                5,
		RequireConfirmation: true,
		BackupDir:           "backups",
		Reasoning:           true,
		LogLevel:            "info",
		LogFormat:           "text",
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Models.Default == "" {
		c.Models.Default = "gemma3:1b"
	}
	if c.Models.Reasoning == "" {
		c.Models.Reasoning = c.Models.Default
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if len(c.Models.Available) == 0 {
		c.Models.Available = []ModelConfig{{Name: c.Models.Default, Provider: "ollama"}}
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Models.OllamaURL
	}
	if c.Index.Path == "" {
		c.Index.Path = filepath.Join("data", "index.db")
	}
	if c.Index.ChunkSize <= 0 {
		c.Index.ChunkSize = 1000
	}
	if c.Index.ChunkOverlap < 0 {
		c.Index.ChunkOverlap = 0
	}
	if c.Index.Concurrency <= 0 {
		c.Index.Concurrency = 4
	}
	for i, ext := range c.Index.Extensions {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			c.Index.Extensions[i] = "." + ext
		}
	}
	if c.Memory.MaxTurns <= 0 {
		c.Memory.MaxTurns = 20
	}
	if c.Memory.MaxContextTokens <= 0 {
		c.Memory.MaxContextTokens = 4000
	}
	if c.RepoPath == "" {
		c.RepoPath = "."
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.BackupDir == "" {
		c.BackupDir = "backups"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate reports configuration errors that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("index.chunk_overlap (%d) must be smaller than index.chunk_size (%d)",
			c.Index.ChunkOverlap, c.Index.ChunkSize)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q must be text or json", c.LogFormat)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "ollama", "":
		case "anthropic":
			if c.Anthropic.APIKey == "" {
				return fmt.Errorf("model %s uses anthropic but anthropic.api_key is empty", m.Name)
			}
		default:
			return fmt.Errorf("model %s: unknown provider %q", m.Name, m.Provider)
		}
	}
	return nil
}

// ProviderFor returns the configured provider for a model name, or
// "ollama" when the model is not listed.
func (c *Config) ProviderFor(model string) string {
	for _, m := range c.Models.Available {
		if m.Name == model && m.Provider != "" {
			return m.Provider
		}
	}
	return "ollama"
}
