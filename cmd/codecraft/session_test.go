package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeOllama serves /api/chat from a script of replies,
// /api/embeddings with letter-count vectors and /api/tags from models.
type fakeOllama struct {
	mu      sync.Mutex
	replies []string
	chats   int
	models  []string
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/embeddings":
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lower := strings.ToLower(req.Prompt)
		vec := []float32{
			float32(strings.Count(lower, "a")),
			float32(strings.Count(lower, "e")),
			float32(strings.Count(lower, "o")),
			1,
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	case "/api/chat":
		f.mu.Lock()
		reply := "ok"
		if len(f.replies) > 0 {
			reply = f.replies[0]
			f.replies = f.replies[1:]
		}
		f.chats++
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"model":   "test-model",
			"message": map[string]any{"role": "assistant", "content": reply},
			"done":    true,
		})
	case "/api/tags":
		f.mu.Lock()
		models := make([]map[string]string, len(f.models))
		for i, name := range f.models {
			models[i] = map[string]string{"name": name}
		}
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"models": models})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOllama) chatCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chats
}

type testEnv struct {
	repo    string
	config  string
	backups string
	ollama  *fakeOllama
}

// newTestEnv creates a repository with one Go file and a config pointing
// every path into temporary directories and the models at a fake Ollama.
func newTestEnv(t *testing.T, extra string, replies ...string) *testEnv {
	t.Helper()
	fake := &fakeOllama{replies: replies, models: []string{"test-model:latest"}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	repo := t.TempDir()
	if err := os.WriteFile(filepath.Join(repo, "db.go"), []byte("package db\n\n// Open opens the database connection.\nfunc Open() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	data := t.TempDir()
	env := &testEnv{
		repo:    repo,
		config:  filepath.Join(data, "codecraft.yaml"),
		backups: filepath.Join(data, "backups"),
		ollama:  fake,
	}
	cfg := fmt.Sprintf(`repo_path: %s
models:
  default: test-model
  ollama_url: %s
index:
  path: %s
history_db: %s
backup_dir: %s
reasoning: false
log_level: error
%s`, repo, srv.URL, filepath.Join(data, "index.db"), filepath.Join(data, "history.db"), env.backups, extra)
	if err := os.WriteFile(env.config, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return env
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(stdin), &out, &errOut, append([]string{"-config", e.config}, args...))
	return out.String(), err
}

func toolReply(name string, args map[string]any) string {
	payload, _ := json.Marshal(map[string]any{
		"tool_calls": []any{map[string]any{"name": name, "arguments": args}},
	})
	return "```json\n" + string(payload) + "\n```"
}

func TestRun_IndexThenAsk(t *testing.T) {
	env := newTestEnv(t, "",
		toolReply("search_codebase", map[string]any{"query": "database connection"}),
		"The connection is opened in db.go.",
	)

	out, err := env.run(t, "", "index")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if !strings.Contains(out, "Indexed 1 files (1 chunks)") {
		t.Errorf("index output = %q", out)
	}
	if !strings.Contains(out, "Index: 1 chunks from 1 files, model nomic-embed-text, built ") {
		t.Errorf("index output should summarize the index: %q", out)
	}

	out, err = env.run(t, "", "ask", "where", "is", "the", "database", "opened?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	for _, want := range []string{"TOOLS USED:", "* search_codebase:", "db.go", "The connection is opened in db.go."} {
		if !strings.Contains(out, want) {
			t.Errorf("ask output missing %q:\n%s", want, out)
		}
	}
	if n := env.ollama.chatCalls(); n != 2 {
		t.Errorf("chat calls = %d, want 2", n)
	}
}

func TestRun_IndexJSON(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := env.run(t, "", "-o", "json", "index")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	var res map[string]any
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if res["files"] != float64(1) || res["chunks"] != float64(1) || res["total_files"] != float64(1) {
		t.Errorf("result = %v", res)
	}
	if res["model"] != "nomic-embed-text" {
		t.Errorf("model = %v", res["model"])
	}
	if at, _ := res["indexed_at"].(string); at == "" || strings.HasPrefix(at, "0001") {
		t.Errorf("indexed_at = %v", res["indexed_at"])
	}
}

func TestRun_AskWithoutIndex(t *testing.T) {
	env := newTestEnv(t, "",
		toolReply("search_codebase", map[string]any{"query": "database"}),
		"Please index the repository first.",
	)

	out, err := env.run(t, "", "ask", "find the database code")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "ERROR: no index found") {
		t.Errorf("output should report the missing index:\n%s", out)
	}
}

func TestRun_ChatCommands(t *testing.T) {
	env := newTestEnv(t, "", "Hi! How can I help?")

	out, err := env.run(t, "help\nhello\nclear\nexit\nnever reached\n", "chat")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	for _, want := range []string{
		"CodeCraft coding assistant",
		"Model: test-model",
		"clear             forget the conversation so far",
		"Assistant: Hi! How can I help?",
		"Conversation cleared.",
		"Goodbye!",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("chat output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "You: ") {
		t.Error("prompt should not be shown when input is not a terminal")
	}
	if n := env.ollama.chatCalls(); n != 1 {
		t.Errorf("chat calls = %d, want 1", n)
	}
}

func TestRun_ChatEndsAtEOF(t *testing.T) {
	env := newTestEnv(t, "", "Sure.")

	out, err := env.run(t, "one question without newline", "chat")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "Assistant: Sure.") {
		t.Errorf("output = %q", out)
	}
}

func TestRun_ChatModifyWithConfirmation(t *testing.T) {
	tests := []struct {
		name       string
		answer     string
		wantChange bool
	}{
		{"approved", "y", true},
		{"declined", "n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "allow_modifications: true\nrequire_confirmation: true\n")
			target := filepath.Join(env.repo, "db.go")
			env.ollama.mu.Lock()
			env.ollama.replies = []string{
				toolReply("modify_file", map[string]any{
					"file_path":          target,
					"change_description": "add Close",
					"new_code":           "func Close() {}",
				}),
				"Done.",
			}
			env.ollama.mu.Unlock()

			out, err := env.run(t, "add a Close function\n"+tt.answer+"\nexit\n", "chat")
			if err != nil {
				t.Fatalf("chat: %v", err)
			}
			if !strings.Contains(out, "[CONFIRMATION NEEDED]") {
				t.Errorf("confirmation prompt missing:\n%s", out)
			}

			data, err := os.ReadFile(target)
			if err != nil {
				t.Fatal(err)
			}
			changed := strings.HasSuffix(string(data), "func Close() {}\n")
			if changed != tt.wantChange {
				t.Errorf("file changed = %v, want %v:\n%s", changed, tt.wantChange, data)
			}

			hist, err := env.run(t, "", "history")
			if err != nil {
				t.Fatalf("history: %v", err)
			}
			if tt.wantChange {
				if !strings.Contains(out, "1 modification(s) this session") {
					t.Errorf("session summary missing:\n%s", out)
				}
				if !strings.Contains(hist, target) || !strings.Contains(hist, "add Close") {
					t.Errorf("history output = %q", hist)
				}
			} else {
				if !strings.Contains(out, "ERROR: modification cancelled by user") {
					t.Errorf("declined modification should be reported:\n%s", out)
				}
				if !strings.Contains(hist, "No modifications recorded.") {
					t.Errorf("history output = %q", hist)
				}
			}
		})
	}
}

func TestRun_HistoryJSON(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := env.run(t, "", "-o", "json", "history", "5")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("output = %q, want []", out)
	}
}

func TestRun_HistoryNotConfigured(t *testing.T) {
	env := newTestEnv(t, "")
	data, err := os.ReadFile(env.config)
	if err != nil {
		t.Fatal(err)
	}
	cfg := strings.Replace(string(data), "history_db: ", "# history_db: ", 1)
	if err := os.WriteFile(env.config, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = env.run(t, "", "history")
	if err == nil || !strings.Contains(err.Error(), "history_db is not configured") {
		t.Errorf("err = %v", err)
	}
}

func TestRun_ChatBannerShowsIndex(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := env.run(t, "exit\n", "chat")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "Index: none; run `codecraft index`") {
		t.Errorf("banner should report the missing index:\n%s", out)
	}

	if _, err := env.run(t, "", "index"); err != nil {
		t.Fatalf("index: %v", err)
	}
	out, err = env.run(t, "exit\n", "chat")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "Index: 1 chunks from 1 files") {
		t.Errorf("banner should describe the index:\n%s", out)
	}
}

func TestApp_CheckModel(t *testing.T) {
	tests := []struct {
		name     string
		models   []string
		wantWarn string
	}{
		{"installed with tag", []string{"other:7b", "test-model:latest"}, ""},
		{"not installed", []string{"other:7b"}, "default model is not installed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			env.ollama.mu.Lock()
			env.ollama.models = tt.models
			env.ollama.mu.Unlock()

			cfg, _, err := loadConfig(env.config)
			if err != nil {
				t.Fatal(err)
			}
			var logs bytes.Buffer
			a, err := newApp(cfg, slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})), nil)
			if err != nil {
				t.Fatal(err)
			}
			defer a.Close()

			logs.Reset()
			a.checkModel(context.Background())
			if tt.wantWarn == "" {
				if logs.Len() != 0 {
					t.Errorf("unexpected warning: %s", logs.String())
				}
			} else if !strings.Contains(logs.String(), tt.wantWarn) {
				t.Errorf("logs = %q, want %q", logs.String(), tt.wantWarn)
			}
		})
	}
}

func TestHasModel(t *testing.T) {
	tests := []struct {
		installed []string
		model     string
		want      bool
	}{
		{[]string{"llama3:latest"}, "llama3", true},
		{[]string{"llama3"}, "llama3:latest", true},
		{[]string{"llama3:8b"}, "llama3", false},
		{[]string{"llama3:8b"}, "llama3:8b", true},
		{nil, "llama3", false},
	}
	for _, tt := range tests {
		if got := hasModel(tt.installed, tt.model); got != tt.want {
			t.Errorf("hasModel(%v, %q) = %v, want %v", tt.installed, tt.model, got, tt.want)
		}
	}
}
