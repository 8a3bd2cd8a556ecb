package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOllamaWireResponse_ToChatResponse(t *testing.T) {
	raw := `{
		"model": "gemma3:1b",
		"created_at": "2026-02-11T15:00:00.123456789Z",
		"message": {"role": "assistant", "content": "The Indexer lives in internal/retrieval."},
		"done": true,
		"total_duration": 1234567890,
		"load_duration": 100000000,
		"prompt_eval_count": 42,
		"eval_count": 15,
		"eval_duration": 600000000
	}`

	var wire ollamaWireResponse
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	resp := wire.toChatResponse()

	if resp.Model != "gemma3:1b" {
		t.Errorf("Model = %q", resp.Model)
	}
	if resp.CreatedAt.Year() != 2026 || resp.CreatedAt.Month() != time.February {
		t.Errorf("CreatedAt = %v, want 2026-02", resp.CreatedAt)
	}
	if resp.Message.Content != "The Indexer lives in internal/retrieval." {
		t.Errorf("Content = %q", resp.Message.Content)
	}
	if resp.InputTokens != 42 || resp.OutputTokens != 15 {
		t.Errorf("tokens = %d/%d, want 42/15", resp.InputTokens, resp.OutputTokens)
	}
	if resp.TotalDuration != 1234567890*time.Nanosecond {
		t.Errorf("TotalDuration = %v", resp.TotalDuration)
	}
}

func TestOllamaWireResponse_NativeToolCalls(t *testing.T) {
	raw := `{
		"model": "qwen3:4b",
		"message": {
			"role": "assistant",
			"content": "",
			"tool_calls": [{"function": {"name": "read_file", "arguments": {"file_path": "main.go"}}}]
		},
		"done": true
	}`

	var wire ollamaWireResponse
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	resp := wire.toChatResponse()

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.Function.Name != "read_file" || tc.Function.Arguments["file_path"] != "main.go" {
		t.Errorf("tool call = %+v", tc)
	}
	if !resp.CreatedAt.IsZero() {
		t.Errorf("CreatedAt = %v, want zero for missing timestamp", resp.CreatedAt)
	}
}

func TestOllamaClient_Chat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != "POST" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"model":"gemma3:1b","message":{"role":"assistant","content":"hello"},"done":true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL+"/", nil)
	msgs := []Message{
		{Role: "system", Content: "be brief"},
		{Role: "tool", Content: "File: main.go", ToolName: "read_file"},
	}
	resp, err := c.Chat(context.Background(), "gemma3:1b", msgs, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "hello" {
		t.Errorf("Content = %q", resp.Message.Content)
	}
	if got.Stream {
		t.Error("request should not stream")
	}
	if got.Model != "gemma3:1b" || len(got.Messages) != 2 {
		t.Errorf("request = %+v", got)
	}
	if got.Messages[1].ToolName != "read_file" {
		t.Errorf("tool_name not sent: %+v", got.Messages[1])
	}
}

func TestOllamaClient_ChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model 'nope' not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, nil).Chat(context.Background(), "nope", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want status and body", err)
	}
}

func TestOllamaClient_PingAndListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models":[{"name":"gemma3:1b"},{"name":"nomic-embed-text"}]}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	names, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(names) != 2 || names[0] != "gemma3:1b" {
		t.Errorf("names = %v", names)
	}
}
