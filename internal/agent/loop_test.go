package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/codecraft/internal/llm"
	"github.com/nugget/codecraft/internal/memory"
	"github.com/nugget/codecraft/internal/prompts"
	"github.com/nugget/codecraft/internal/tools"
)

// step is one scripted model reply.
type step struct {
	content   string
	toolCalls []llm.ToolCall
	err       error
}

type chatCall struct {
	model    string
	messages []llm.Message
	tools    []map[string]any
}

// mockLLM replays scripted replies in order and records every call.
type mockLLM struct {
	mu    sync.Mutex
	steps []step
	calls []chatCall
}

func (m *mockLLM) Chat(_ context.Context, model string, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, chatCall{
		model:    model,
		messages: append([]llm.Message(nil), messages...),
		tools:    tools,
	})
	if len(m.steps) == 0 {
		return nil, errors.New("mock: no scripted reply")
	}
	s := m.steps[0]
	m.steps = m.steps[1:]
	if s.err != nil {
		return nil, s.err
	}
	return &llm.ChatResponse{
		Model:   model,
		Message: llm.Message{Role: memory.RoleAssistant, Content: s.content, ToolCalls: s.toolCalls},
		Done:    true,
	}, nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

// newTestRegistry returns a registry with an "echo" tool that records
// the order of its invocations.
func newTestRegistry(t *testing.T, seen *[]string) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(nil)
	err := r.Register(&tools.Tool{
		Name:        "echo",
		Description: "Echo the text back",
		Params: []tools.Param{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			if seen != nil {
				*seen = append(*seen, text)
			}
			return "echoed " + text, nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

func newTestLoop(t *testing.T, cfg Config, client *mockLLM, seen *[]string) *Loop {
	t.Helper()
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are a test assistant."
	}
	return New(cfg, client, newTestRegistry(t, seen), nil)
}

func fencedCall(calls ...string) string {
	return "```json\n{\"tool_calls\": [" + strings.Join(calls, ", ") + "]}\n```"
}

func echoCall(text string) string {
	return fmt.Sprintf(`{"name": "echo", "arguments": {"text": %q}}`, text)
}

func roles(msgs []memory.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestProcess_DirectResponse(t *testing.T) {
	client := &mockLLM{steps: []step{{content: "  Hello there.  "}}}
	loop := newTestLoop(t, Config{}, client, nil)

	resp, err := loop.Process(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Content != "Hello there." {
		t.Errorf("Content = %q, want %q", resp.Content, "Hello there.")
	}
	if len(resp.ToolResults) != 0 {
		t.Errorf("ToolResults = %d, want 0", len(resp.ToolResults))
	}
	if len(client.calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(client.calls))
	}
	if client.calls[0].tools != nil {
		t.Error("first call should be sent without tool definitions")
	}

	msgs := loop.Memory().Messages()
	want := []string{memory.RoleSystem, memory.RoleUser, memory.RoleAssistant}
	if got := roles(msgs); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("roles = %v, want %v", got, want)
	}
	if msgs[2].Content != "Hello there." {
		t.Errorf("stored reply = %q", msgs[2].Content)
	}
}

func TestProcess_EmptyReplyFallback(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "blank", content: "   "},
		{name: "empty tool list", content: fencedCall()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockLLM{steps: []step{{content: tt.content}}}
			loop := newTestLoop(t, Config{}, client, nil)

			resp, err := loop.Process(context.Background(), "hi")
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if resp.Content != prompts.EmptyResponseFallback {
				t.Errorf("Content = %q, want fallback", resp.Content)
			}
			if len(client.calls) != 1 {
				t.Errorf("model calls = %d, want 1", len(client.calls))
			}
		})
	}
}

func TestProcess_ToolTurn(t *testing.T) {
	var seen []string
	client := &mockLLM{steps: []step{
		{content: fencedCall(echoCall("one"), echoCall("two"))},
		{content: "Both echoes worked."},
	}}
	loop := newTestLoop(t, Config{}, client, &seen)

	resp, err := loop.Process(context.Background(), "echo twice")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if strings.Join(seen, ",") != "one,two" {
		t.Errorf("execution order = %v, want [one two]", seen)
	}
	if len(resp.ToolResults) != 2 {
		t.Fatalf("ToolResults = %d, want 2", len(resp.ToolResults))
	}
	if resp.ToolResults[0].Output != "echoed one" || resp.ToolResults[1].Output != "echoed two" {
		t.Errorf("results = %+v", resp.ToolResults)
	}

	rule := strings.Repeat("=", 50)
	want := "\n" + rule + "\nTOOLS USED:\n" +
		"\n* echo: echoed one\n" +
		"\n* echo: echoed two\n" +
		"\n" + rule + "\n" +
		"\nBoth echoes worked."
	if resp.Content != want {
		t.Errorf("Content =\n%q\nwant\n%q", resp.Content, want)
	}

	msgs := loop.Memory().Messages()
	wantRoles := []string{memory.RoleSystem, memory.RoleUser, memory.RoleTool, memory.RoleTool, memory.RoleAssistant}
	if got := roles(msgs); strings.Join(got, ",") != strings.Join(wantRoles, ",") {
		t.Fatalf("roles = %v, want %v", got, wantRoles)
	}
	if msgs[2].Name != "echo" || msgs[2].Content != "echoed one" {
		t.Errorf("first tool message = %+v", msgs[2])
	}
	if msgs[4].Content != "Both echoes worked." {
		t.Errorf("final answer = %q", msgs[4].Content)
	}

	if len(client.calls) != 2 {
		t.Fatalf("model calls = %d, want 2", len(client.calls))
	}
	synth := client.calls[1]
	if len(synth.tools) != 1 {
		t.Errorf("synthesis tool definitions = %d, want 1", len(synth.tools))
	}
	if n := len(synth.messages); n != 4 {
		t.Fatalf("synthesis messages = %d, want 4", n)
	}
	if synth.messages[2].Role != memory.RoleTool || synth.messages[2].ToolName != "echo" {
		t.Errorf("synthesis tool message = %+v", synth.messages[2])
	}
}

func TestProcess_ToolTurnKeepsProse(t *testing.T) {
	client := &mockLLM{steps: []step{
		{content: "Let me check.\n" + fencedCall(echoCall("x"))},
		{content: "Done."},
	}}
	loop := newTestLoop(t, Config{}, client, nil)

	resp, err := loop.Process(context.Background(), "check")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.HasPrefix(resp.Content, "Let me check.\n\n=") {
		t.Errorf("Content should start with the model's prose, got %q", resp.Content)
	}
	if strings.Contains(resp.Content, "tool_calls") {
		t.Error("tool-call JSON should be scrubbed from the reply")
	}
}

func TestProcess_ToolErrorsAreResults(t *testing.T) {
	client := &mockLLM{steps: []step{
		{content: fencedCall(`{"name": "missing", "arguments": {}}`, `{"name": "echo", "arguments": {}}`)},
		{content: "Sorry."},
	}}
	loop := newTestLoop(t, Config{}, client, nil)

	resp, err := loop.Process(context.Background(), "do it")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(resp.ToolResults) != 2 {
		t.Fatalf("ToolResults = %d, want 2", len(resp.ToolResults))
	}

	var unknown *tools.UnknownToolError
	if !errors.As(resp.ToolResults[0].Err, &unknown) {
		t.Errorf("first result err = %v, want UnknownToolError", resp.ToolResults[0].Err)
	}
	var argErr *tools.ArgumentError
	if !errors.As(resp.ToolResults[1].Err, &argErr) {
		t.Errorf("second result err = %v, want ArgumentError", resp.ToolResults[1].Err)
	}
	for _, r := range resp.ToolResults {
		if !strings.HasPrefix(r.Output, "ERROR: ") {
			t.Errorf("Output = %q, want ERROR prefix", r.Output)
		}
	}
}

func TestProcess_MalformedCallInBatch(t *testing.T) {
	var seen []string
	client := &mockLLM{steps: []step{
		{content: fencedCall(echoCall("first"), `{"name": "echo", "arguments": 5}`, echoCall("third"))},
		{content: "Two of three worked."},
	}}
	loop := newTestLoop(t, Config{}, client, &seen)

	resp, err := loop.Process(context.Background(), "echo things")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Content == prompts.ClarifyToolUse {
		t.Fatal("a batch with one malformed call should still run")
	}
	if strings.Join(seen, ",") != "first,third" {
		t.Errorf("echo ran with %v, want [first third]", seen)
	}
	if len(resp.ToolResults) != 3 {
		t.Fatalf("ToolResults = %d, want 3", len(resp.ToolResults))
	}

	bad := resp.ToolResults[1]
	var argErr *tools.ArgumentError
	if !errors.As(bad.Err, &argErr) {
		t.Errorf("malformed call err = %v, want ArgumentError", bad.Err)
	}
	if bad.ToolName != "echo" || !strings.HasPrefix(bad.Output, "ERROR: invalid arguments for echo") {
		t.Errorf("malformed call result = %q (%s)", bad.Output, bad.ToolName)
	}
	if !strings.HasSuffix(resp.Content, "Two of three worked.") {
		t.Errorf("Content = %q", resp.Content)
	}
	if got := roles(loop.Memory().Messages()); strings.Join(got, ",") != "system,user,tool,tool,tool,assistant" {
		t.Errorf("memory roles = %v", got)
	}
}

func TestProcess_NativeToolCalls(t *testing.T) {
	var seen []string
	client := &mockLLM{steps: []step{
		{toolCalls: []llm.ToolCall{{Function: llm.ToolFunction{Name: "echo", Arguments: map[string]any{"text": "native"}}}}},
		{content: "Native done."},
	}}
	loop := newTestLoop(t, Config{}, client, &seen)

	resp, err := loop.Process(context.Background(), "go")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(seen) != 1 || seen[0] != "native" {
		t.Errorf("seen = %v, want [native]", seen)
	}
	if !strings.HasSuffix(resp.Content, "\nNative done.") {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestProcess_DescribedToolCall(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantClarify bool
	}{
		{
			name:        "no payload",
			content:     "I will use the echo tool to repeat your text.",
			wantClarify: true,
		},
		{
			name:    "repairable payload",
			content: `Here is the JSON: {"tool_calls": [` + echoCall("fixed") + `,]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen []string
			client := &mockLLM{steps: []step{{content: tt.content}, {content: "Answer."}}}
			loop := newTestLoop(t, Config{}, client, &seen)

			resp, err := loop.Process(context.Background(), "repeat fixed")
			if err != nil {
				t.Fatalf("Process: %v", err)
			}

			if tt.wantClarify {
				if resp.Content != prompts.ClarifyToolUse {
					t.Errorf("Content = %q, want clarification", resp.Content)
				}
				if len(client.calls) != 1 {
					t.Errorf("model calls = %d, want 1", len(client.calls))
				}
				// The user message stays; the clarification is not stored.
				if got := roles(loop.Memory().Messages()); strings.Join(got, ",") != "system,user" {
					t.Errorf("roles = %v", got)
				}
				return
			}

			if len(seen) != 1 || seen[0] != "fixed" {
				t.Errorf("seen = %v, want [fixed]", seen)
			}
			if !strings.HasSuffix(resp.Content, "\nAnswer.") {
				t.Errorf("Content = %q", resp.Content)
			}
		})
	}
}

func TestProcess_Reasoning(t *testing.T) {
	client := &mockLLM{steps: []step{
		{content: "  Read the file first.  "},
		{content: "Here you go."},
	}}
	loop := newTestLoop(t, Config{Reasoning: true, ReasoningModel: "planner"}, client, nil)

	resp, err := loop.Process(context.Background(), "show main.go")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Reasoning != "Read the file first." {
		t.Errorf("Reasoning = %q", resp.Reasoning)
	}
	if len(client.calls) != 2 {
		t.Fatalf("model calls = %d, want 2", len(client.calls))
	}

	plan := client.calls[0]
	if plan.model != "planner" {
		t.Errorf("reasoning model = %q, want planner", plan.model)
	}
	if plan.messages[0].Content != prompts.ReasoningSystem {
		t.Errorf("reasoning system = %q", plan.messages[0].Content)
	}
	if !strings.Contains(plan.messages[1].Content, "Request: show main.go") {
		t.Errorf("reasoning prompt = %q", plan.messages[1].Content)
	}

	gen := client.calls[1]
	if gen.model != "test-model" {
		t.Errorf("generate model = %q", gen.model)
	}
	n := len(gen.messages)
	if n != 3 {
		t.Fatalf("generate messages = %d, want 3", n)
	}
	if gen.messages[1].Content != "Thought: Read the file first." {
		t.Errorf("thought = %+v", gen.messages[1])
	}
	if gen.messages[2].Role != memory.RoleUser {
		t.Errorf("last message role = %q, want user", gen.messages[2].Role)
	}

	for _, m := range loop.Memory().Messages() {
		if strings.HasPrefix(m.Content, "Thought: ") {
			t.Error("thought should not be stored in memory")
		}
	}
}

func TestProcess_ReasoningFailureContinues(t *testing.T) {
	client := &mockLLM{steps: []step{
		{err: errors.New("planner offline")},
		{content: "Still here."},
	}}
	loop := newTestLoop(t, Config{Reasoning: true}, client, nil)

	resp, err := loop.Process(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Reasoning != "" {
		t.Errorf("Reasoning = %q, want empty", resp.Reasoning)
	}
	if resp.Content != "Still here." {
		t.Errorf("Content = %q", resp.Content)
	}
	if n := len(client.calls[1].messages); n != 2 {
		t.Errorf("generate messages = %d, want 2 (no thought)", n)
	}
}

func TestProcess_ModelCallError(t *testing.T) {
	boom := errors.New("connection refused")
	tests := []struct {
		name      string
		steps     []step
		wantStage string
		wantRoles string
	}{
		{
			name:      "generate",
			steps:     []step{{err: boom}},
			wantStage: StageGenerate,
			wantRoles: "system,user",
		},
		{
			name:      "synthesize",
			steps:     []step{{content: fencedCall(echoCall("a"))}, {err: boom}},
			wantStage: StageSynthesize,
			wantRoles: "system,user,tool",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockLLM{steps: tt.steps}
			loop := newTestLoop(t, Config{}, client, nil)

			resp, err := loop.Process(context.Background(), "hi")
			if resp != nil {
				t.Errorf("resp = %+v, want nil", resp)
			}
			var mce *ModelCallError
			if !errors.As(err, &mce) {
				t.Fatalf("err = %v, want ModelCallError", err)
			}
			if mce.Stage != tt.wantStage {
				t.Errorf("Stage = %q, want %q", mce.Stage, tt.wantStage)
			}
			if !errors.Is(err, boom) {
				t.Error("error should wrap the provider error")
			}
			if got := strings.Join(roles(loop.Memory().Messages()), ","); got != tt.wantRoles {
				t.Errorf("roles = %s, want %s", got, tt.wantRoles)
			}
		})
	}
}

func TestProcess_ContextViewRestoresSystemPrompt(t *testing.T) {
	client := &mockLLM{steps: []step{
		{content: "one"}, {content: "two"}, {content: "three"}, {content: "four"},
	}}
	loop := newTestLoop(t, Config{MaxContextTokens: 1}, client, nil)

	for _, q := range []string{"a", "b", "c", "d"} {
		if _, err := loop.Process(context.Background(), q); err != nil {
			t.Fatalf("Process(%q): %v", q, err)
		}
	}

	last := client.calls[3].messages
	if last[0].Role != memory.RoleSystem || last[0].Content != "You are a test assistant." {
		t.Errorf("first message = %+v, want system prompt", last[0])
	}
	if !strings.HasPrefix(last[1].Content, "Previous context summary: ") {
		t.Errorf("second message = %+v, want summary", last[1])
	}
	if got := len(last); got != 8 {
		t.Errorf("messages = %d, want 8 (system, summary, last 6)", got)
	}
	if last[len(last)-1].Content != "d" {
		t.Errorf("last message = %q, want d", last[len(last)-1].Content)
	}
}

func TestReset(t *testing.T) {
	client := &mockLLM{steps: []step{{content: "hello"}}}
	loop := newTestLoop(t, Config{}, client, nil)

	if _, err := loop.Process(context.Background(), "hi"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	loop.Reset()

	msgs := loop.Memory().Messages()
	if len(msgs) != 1 || msgs[0].Role != memory.RoleSystem {
		t.Errorf("after Reset messages = %+v, want only the system prompt", msgs)
	}
	if loop.Memory().Summary() != "" {
		t.Error("Reset should clear the summary")
	}
}

func TestNew_DefaultSystemPromptListsTools(t *testing.T) {
	loop := New(Config{Model: "m"}, &mockLLM{}, newTestRegistry(t, nil), nil)

	sys, ok := loop.Memory().SystemMessage()
	if !ok {
		t.Fatal("memory should start with a system message")
	}
	if !strings.Contains(sys.Content, "1. echo") {
		t.Errorf("system prompt should list the echo tool:\n%s", sys.Content)
	}
}

func TestModelCallError_Message(t *testing.T) {
	err := &ModelCallError{Stage: StageGenerate, Err: errors.New("timeout")}
	if got := err.Error(); got != "model call failed during generate: timeout" {
		t.Errorf("Error() = %q", got)
	}
}
