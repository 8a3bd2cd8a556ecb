// Package agent implements the per-turn orchestration loop: it asks the
// model for a reply, runs any tool calls the reply contains, and asks the
// model again to answer with the tool results in view.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/codecraft/internal/config"
	"github.com/nugget/codecraft/internal/llm"
	"github.com/nugget/codecraft/internal/memory"
	"github.com/nugget/codecraft/internal/prompts"
	"github.com/nugget/codecraft/internal/toolcall"
	"github.com/nugget/codecraft/internal/tools"
)

// Model call stages reported in [ModelCallError].
const (
	StageGenerate   = "generate"
	StageSynthesize = "synthesize"
)

const ruleWidth = 50

// ModelCallError reports a failed model call that aborted a turn.
// Messages committed to memory before the failure are kept.
type ModelCallError struct {
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model call failed during %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *ModelCallError) Unwrap() error { return e.Err }

// ToolExecutor runs tools by name. *tools.Registry implements it.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) tools.Result
	Reject(name string, cause error) tools.Result
	Definitions() []map[string]any
	Names() []string
}

// Config holds the loop's settings.
type Config struct {
	Model string
	// ReasoningModel runs the planning call. Empty uses Model.
	ReasoningModel string
	// Reasoning enables the planning call before each turn.
	Reasoning bool
	// MaxTurns bounds the retained history.
	MaxTurns int
	// MaxContextTokens is the budget for the history sent on the first
	// model call of a turn.
	MaxContextTokens int
	// SystemPrompt overrides the prompt built from the tool names.
	SystemPrompt string
}

// Response is the outcome of one turn.
type Response struct {
	// Content is the composed reply shown to the user.
	Content string
	// Reasoning is the planning text, if the planning call ran.
	Reasoning string
	// ToolResults holds one entry per executed tool call, in order.
	ToolResults []tools.Result
}

// Loop is one agent session. Turns must not overlap; the console calls
// [Loop.Process] once per user line.
type Loop struct {
	cfg          Config
	llm          llm.Client
	tools        ToolExecutor
	memory       *memory.Conversation
	systemPrompt string
	logger       *slog.Logger
}

// New creates a session with an empty history seeded with the system
// prompt.
func New(cfg Config, client llm.Client, executor ToolExecutor, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReasoningModel == "" {
		cfg.ReasoningModel = cfg.Model
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 4000
	}

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = prompts.SystemPrompt(executor.Names())
	}

	l := &Loop{
		cfg:          cfg,
		llm:          client,
		tools:        executor,
		memory:       memory.NewConversation(cfg.MaxTurns),
		systemPrompt: systemPrompt,
		logger:       logger.With("component", "agent"),
	}
	l.memory.Reset(systemPrompt)
	return l
}

// Memory returns the session's conversation history.
func (l *Loop) Memory() *memory.Conversation {
	return l.memory
}

// Reset forgets the conversation, keeping only the system prompt.
func (l *Loop) Reset() {
	l.memory.Reset(l.systemPrompt)
	l.logger.Info("conversation reset")
}

// Process runs one turn for the user's input.
func (l *Loop) Process(ctx context.Context, input string) (*Response, error) {
	start := time.Now()
	l.logger.Info("turn started", "model", l.cfg.Model, "input_len", len(input), "history", l.memory.Len())

	resp := &Response{}
	if l.cfg.Reasoning {
		resp.Reasoning = l.reason(ctx, input)
	}

	l.memory.Append(memory.Message{Role: memory.RoleUser, Content: input})

	msgs := toLLM(l.contextView())
	if resp.Reasoning != "" {
		thought := llm.Message{Role: memory.RoleAssistant, Content: prompts.Thought(resp.Reasoning)}
		last := msgs[len(msgs)-1]
		msgs = append(msgs[:len(msgs)-1], thought, last)
	}

	reply, err := l.llm.Chat(ctx, l.cfg.Model, msgs, nil)
	if err != nil {
		l.logger.Error("model call failed", "stage", StageGenerate, "error", err)
		return nil, &ModelCallError{Stage: StageGenerate, Err: err}
	}
	text := reply.Message.Content
	l.logger.Log(ctx, config.LevelTrace, "model reply", "stage", StageGenerate, "content", text)

	calls, ok := toolcall.Extract(text)
	if !ok && len(reply.Message.ToolCalls) > 0 {
		calls, ok = fromNative(reply.Message.ToolCalls), true
	}
	if !ok && toolcall.LooksLikeToolIntent(text) {
		l.logger.Warn("model described a tool call instead of issuing one")
		calls, ok = toolcall.ExtractLenient(text)
		if !ok {
			resp.Content = prompts.ClarifyToolUse
			l.logger.Info("turn finished", "outcome", "clarify", "elapsed", time.Since(start))
			return resp, nil
		}
	}

	if len(calls) == 0 {
		resp.Content = l.clean(text)
		l.memory.Append(memory.Message{Role: memory.RoleAssistant, Content: resp.Content})
		l.memory.Summarize()
		l.logger.Info("turn finished", "outcome", "direct", "elapsed", time.Since(start))
		return resp, nil
	}

	resp.ToolResults = l.runTools(ctx, calls)

	final, err := l.synthesize(ctx)
	if err != nil {
		return nil, err
	}
	l.memory.Append(memory.Message{Role: memory.RoleAssistant, Content: final})
	l.memory.Summarize()

	resp.Content = compose(text, resp.ToolResults, final)
	l.logger.Info("turn finished", "outcome", "tools", "tools", len(resp.ToolResults), "elapsed", time.Since(start))
	return resp, nil
}

// reason runs the planning call. Failures are logged and yield no
// thought; the turn goes on without one.
func (l *Loop) reason(ctx context.Context, input string) string {
	msgs := []llm.Message{
		{Role: memory.RoleSystem, Content: prompts.ReasoningSystem},
		{Role: memory.RoleUser, Content: prompts.ReasoningPrompt(input, l.memory.Summary())},
	}
	reply, err := l.llm.Chat(ctx, l.cfg.ReasoningModel, msgs, nil)
	if err != nil {
		l.logger.Warn("reasoning call failed", "model", l.cfg.ReasoningModel, "error", err)
		return ""
	}
	thought := strings.TrimSpace(reply.Message.Content)
	l.logger.Debug("reasoning", "model", l.cfg.ReasoningModel, "len", len(thought))
	l.logger.Log(ctx, config.LevelTrace, "reasoning reply", "content", thought)
	return thought
}

// runTools executes calls in order, committing each result to memory as
// a tool message.
func (l *Loop) runTools(ctx context.Context, calls []toolcall.Call) []tools.Result {
	results := make([]tools.Result, 0, len(calls))
	for i, c := range calls {
		var res tools.Result
		if c.Err != nil {
			l.logger.Warn("tool call could not be decoded", "index", i+1, "tool", c.Name, "error", c.Err)
			res = l.tools.Reject(c.Name, c.Err)
		} else {
			l.logger.Info("executing tool", "index", i+1, "tool", c.Name, "args", c.Arguments)
			res = l.tools.Execute(ctx, c.Name, c.Arguments)
		}
		l.memory.Append(memory.Message{Role: memory.RoleTool, Name: c.Name, Content: res.Output})
		l.logger.Debug("tool result", "tool", c.Name, "result", res.Display(), "failed", res.Err != nil)
		results = append(results, res)
	}
	return results
}

// synthesize asks the model for the final answer with the full history,
// tool results included.
func (l *Loop) synthesize(ctx context.Context) (string, error) {
	reply, err := l.llm.Chat(ctx, l.cfg.Model, toLLM(l.withSystem(l.memory.Messages())), l.tools.Definitions())
	if err != nil {
		l.logger.Error("model call failed", "stage", StageSynthesize, "error", err)
		return "", &ModelCallError{Stage: StageSynthesize, Err: err}
	}
	l.logger.Log(ctx, config.LevelTrace, "model reply", "stage", StageSynthesize, "content", reply.Message.Content)
	return l.clean(reply.Message.Content), nil
}

// contextView returns the budgeted history for the first model call. The
// system prompt is restored if the window dropped it.
func (l *Loop) contextView() []memory.Message {
	return l.withSystem(l.memory.ContextView(l.cfg.MaxContextTokens))
}

func (l *Loop) withSystem(msgs []memory.Message) []memory.Message {
	for _, m := range msgs {
		if m.Role == memory.RoleSystem && m.Content == l.systemPrompt {
			return msgs
		}
	}
	sys, ok := l.memory.SystemMessage()
	if !ok {
		return msgs
	}
	return append([]memory.Message{sys}, msgs...)
}

// clean removes stray tool-call JSON from a reply.
func (l *Loop) clean(text string) string {
	cleaned := toolcall.Scrub(text)
	if cleaned == "" {
		return prompts.EmptyResponseFallback
	}
	return cleaned
}

// compose builds the reply for a turn that used tools: the model's own
// words (unless it replied with bare JSON), a summary of the tools used
// and the synthesized answer.
func compose(original string, results []tools.Result, final string) string {
	rule := strings.Repeat("=", ruleWidth)
	var parts []string

	if trimmed := strings.TrimSpace(original); trimmed != "" && !strings.HasPrefix(trimmed, "{") {
		if cleaned := toolcall.Scrub(original); cleaned != "" {
			parts = append(parts, cleaned)
		}
	}

	if len(results) > 0 {
		parts = append(parts, "\n"+rule, prompts.ToolsUsedHeading)
		for _, r := range results {
			parts = append(parts, fmt.Sprintf("\n* %s: %s", r.ToolName, r.Display()))
		}
	}

	parts = append(parts, "\n"+rule, "\n"+final)
	return strings.Join(parts, "\n")
}

func toLLM(msgs []memory.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content, ToolName: m.Name}
	}
	return out
}

func fromNative(calls []llm.ToolCall) []toolcall.Call {
	out := make([]toolcall.Call, 0, len(calls))
	for _, c := range calls {
		args := c.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		out = append(out, toolcall.Call{Name: c.Function.Name, Arguments: args})
	}
	return out
}
