// Package llm provides the language model clients the agent talks to.
package llm

import "time"

// Message is a chat message sent to or received from a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolName names the tool whose output this message carries
	// (role "tool").
	ToolName string `json:"tool_name,omitempty"`

	// ToolCalls is populated when a provider returns structured tool
	// calls instead of text.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a structured tool invocation returned by a provider.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the name and arguments of a [ToolCall].
type ToolFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the provider-neutral result of a chat call. Wire
// format conversion happens at the provider boundary.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	InputTokens  int
	OutputTokens int

	TotalDuration time.Duration
	LoadDuration  time.Duration
	EvalDuration  time.Duration
}
