package llm

import "context"

// Client is the interface that all model providers implement.
type Client interface {
	// Chat sends the conversation and returns the model's reply. tools
	// holds function definitions in the Ollama/OpenAI shape and may be
	// nil.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
