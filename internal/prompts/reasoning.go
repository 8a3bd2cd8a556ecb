package prompts

import "fmt"

// ReasoningSystem is the system instruction for the planning call made
// before each turn.
const ReasoningSystem = "You are a strategic thinker. Analyze requests and plan tool usage."

const reasoningTemplate = `Analyze this request and plan your approach.

Request: %s%s

Think step by step:
1. What is the user asking for?
2. What information do I need?
3. Which tools should I use and in what order?
4. What specific parameters should I use with each tool?

After reasoning, decide if you need tools or can answer directly.`

// ReasoningPrompt returns the planning prompt for query. context, when
// non-empty, is included as background (typically the conversation
// summary).
func ReasoningPrompt(query, context string) string {
	var contextText string
	if context != "" {
		contextText = "\nContext: " + context
	}
	return fmt.Sprintf(reasoningTemplate, query, contextText)
}

// Thought wraps reasoning text as the ephemeral assistant message placed
// before the user's message.
func Thought(reasoning string) string {
	return "Thought: " + reasoning
}
