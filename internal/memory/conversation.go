// Package memory holds the bounded conversation history for an agent
// session and the rolling summary that survives truncation.
package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// DefaultMaxTurns bounds the retained history when none is configured.
const DefaultMaxTurns = 20

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant, tool
	Content string `json:"content"`
	// Name is the tool that produced this message, if any.
	Name string `json:"name,omitempty"`
}

// Conversation is the message history of one session. It retains at
// most 2*maxTurns messages plus a leading system message, and keeps a
// lossy summary of recent activity for use once the window is exceeded.
// Safe for concurrent use.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
	maxTurns int
	summary  string
}

// NewConversation creates an empty conversation. maxTurns <= 0 uses
// [DefaultMaxTurns].
func NewConversation(maxTurns int) *Conversation {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Conversation{maxTurns: maxTurns}
}

// Append adds a message and trims the history to the window.
func (c *Conversation) Append(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, msg)
	c.truncate()
}

// truncate keeps the most recent 2*maxTurns messages. A system message
// at position 0 is kept in front of them. Caller holds mu.
func (c *Conversation) truncate() {
	limit := 2 * c.maxTurns

	var prefix []Message
	rest := c.messages
	if len(rest) > 0 && rest[0].Role == RoleSystem {
		prefix = rest[:1]
		rest = rest[1:]
	}
	if len(rest) <= limit {
		return
	}

	kept := make([]Message, 0, len(prefix)+limit)
	kept = append(kept, prefix...)
	kept = append(kept, rest[len(rest)-limit:]...)
	c.messages = kept
}

// ContextView returns the messages to send to the model. When the
// estimated token cost of the retained history exceeds maxTokens, only
// the last 6 messages are returned, preceded by a system message carrying
// the rolling summary when one exists.
func (c *Conversation) ContextView(maxTokens int) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if EstimateTokens(c.messages) <= maxTokens {
		return cloneMessages(c.messages)
	}

	recent := c.messages
	if len(recent) > 6 {
		recent = recent[len(recent)-6:]
	}

	var view []Message
	if c.summary != "" {
		view = append(view, Message{
			Role:    RoleSystem,
			Content: "Previous context summary: " + c.summary,
		})
	}
	return append(view, recent...)
}

// Summarize recomputes the rolling summary from the last three user
// messages and the last three tool outputs. It replaces the previous
// summary and does nothing while fewer than four messages are retained.
func (c *Conversation) Summarize() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.messages) < 4 {
		return c.summary
	}

	var queries, actions []string
	for _, m := range c.messages {
		switch {
		case m.Role == RoleUser:
			queries = append(queries, truncateRunes(m.Content, 100))
		case m.Name != "" && (m.Role == RoleTool || m.Role == RoleAssistant):
			actions = append(actions, fmt.Sprintf("%s: %s", m.Name, truncateRunes(m.Content, 50)))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "User asked about: %s. ", strings.Join(lastN(queries, 3), ", "))
	if len(actions) > 0 {
		fmt.Fprintf(&b, "Assistant used tools: %s.", strings.Join(lastN(actions, 3), ", "))
	}

	c.summary = b.String()
	return c.summary
}

// Summary returns the current rolling summary.
func (c *Conversation) Summary() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.summary
}

// Messages returns a copy of the retained history.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneMessages(c.messages)
}

// Len returns the number of retained messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// SystemMessage returns the leading system message, if there is one.
func (c *Conversation) SystemMessage() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.messages) > 0 && c.messages[0].Role == RoleSystem {
		return c.messages[0], true
	}
	return Message{}, false
}

// Reset drops all history and the summary. A non-empty systemPrompt
// becomes the new leading system message.
func (c *Conversation) Reset(systemPrompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = nil
	c.summary = ""
	if systemPrompt != "" {
		c.messages = append(c.messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
}

// EstimateTokens approximates the token cost of messages as the length
// of their JSON encoding divided by four.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			total += len(m.Content) + len(m.Role) + len(m.Name)
			continue
		}
		total += len(data)
	}
	return total / 4
}

func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

func lastN(s []string, n int) []string {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

// truncateRunes shortens s to at most n runes without splitting a
// multi-byte character.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
