// Package mcp serves the agent's tool registry over the Model Context
// Protocol, so other MCP hosts can search, read, list and (when allowed)
// modify the repository through the same guarded tools the agent uses.
//
// Tool calls are routed through [tools.Registry.Execute]: arguments are
// validated the same way, and failures come back as MCP error results
// carrying the "ERROR: ..." text. The server speaks JSON-RPC over stdio.
package mcp
