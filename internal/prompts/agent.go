package prompts

// ClarifyToolUse is returned instead of the model's reply when it
// described a tool call without issuing a usable one.
const ClarifyToolUse = "I need to use tools to help you. Let me try again with clearer instructions."

// EmptyResponseFallback is the user-facing message returned when nothing
// is left of the model's reply after tool-call JSON is removed.
const EmptyResponseFallback = "I've analyzed your request. Would you like me to search the codebase or examine specific files to help you better?"

// ToolsUsedHeading labels the tool summary in a composed reply.
const ToolsUsedHeading = "TOOLS USED:"
