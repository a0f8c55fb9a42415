// Package llm is a minimal client for OpenAI-compatible chat-completions
// APIs such as DeepSeek. Responses are read with gjson; failures are
// reported as *model.LLMError.
package llm
