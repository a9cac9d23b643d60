// Package llm is a chat-completions client for OpenRouter-compatible
// endpoints. The analysis stage uses it to ask a multimodal model (Gemini by
// default) which parts of a video chunk should be cut.
//
// Requests carry a system prompt, a user prompt, and optionally a video URL
// sent as a content part. Responses are expected to be JSON; DecodeJSON
// tolerates code fences and leading prose.
//
// The client retries HTTP 408/429/5xx, empty completions, and network
// timeouts with exponential backoff (base 1s, max 10s, 5 attempts by
// default), honouring Retry-After. HTTP failures surface as *StatusError,
// which carries a services.Category so the worker can decide whether the
// stage attempt is retryable.
package llm
