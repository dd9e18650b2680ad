// Package ai wraps an OpenAI-compatible API for embeddings and text
// generation. Requests are rate limited and retried with exponential
// backoff; callers decide how failures map onto pipeline status.
package ai
