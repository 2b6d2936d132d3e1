// Package embeddings implements the embedding client: a thin HTTP JSON
// client against a configurable embedding provider, wrapped with the
// shared retry/backoff and adaptive pacing primitives from
// internal/retry, plus a chat-completion style GenerateTags call used
// by the auto-tag enricher.
package embeddings
