// Package logging configures structured slog output for rankfuse.
// Logs are JSON lines written to ~/.rankfuse/logs/rankfuse.log with
// size-based rotation, optionally mirrored to stderr. The --debug flag
// lowers the level to debug so per-query fusion and rerank events show up.
package logging
