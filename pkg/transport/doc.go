// Package transport defines the handler interfaces and middleware chain for
// the maia HTTP surface.
//
// An Answerer turns a question into an answer. EngineAnswerer is the
// production implementation: it runs the orchestrator, registers the run so
// it can be cancelled while in flight, and records the outcome in the
// ledger. RunReader exposes the ledger to the read endpoints.
//
// Middleware wraps an Answerer with cross-cutting concerns. Built-in
// middleware provides panic recovery, request ID assignment (X-Request-ID)
// and structured logging via log/slog.
//
// The HTTP adapter and server live in the http subpackage.
package transport
