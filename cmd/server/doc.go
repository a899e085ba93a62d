// Package main is the entry point for the AgentOS script host.
//
// The host runs untrusted TypeScript and JavaScript in isolated execution
// contexts: one supervised main context plus any number of tasks started
// over the API. Scripts reach sensitive host operations only through
// permission prompts answered by the operator.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Serve on :8000 with the built-in main module
//	./server -port 8000
//
//	# Development mode (console logs, debug level), no main context
//	./server -dev -main ""
//
// The process exits non-zero when the main context crashes more often than
// RUNTIME_MAX_RETRIES allows.
package main
