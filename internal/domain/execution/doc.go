// Package execution runs script modules inside isolated execution contexts.
//
// Each context owns one goja VM, pinned to its own OS thread for its whole
// life, with its own module loader, its own permission channel and any
// worker contexts it spawns. Inside a context a single-threaded loop races
// two sources: internal work (timers, fetch completions, worker messages)
// and inbound host events. Neither source has priority; each preserves its
// own FIFO order.
//
// Sensitive host APIs (file read/write, environment, network) are gated by
// capability checks that block the context's thread on the permission
// broker until the operator answers.
package execution
