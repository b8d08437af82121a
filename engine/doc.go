// Package engine executes image requests: it merges defaults, gates queued
// jobs on their lifecycle, runs the request interceptor chain and delivers
// results to targets and listeners.
//
// The terminal EngineInterceptor checks the memory cache, enforces the
// request depth, and otherwise joins or starts a single-flight decode keyed
// by the request cache key. Decodes run on a bounded worker pool; target and
// listener callbacks run one at a time on a dispatcher goroutine.
//
// Cancellation (context, lifecycle destruction or Job.Dispose) is reported
// as an error wrapping context.Canceled and never as a failed Result. Every
// other failure becomes a Result with Err set.
package engine
