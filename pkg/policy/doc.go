// Package policy implements admission control and the degradation ladder.
//
// Both decisions are pure O(1) functions of the current queue depth
// (pending + in-flight requests) and touch no shared state, so they are
// safe to call on the request hot path.
package policy
