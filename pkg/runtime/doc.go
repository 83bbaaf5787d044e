// Package runtime controls the vLLM worker subprocess.
//
// WorkerProcess owns the only process handle in the system. Start and
// Stop are idempotent; termination escalates from SIGTERM to SIGKILL
// with bounded waits. The controller performs no retries and holds no
// policy: the supervisor decides when to start and stop.
package runtime
