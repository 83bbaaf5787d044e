/*
Package batch implements the micro-batching queue and the shared load
counters.

Requests admitted while a batch window is open are held in a single
ordered slice guarded by a mutex. The first enqueue schedules one
deferred flush; when the window elapses the flush atomically swaps the
slice for an empty one and fans every held request out to the worker
concurrently, dispatching all calls before awaiting any:

	enqueue ──▶ [pending slice] ──window──▶ swap ──▶ fan-out ──▶ fulfill
	   │                                     │
	   └── first enqueue schedules flush     └── next enqueue opens a new window

Each pending request's completion channel is fulfilled exactly once,
either with the worker's response or with a synthesized 500. Overlap
between the fan-out of one batch and the window of the next is allowed;
two flushes never share a batch.

Tracker carries the pending and in-flight counters whose sum is the
queue depth driving admission and degradation. Reservation uses atomic
pre-increment so a concurrent pair of requests cannot both pass the
admission bound.
*/
package batch
