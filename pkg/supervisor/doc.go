/*
Package supervisor owns the worker lifecycle for scale-to-zero operation.

The state machine:

	IDLE ──start_if_needed──▶ STARTING ──healthcheck ok──▶ RUNNING
	                                                          │
	                           STOPPING ◀──idle timeout───────┘
	                              │
	                              └──terminate done──▶ IDLE

	RUNNING ──worker died──▶ IDLE   (no automatic restart)

A single background goroutine polls the healthcheck while STARTING,
watches liveness and the idle timeout while RUNNING, and performs the
stop itself so process waits never block a request. StartIfNeeded is the
only transition taken on a request goroutine; it and the loop serialize
through the supervisor mutex. Requests arriving while the worker is cold
block in AwaitReady, which is woken by state transitions and gives up
after the cold-start budget.
*/
package supervisor
