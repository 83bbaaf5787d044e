/*
Package gateway is the client-facing HTTP front-end.

Every chat-completion request flows through the same sequence:

	parse body ─▶ admission (atomic depth reservation) ─▶ 429 on overload
	     │
	     ▶ supervisor wake-up + cold-start wait ─▶ 503 on timeout
	     │
	     ▶ degradation (cap max_tokens by tier)
	     │
	     ▶ direct forward (window 0) or batch enqueue + await

The worker's status and body are returned unchanged; the gateway only
synthesizes responses for overload, cold-start timeout, and upstream
transport failure. /health, /metrics and the /v1/models proxy round out
the observability surface.
*/
package gateway
