// Package health provides readiness probes for the managed worker.
//
// Two checkers implement the Checker interface: HTTPChecker issues a GET
// against the worker API and requires a 200, and TCPChecker only verifies
// that the worker port accepts connections. The supervisor polls a
// checker while the worker is starting; all probe failures map to an
// unhealthy Result, never to an error.
package health
