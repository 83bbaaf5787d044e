// Package types defines shared domain types for the Burrow gateway:
// the worker lifecycle state enum, admission and degradation results,
// and the upstream response envelope.
package types
