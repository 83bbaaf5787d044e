// Package log provides structured logging for Burrow using zerolog.
//
// The package maintains a global logger configured once at startup via
// Init. Components obtain child loggers with WithComponent, which tags
// every event with a component field so gateway, supervisor and batch
// activity can be filtered independently.
package log
