// Package monitoring provides logging and observability.
// This package implements:
// - Zap logger construction from configuration
// - Named per-node loggers
package monitoring
