// Package arrow provides Apache Arrow integration for throughput trials.
// This package implements:
// - The trial schema
// - Conversion between trial rows and Arrow records
// - Arrow IPC serialization for writing experiment results
package arrow
