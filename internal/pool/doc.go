// Package pool provides memory management optimizations for part transfers.
// Part bodies are staged in reusable buffers so concurrent workers do not
// allocate a fresh part-sized slice for every attempt.
package pool
