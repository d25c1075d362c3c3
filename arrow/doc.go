// Package arrow wraps Apache Arrow IPC streams used as the byte format of
// vector frames exchanged between nodes.
package arrow
