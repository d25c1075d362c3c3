// Package core holds the vector model shared by every OMEGA component:
// the five-component Vector with its payload and network-state subspaces,
// the VectorCodec that maps bounded payloads onto the payload torus,
// and the worker pool used for batch transmits.
package core
