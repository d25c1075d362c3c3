// Package operators implements the six vector operators of the OMEGA
// protocol: masking, resonance, sweep, path-invariant projection, weight
// transfer and double kick.
//
// Every operator is a pure function of its inputs and immutable parameters,
// so a single instance is safe for concurrent use.
package operators
