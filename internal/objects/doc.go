// Package objects implements the per-class object directories.
//
// A Directory is a fixed arena of slots indexed by the index field of an
// ID. Free slots are threaded on an intrusive FIFO chain. Every slot carries
// one atomic state word (generation + allocated bit) so Get can validate an
// ID without taking the allocator lock, and a freed ID is rejected by a
// generation mismatch instead of relying on callers to drop it.
//
// All mutation (Allocate, Free) requires a *Guard obtained from the single
// Allocator shared by every class.
package objects
