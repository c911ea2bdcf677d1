// Package storage defines the persistence interfaces for the handout service.
//
// Backends must provide one atomic primitive beyond plain reads and writes: a
// conditional claim insert that succeeds only when no claim exists at the same
// (distribution, item index) key. All allocation concurrency control is
// delegated to that primitive; the core never holds in-process locks.
// Implementations (bbolt, sqlite) live in subpackages and are substitutable.
//
// # Error Types
//
//   - ErrNotFound: a requested record is missing.
//   - ErrAlreadyClaimed: a conditional claim insert lost to an existing claim.
package storage
