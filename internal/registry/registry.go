// registry.go - Append-only commitment log and bounded nullifier log.
//
// Both registries are bound to one pool. They are plain values: the store
// loads one, the pool mutates it and the store writes it back inside the same
// transaction, which is what makes each append atomic.
//
// NOTE: A registry is not thread-safe by itself; it relies on the enclosing
// store transaction for isolation.

package registry

import (
	"shieldpool/internal/poolerr"
	"shieldpool/internal/shielded"
)

// DefaultCapacity bounds a registry when the pool does not choose one.
const DefaultCapacity = 1024

// Strategy selects how a pool records consumed nullifiers.
type Strategy string

const (
	// StrategyKeyed stores one record per nullifier; insert-if-absent is the
	// replay check. Capacity is unbounded.
	StrategyKeyed Strategy = "keyed"
	// StrategyBounded scans a fixed-capacity NullifierRegistry.
	StrategyBounded Strategy = "bounded"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyKeyed || s == StrategyBounded
}

// CommitmentRegistry is the bounded append-only log of value commitments.
type CommitmentRegistry struct {
	Pool     shielded.Digest   `json:"pool"`
	Capacity uint64            `json:"capacity"`
	Count    uint64            `json:"count"`
	Entries  []shielded.Digest `json:"entries"`
}

// NewCommitmentRegistry creates an empty registry bound to pool.
func NewCommitmentRegistry(pool shielded.Digest, capacity uint64) *CommitmentRegistry {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	return &CommitmentRegistry{
		Pool:     pool,
		Capacity: capacity,
		Entries:  make([]shielded.Digest, 0),
	}
}

// Add appends c. It fails with InvalidRegistry when pool is not the bound
// pool and RegistryFull once Count reaches Capacity.
func (r *CommitmentRegistry) Add(pool shielded.Digest, c shielded.Digest) error {
	if pool != r.Pool {
		return poolerr.ErrInvalidRegistry
	}
	if r.Count >= r.Capacity {
		return poolerr.New(poolerr.CodeRegistryFull, "commitment registry holds %d of %d", r.Count, r.Capacity)
	}
	next := r.Count + 1
	if next < r.Count {
		return poolerr.ErrArithmeticOverflow
	}
	r.Entries = append(r.Entries, c)
	r.Count = next
	return nil
}

// Contains returns true if c was appended.
func (r *CommitmentRegistry) Contains(c shielded.Digest) bool {
	for _, e := range r.Entries {
		if e == c {
			return true
		}
	}
	return false
}

// Remaining is the number of appends left before RegistryFull.
func (r *CommitmentRegistry) Remaining() uint64 {
	return r.Capacity - r.Count
}

// NullifierRegistry is the bounded-array nullifier log.
type NullifierRegistry struct {
	Pool     shielded.Digest   `json:"pool"`
	Capacity uint64            `json:"capacity"`
	Entries  []shielded.Digest `json:"entries"`
}

// NewNullifierRegistry creates an empty registry bound to pool.
func NewNullifierRegistry(pool shielded.Digest, capacity uint64) *NullifierRegistry {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	return &NullifierRegistry{
		Pool:     pool,
		Capacity: capacity,
		Entries:  make([]shielded.Digest, 0),
	}
}

// Register consumes n. The replay check runs before the capacity check, so a
// full registry still reports NullifierAlreadyUsed for a known nullifier.
func (r *NullifierRegistry) Register(pool shielded.Digest, n shielded.Digest) error {
	if pool != r.Pool {
		return poolerr.ErrInvalidRegistry
	}
	if r.Contains(n) {
		return poolerr.New(poolerr.CodeNullifierAlreadyUsed, "nullifier %s already used", n)
	}
	if uint64(len(r.Entries)) >= r.Capacity {
		return poolerr.New(poolerr.CodeRegistryFull, "nullifier registry holds %d of %d", len(r.Entries), r.Capacity)
	}
	r.Entries = append(r.Entries, n)
	return nil
}

// Contains returns true if n has been consumed.
func (r *NullifierRegistry) Contains(n shielded.Digest) bool {
	for _, e := range r.Entries {
		if e == n {
			return true
		}
	}
	return false
}

// Count is the number of consumed nullifiers.
func (r *NullifierRegistry) Count() uint64 {
	return uint64(len(r.Entries))
}

// NullifierRecord is the keyed-strategy record for one consumed nullifier.
type NullifierRecord struct {
	Pool       shielded.Digest `json:"pool"`
	Nullifier  shielded.Digest `json:"nullifier"`
	ConsumedAt int64           `json:"consumed_at"`
}
