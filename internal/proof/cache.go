package proof

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/sha3"

	"shieldpool/internal/shielded"
)

// Cached memoizes verdicts of an expensive verifier. Entries are keyed by a
// digest of the proof and its inputs, so a cached verdict is only reused for
// the exact same statement.
type Cached struct {
	inner Verifier
	cache *lru.Cache
}

// NewCached wraps inner with an LRU of size entries.
func NewCached(inner Verifier, size int) (*Cached, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("verdict cache: %w", err)
	}
	return &Cached{inner: inner, cache: c}, nil
}

func (c *Cached) Verify(proof []byte, inputs []shielded.Digest) bool {
	key := statementKey(proof, inputs)
	if v, ok := c.cache.Get(key); ok {
		return v.(bool)
	}
	ok := c.inner.Verify(proof, inputs)
	c.cache.Add(key, ok)
	return ok
}

// Len is the number of cached verdicts.
func (c *Cached) Len() int { return c.cache.Len() }

func statementKey(proof []byte, inputs []shielded.Digest) [32]byte {
	h := sha3.New256()
	fmt.Fprintf(h, "%d:", len(proof))
	h.Write(proof)
	for _, in := range inputs {
		h.Write(in[:])
	}
	var k [32]byte
	copy(k[:], h.Sum(nil))
	return k
}

// CacheSet wraps every verifier of s.
func CacheSet(s Set, size int) (Set, error) {
	transfer, err := NewCached(s.Transfer, size)
	if err != nil {
		return Set{}, err
	}
	unshield, err := NewCached(s.Unshield, size)
	if err != nil {
		return Set{}, err
	}
	return Set{Transfer: transfer, Unshield: unshield}, nil
}
