package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/poolerr"
	"shieldpool/internal/shielded"
)

func digest(b byte) shielded.Digest {
	var d shielded.Digest
	d[0] = b
	return d
}

func TestCommitmentRegistryFillsUp(t *testing.T) {
	pool := digest(1)
	r := NewCommitmentRegistry(pool, 3)

	for i := byte(0); i < 3; i++ {
		require.NoError(t, r.Add(pool, digest(10+i)))
	}
	assert.Equal(t, uint64(3), r.Count)
	assert.Zero(t, r.Remaining())

	for i := 0; i < 5; i++ {
		err := r.Add(pool, digest(99))
		assert.ErrorIs(t, err, poolerr.ErrRegistryFull)
		assert.Equal(t, uint64(3), r.Count)
		assert.Len(t, r.Entries, 3)
	}
	assert.True(t, r.Contains(digest(11)))
	assert.False(t, r.Contains(digest(99)))
}

func TestCommitmentRegistryRejectsForeignPool(t *testing.T) {
	r := NewCommitmentRegistry(digest(1), 0)
	assert.Equal(t, uint64(DefaultCapacity), r.Capacity)

	err := r.Add(digest(2), digest(3))
	assert.ErrorIs(t, err, poolerr.ErrInvalidRegistry)
	assert.Zero(t, r.Count)
}

func TestNullifierRegistryExactlyOnce(t *testing.T) {
	pool := digest(1)
	r := NewNullifierRegistry(pool, 2)

	require.NoError(t, r.Register(pool, digest(5)))
	err := r.Register(pool, digest(5))
	assert.ErrorIs(t, err, poolerr.ErrNullifierAlreadyUsed)
	assert.Equal(t, uint64(1), r.Count())

	require.NoError(t, r.Register(pool, digest(6)))
	assert.ErrorIs(t, r.Register(pool, digest(7)), poolerr.ErrRegistryFull)
	// A known nullifier is still a replay once the registry is full.
	assert.ErrorIs(t, r.Register(pool, digest(6)), poolerr.ErrNullifierAlreadyUsed)

	assert.ErrorIs(t, r.Register(digest(2), digest(8)), poolerr.ErrInvalidRegistry)
}

func TestStrategyValid(t *testing.T) {
	assert.True(t, StrategyKeyed.Valid())
	assert.True(t, StrategyBounded.Valid())
	assert.False(t, Strategy("ring").Valid())
}
