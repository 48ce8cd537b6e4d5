package fee

import (
	"math"
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/poolerr"
)

func TestApplyFeeScenarios(t *testing.T) {
	cfg, err := New(500)
	require.NoError(t, err)

	cases := []struct {
		amount, net, fee uint64
	}{
		{1_000_000, 950_000, 50_000},
		{200_000, 190_000, 10_000},
		{950_000, 902_500, 47_500},
		{19, 19, 0},
		{0, 0, 0},
	}
	for _, tc := range cases {
		net, fee, err := cfg.ApplyFee(tc.amount)
		require.NoError(t, err)
		assert.Equal(t, tc.net, net, "net of %d", tc.amount)
		assert.Equal(t, tc.fee, fee, "fee of %d", tc.amount)
	}
}

func TestApplyFeeConservesValue(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		bps := uint16(rng.Intn(MaxBPS + 1))
		amount := rng.Uint64() >> uint(rng.Intn(64))
		cfg := Config{BPS: bps}

		net, fee, err := cfg.ApplyFee(amount)
		if err != nil {
			assert.ErrorIs(t, err, poolerr.ErrArithmeticOverflow)
			continue
		}
		assert.Equal(t, amount, net+fee)

		want := new(big.Int).Mul(new(big.Int).SetUint64(amount), big.NewInt(int64(bps)))
		want.Div(want, big.NewInt(MaxBPS))
		assert.Equal(t, want.Uint64(), fee)
	}
}

func TestApplyFeeOverflow(t *testing.T) {
	cfg := Config{BPS: 2}
	_, _, err := cfg.ApplyFee(math.MaxUint64)
	assert.ErrorIs(t, err, poolerr.ErrArithmeticOverflow)

	zero := Config{}
	net, fee, err := zero.ApplyFee(math.MaxUint64)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), net)
	assert.Zero(t, fee)
}

func TestFullFeeLeavesNothing(t *testing.T) {
	cfg := Config{BPS: MaxBPS}
	net, fee, err := cfg.ApplyFee(1234)
	require.NoError(t, err)
	assert.Zero(t, net)
	assert.Equal(t, uint64(1234), fee)
}

func TestSetFee(t *testing.T) {
	cfg := Config{BPS: 100}
	require.NoError(t, cfg.SetFee(MaxBPS))
	assert.Equal(t, uint16(MaxBPS), cfg.BPS)

	err := cfg.SetFee(MaxBPS + 1)
	assert.ErrorIs(t, err, poolerr.ErrFeeTooHigh)
	assert.Equal(t, uint16(MaxBPS), cfg.BPS)

	_, err = New(10001)
	assert.ErrorIs(t, err, poolerr.ErrFeeTooHigh)
}
