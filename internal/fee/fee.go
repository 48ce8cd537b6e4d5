// Package fee implements the basis-point fee policy of a pool.
package fee

import (
	"math/bits"

	"shieldpool/internal/poolerr"
)

// MaxBPS is 100%.
const MaxBPS = 10000

// Config holds the pool fee in basis points.
type Config struct {
	BPS uint16 `json:"fee_bps"`
}

// New validates bps and returns a Config.
func New(bps uint16) (Config, error) {
	if bps > MaxBPS {
		return Config{}, poolerr.New(poolerr.CodeFeeTooHigh, "fee %d bps exceeds %d", bps, MaxBPS)
	}
	return Config{BPS: bps}, nil
}

// ApplyFee splits amount into (net, fee) with fee = floor(amount*bps/10000).
// The product is computed in u64 and fails with ArithmeticOverflow when it
// does not fit.
func (c Config) ApplyFee(amount uint64) (net, fee uint64, err error) {
	hi, product := bits.Mul64(amount, uint64(c.BPS))
	if hi != 0 {
		return 0, 0, poolerr.New(poolerr.CodeArithmeticOverflow, "fee on %d overflows", amount)
	}
	fee = product / MaxBPS
	if fee > amount {
		return 0, 0, poolerr.New(poolerr.CodeAmountTooSmall, "fee %d exceeds amount %d", fee, amount)
	}
	return amount - fee, fee, nil
}

// SetFee replaces the fee. Authorization is the caller's concern.
func (c *Config) SetFee(bps uint16) error {
	next, err := New(bps)
	if err != nil {
		return err
	}
	*c = next
	return nil
}
