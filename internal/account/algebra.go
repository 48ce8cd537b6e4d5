package account

import (
	"encoding/binary"
	"fmt"

	"shieldpool/internal/poolerr"
	"shieldpool/internal/shielded"
)

// Mode selects the balance algebra of a pool.
type Mode string

const (
	ModePlain   Mode = "plain"
	ModeElGamal Mode = "elgamal"
)

// Algebra is the group structure balance blobs live in. Sub(Add(b, x), x)
// must equal b.
type Algebra interface {
	// Encrypt produces the blob of amount under key.
	Encrypt(key shielded.EncryptionKey, amount uint64) (Blob, error)
	Add(a, b Blob) (Blob, error)
	Sub(a, b Blob) (Blob, error)
	// Value returns the plain amount of b, or false when it is hidden.
	Value(b Blob) (uint64, bool)
	// Rekey moves b, held under the zero key, to key.
	Rekey(b Blob, key shielded.EncryptionKey) (Blob, error)
}

// ForMode returns the algebra of m.
func ForMode(m Mode) (Algebra, error) {
	switch m {
	case ModePlain, "":
		return Plain{}, nil
	case ModeElGamal:
		return ElGamal{}, nil
	default:
		return nil, fmt.Errorf("unknown balance mode %q", m)
	}
}

// Plain stores a u64 in the first eight bytes of the blob.
type Plain struct{}

// PlainBlob encodes amount.
func PlainBlob(amount uint64) Blob {
	var b Blob
	binary.LittleEndian.PutUint64(b[:8], amount)
	return b
}

func plainValue(b Blob) uint64 {
	return binary.LittleEndian.Uint64(b[:8])
}

func (Plain) Encrypt(_ shielded.EncryptionKey, amount uint64) (Blob, error) {
	return PlainBlob(amount), nil
}

func (Plain) Add(a, b Blob) (Blob, error) {
	x, y := plainValue(a), plainValue(b)
	sum := x + y
	if sum < x {
		return Blob{}, poolerr.ErrArithmeticOverflow
	}
	return PlainBlob(sum), nil
}

func (Plain) Sub(a, b Blob) (Blob, error) {
	x, y := plainValue(a), plainValue(b)
	if y > x {
		return Blob{}, poolerr.New(poolerr.CodeInsufficientBalance, "balance %d below %d", x, y)
	}
	return PlainBlob(x - y), nil
}

func (Plain) Value(b Blob) (uint64, bool) {
	return plainValue(b), true
}

func (Plain) Rekey(b Blob, _ shielded.EncryptionKey) (Blob, error) { return b, nil }
