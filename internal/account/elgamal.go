// elgamal.go - Additively homomorphic ElGamal balances on BN254 G1.
//
// A blob is C1 || C2 with Enc(pk, m; r) = (rG, mG + r*pk). Adding and
// subtracting blobs componentwise adds and subtracts the plaintexts. An
// account with no encryption key encrypts under the point at infinity, which
// hides nothing: C2 is then the plaintext point itself, so Rekey can move such
// a blob under a real key without knowing the amount.

package account

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"shieldpool/internal/poolerr"
	"shieldpool/internal/shielded"
)

// ElGamal implements Algebra over BN254 G1.
type ElGamal struct{}

type ciphertext struct {
	c1, c2 bn254.G1Affine
}

func decodeCiphertext(b Blob) (ciphertext, error) {
	var ct ciphertext
	var half [32]byte
	copy(half[:], b[:32])
	c1, err := shielded.PointFromBytes(half)
	if err != nil {
		return ct, poolerr.Wrap(poolerr.CodeInvalidAmount, err, "balance blob c1")
	}
	copy(half[:], b[32:])
	c2, err := shielded.PointFromBytes(half)
	if err != nil {
		return ct, poolerr.Wrap(poolerr.CodeInvalidAmount, err, "balance blob c2")
	}
	ct.c1, ct.c2 = c1, c2
	return ct, nil
}

func (ct ciphertext) blob() Blob {
	var b Blob
	c1 := shielded.PointBytes(&ct.c1)
	c2 := shielded.PointBytes(&ct.c2)
	copy(b[:32], c1[:])
	copy(b[32:], c2[:])
	return b
}

func scalarMul(p *bn254.G1Affine, s *big.Int) bn254.G1Affine {
	var out bn254.G1Affine
	out.ScalarMultiplication(p, s)
	return out
}

func combine(a, b bn254.G1Affine, subtract bool) bn254.G1Affine {
	var ja, jb bn254.G1Jac
	ja.FromAffine(&a)
	jb.FromAffine(&b)
	if subtract {
		ja.SubAssign(&jb)
	} else {
		ja.AddAssign(&jb)
	}
	var out bn254.G1Affine
	out.FromJacobian(&ja)
	return out
}

func (ElGamal) Encrypt(key shielded.EncryptionKey, amount uint64) (Blob, error) {
	pk, err := key.Point()
	if err != nil {
		return Blob{}, err
	}
	var r fr.Element
	if _, err := r.SetRandom(); err != nil {
		return Blob{}, fmt.Errorf("encrypt: %w", err)
	}
	rBig := r.BigInt(new(big.Int))
	g := shielded.Generator()

	mG := scalarMul(&g, new(big.Int).SetUint64(amount))
	rPk := scalarMul(&pk, rBig)
	ct := ciphertext{
		c1: scalarMul(&g, rBig),
		c2: combine(mG, rPk, false),
	}
	return ct.blob(), nil
}

func (e ElGamal) Add(a, b Blob) (Blob, error) { return e.apply(a, b, false) }

func (e ElGamal) Sub(a, b Blob) (Blob, error) { return e.apply(a, b, true) }

func (ElGamal) apply(a, b Blob, subtract bool) (Blob, error) {
	x, err := decodeCiphertext(a)
	if err != nil {
		return Blob{}, err
	}
	y, err := decodeCiphertext(b)
	if err != nil {
		return Blob{}, err
	}
	out := ciphertext{
		c1: combine(x.c1, y.c1, subtract),
		c2: combine(x.c2, y.c2, subtract),
	}
	return out.blob(), nil
}

func (ElGamal) Value(Blob) (uint64, bool) { return 0, false }

func (ElGamal) Rekey(b Blob, key shielded.EncryptionKey) (Blob, error) {
	ct, err := decodeCiphertext(b)
	if err != nil {
		return Blob{}, err
	}
	pk, err := key.Point()
	if err != nil {
		return Blob{}, err
	}
	var r fr.Element
	if _, err := r.SetRandom(); err != nil {
		return Blob{}, fmt.Errorf("rekey: %w", err)
	}
	rBig := r.BigInt(new(big.Int))
	g := shielded.Generator()
	rPk := scalarMul(&pk, rBig)
	out := ciphertext{
		c1: scalarMul(&g, rBig),
		c2: combine(ct.c2, rPk, false),
	}
	return out.blob(), nil
}

// Opens reports whether b decrypts to amount under kp: C2 - sk*C1 == amount*G.
func Opens(kp *shielded.KeyPair, b Blob, amount uint64) bool {
	ct, err := decodeCiphertext(b)
	if err != nil {
		return false
	}
	skC1 := scalarMul(&ct.c1, kp.Secret.BigInt(new(big.Int)))
	m := combine(ct.c2, skC1, true)
	g := shielded.Generator()
	want := scalarMul(&g, new(big.Int).SetUint64(amount))
	return m.Equal(&want)
}
