// crypto.go - Commitments, nullifiers, role addresses and encryption keys.
//
// Commitments and nullifiers are MiMC digests over the BN254 scalar field so the
// same values can be recomputed inside a Groth16 circuit. Every input is fed to
// MiMC as a canonical field element.

package shielded

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"golang.org/x/crypto/sha3"
)

// Role tags for DeriveAddress.
const (
	RoleVault       = "vault"
	RoleCommitments = "commitments"
	RoleNullifiers  = "nullifiers"
)

// chunkSize keeps every chunk strictly below the field modulus.
const chunkSize = fr.Bytes - 1

// mimcElements hashes a list of field elements with MiMC.
func mimcElements(elems ...fr.Element) Digest {
	h := mimcNative.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		h.Write(b[:])
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// bytesToElements splits data into 31-byte big-endian chunks.
func bytesToElements(data []byte) []fr.Element {
	out := make([]fr.Element, 0, len(data)/chunkSize+1)
	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		var e fr.Element
		e.SetBytes(data[start:end])
		out = append(out, e)
	}
	return out
}

func uintElement(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

// Hash computes MiMC over the concatenated chunk encodings of parts.
func Hash(parts ...[]byte) Digest {
	var elems []fr.Element
	for _, p := range parts {
		elems = append(elems, bytesToElements(p)...)
	}
	return mimcElements(elems...)
}

// Commitment binds an owner to a value and nonce: MiMC(owner || amount || nonce).
func Commitment(owner Address, amount, nonce uint64) Digest {
	elems := bytesToElements(owner[:])
	elems = append(elems, uintElement(amount), uintElement(nonce))
	return mimcElements(elems...)
}

// Element returns d as a field element. MiMC outputs are already reduced.
func (d Digest) Element() fr.Element {
	var e fr.Element
	e.SetBytes(d[:])
	return e
}

// BigInt returns d as an integer, the form gnark witnesses take.
func (d Digest) BigInt() *big.Int {
	return new(big.Int).SetBytes(d[:])
}

// SpendKey authorizes spends out of an account. The account stores
// Commitment(); each spend reveals a fresh Nullifier(rho).
type SpendKey struct {
	Secret fr.Element
}

// NewSpendKey draws a random spend key.
func NewSpendKey() (SpendKey, error) {
	var k SpendKey
	if _, err := k.Secret.SetRandom(); err != nil {
		return SpendKey{}, fmt.Errorf("spend key: %w", err)
	}
	return k, nil
}

// ParseSpendKey decodes a hex-encoded secret.
func ParseSpendKey(s string) (SpendKey, error) {
	d, err := ParseDigest(s)
	if err != nil {
		return SpendKey{}, fmt.Errorf("spend key: %w", err)
	}
	var k SpendKey
	if err := k.Secret.SetBytesCanonical(d[:]); err != nil {
		return SpendKey{}, fmt.Errorf("spend key: %w", err)
	}
	return k, nil
}

func (k SpendKey) String() string {
	b := k.Secret.Bytes()
	return hex.EncodeToString(b[:])
}

// Commitment returns MiMC(secret).
func (k SpendKey) Commitment() Digest {
	return mimcElements(k.Secret)
}

// Nullifier returns MiMC(secret, rho).
func (k SpendKey) Nullifier(rho uint64) Digest {
	return mimcElements(k.Secret, uintElement(rho))
}

// DeriveAddress maps (pool, role) to a deterministic address.
func DeriveAddress(pool Digest, role string) Address {
	h := sha3.New256()
	h.Write([]byte("shieldpool/"))
	h.Write([]byte(role))
	h.Write(pool[:])
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// EncryptionKey is a compressed BN254 G1 point. The zero value is the point
// at infinity.
type EncryptionKey [32]byte

func (k EncryptionKey) String() string { return hex.EncodeToString(k[:]) }

func (k EncryptionKey) IsZero() bool { return k == EncryptionKey{} }

func (k EncryptionKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *EncryptionKey) UnmarshalText(text []byte) error {
	d, err := ParseDigest(string(text))
	if err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}
	*k = EncryptionKey(d)
	return nil
}

// Point decodes k.
func (k EncryptionKey) Point() (bn254.G1Affine, error) {
	return PointFromBytes(k)
}

// PointBytes compresses p, encoding infinity as 32 zero bytes.
func PointBytes(p *bn254.G1Affine) [32]byte {
	if p.IsInfinity() {
		return [32]byte{}
	}
	return p.Bytes()
}

// PointFromBytes is the inverse of PointBytes.
func PointFromBytes(b [32]byte) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	if b == ([32]byte{}) {
		p.X.SetZero()
		p.Y.SetZero()
		return p, nil
	}
	if _, err := p.SetBytes(b[:]); err != nil {
		return bn254.G1Affine{}, fmt.Errorf("decode point: %w", err)
	}
	return p, nil
}

// Generator returns the BN254 G1 generator.
func Generator() bn254.G1Affine {
	_, _, g, _ := bn254.Generators()
	return g
}

// KeyPair is an ElGamal keypair on BN254 G1.
type KeyPair struct {
	Secret fr.Element
	Public bn254.G1Affine
}

// GenerateKeyPair draws a random keypair.
func GenerateKeyPair() (*KeyPair, error) {
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, fmt.Errorf("keypair: %w", err)
	}
	return KeyPairFromSecret(sk), nil
}

// KeyPairFromSecret rebuilds the keypair of sk.
func KeyPairFromSecret(sk fr.Element) *KeyPair {
	g := Generator()
	var pk bn254.G1Affine
	pk.ScalarMultiplication(&g, sk.BigInt(new(big.Int)))
	return &KeyPair{Secret: sk, Public: pk}
}

// EncryptionKey returns the compressed public key.
func (kp *KeyPair) EncryptionKey() EncryptionKey {
	return EncryptionKey(PointBytes(&kp.Public))
}
