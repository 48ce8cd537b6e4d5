// verifier.go - Proof verification contract and the digest backend.
//
// Verify is fail-closed: empty, short or all-zero proofs and empty input
// lists are rejected before any backend-specific work. Backends never
// panic on malformed input; they return false.

package proof

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"shieldpool/internal/shielded"
)

// Protocol tags separate the transcripts of each proof-gated operation.
const (
	TagTransfer = "shieldpool/transfer/v1"
	TagUnshield = "shieldpool/unshield/v1"
)

const (
	sealSize = 32
	// DefaultMinLen is the shortest proof the digest backend accepts.
	DefaultMinLen = 64
)

// Verifier checks a proof against its public inputs.
type Verifier interface {
	Verify(proof []byte, inputs []shielded.Digest) bool
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(proof []byte, inputs []shielded.Digest) bool

func (f VerifierFunc) Verify(proof []byte, inputs []shielded.Digest) bool { return f(proof, inputs) }

// Set is the verifier used by each proof-gated pool operation.
type Set struct {
	Transfer Verifier
	Unshield Verifier
}

// DigestSet returns digest verifiers for both operations.
func DigestSet(minLen int) Set {
	return Set{
		Transfer: &DigestVerifier{Tag: TagTransfer, MinLen: minLen},
		Unshield: &DigestVerifier{Tag: TagUnshield, MinLen: minLen},
	}
}

// precheck applies the checks shared by every backend.
func precheck(proof []byte, inputs []shielded.Digest, minLen int) bool {
	if len(proof) == 0 || len(inputs) == 0 || len(proof) < minLen {
		return false
	}
	for _, b := range proof {
		if b != 0 {
			return true
		}
	}
	return false
}

// DigestVerifier accepts proofs of the form sha3(tag || body || inputs) || body.
// It binds a proof to its inputs and operation but proves no knowledge; it
// stands in where no circuit backend is configured.
type DigestVerifier struct {
	Tag    string
	MinLen int
}

// NewDigestVerifier returns a verifier for tag with DefaultMinLen.
func NewDigestVerifier(tag string) *DigestVerifier {
	return &DigestVerifier{Tag: tag, MinLen: DefaultMinLen}
}

func (v *DigestVerifier) Verify(proof []byte, inputs []shielded.Digest) bool {
	minLen := v.MinLen
	if minLen <= sealSize {
		minLen = sealSize + 1
	}
	if !precheck(proof, inputs, minLen) {
		return false
	}
	want := transcript(v.Tag, proof[sealSize:], inputs)
	return subtle.ConstantTimeCompare(proof[:sealSize], want[:]) == 1
}

// Seal builds a digest proof over inputs. A nil body is replaced by 32 random
// bytes; Seal panics if the system randomness source fails.
func Seal(tag string, body []byte, inputs []shielded.Digest) []byte {
	if len(body) == 0 {
		body = make([]byte, 32)
		if _, err := rand.Read(body); err != nil {
			panic(err)
		}
	}
	d := transcript(tag, body, inputs)
	out := make([]byte, 0, sealSize+len(body))
	out = append(out, d[:]...)
	return append(out, body...)
}

func transcript(tag string, body []byte, inputs []shielded.Digest) [32]byte {
	h := sha3.New256()
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(tag)))
	h.Write(n[:])
	h.Write([]byte(tag))
	binary.BigEndian.PutUint64(n[:], uint64(len(body)))
	h.Write(n[:])
	h.Write(body)
	binary.BigEndian.PutUint64(n[:], uint64(len(inputs)))
	h.Write(n[:])
	for _, in := range inputs {
		h.Write(in[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
