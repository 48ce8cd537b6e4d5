// groth16.go - Groth16 (BN254) backend: circuit compilation, key management,
// proving and verification.
//
// Keys are generated once with groth16.Setup and persisted; later runs load
// them from disk. The setup is a local trusted setup and suits development
// and single-operator deployments only.

package proof

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"shieldpool/internal/shielded"
)

// Circuit names a supported circuit.
type Circuit string

const (
	CircuitSpend    Circuit = "spend"
	CircuitTransfer Circuit = "transfer"
)

func (c Circuit) definition() (frontend.Circuit, error) {
	switch c {
	case CircuitSpend:
		return &SpendCircuit{}, nil
	case CircuitTransfer:
		return &TransferCircuit{}, nil
	default:
		return nil, fmt.Errorf("unknown circuit %q", c)
	}
}

// publicAssignment builds the public part of a witness from verifier inputs.
func (c Circuit) publicAssignment(inputs []shielded.Digest) (frontend.Circuit, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("circuit %s takes 2 public inputs, got %d", c, len(inputs))
	}
	for i := range inputs {
		var e fr.Element
		if err := e.SetBytesCanonical(inputs[i][:]); err != nil {
			return nil, fmt.Errorf("public input %d is not a field element: %w", i, err)
		}
	}
	switch c {
	case CircuitSpend:
		return &SpendCircuit{Commitment: inputs[0].BigInt(), Nullifier: inputs[1].BigInt()}, nil
	case CircuitTransfer:
		return &TransferCircuit{Sender: inputs[0].BigInt(), Recipient: inputs[1].BigInt()}, nil
	default:
		return nil, fmt.Errorf("unknown circuit %q", c)
	}
}

// Keys bundles a compiled circuit with its proving and verifying keys.
type Keys struct {
	Circuit Circuit
	CCS     constraint.ConstraintSystem
	PK      groth16.ProvingKey
	VK      groth16.VerifyingKey
}

// Compile compiles c over the BN254 scalar field.
func Compile(c Circuit) (constraint.ConstraintSystem, error) {
	def, err := c.definition()
	if err != nil {
		return nil, err
	}
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, def)
	if err != nil {
		return nil, fmt.Errorf("compile %s circuit: %w", c, err)
	}
	return ccs, nil
}

// LoadKeys compiles c and loads its keys from dir, running setup when they
// are missing.
func LoadKeys(c Circuit, dir string) (*Keys, error) {
	ccs, err := Compile(c)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	pkPath := filepath.Join(dir, string(c)+"_pk.bin")
	vkPath := filepath.Join(dir, string(c)+"_vk.bin")
	pk, vk, err := SetupOrLoadKeys(ccs, pkPath, vkPath)
	if err != nil {
		return nil, fmt.Errorf("%s keys: %w", c, err)
	}
	return &Keys{Circuit: c, CCS: ccs, PK: pk, VK: vk}, nil
}

// SaveProvingKey saves a Groth16 proving key to disk.
func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

// SaveVerifyingKey saves a Groth16 verifying key to disk.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

// LoadProvingKey loads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BN254)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BN254)
	_, err = vk.ReadFrom(f)
	return vk, err
}

// SetupOrLoadKeys loads keys if both files exist; otherwise it runs setup and
// saves the new keys.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, err
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}

// Groth16Verifier verifies serialized BN254 Groth16 proofs of one circuit.
type Groth16Verifier struct {
	circuit Circuit
	vk      groth16.VerifyingKey
}

// NewGroth16Verifier returns a verifier for keys.
func NewGroth16Verifier(keys *Keys) *Groth16Verifier {
	return &Groth16Verifier{circuit: keys.Circuit, vk: keys.VK}
}

func (v *Groth16Verifier) Verify(proofBytes []byte, inputs []shielded.Digest) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return v.check(proofBytes, inputs) == nil
}

// check is Verify with the failure reason kept.
func (v *Groth16Verifier) check(proofBytes []byte, inputs []shielded.Digest) error {
	if !precheck(proofBytes, inputs, 1) {
		return fmt.Errorf("empty proof or inputs")
	}
	assignment, err := v.circuit.publicAssignment(inputs)
	if err != nil {
		return err
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness creation failed: %w", err)
	}
	p := groth16.NewProof(ecc.BN254)
	if _, err := p.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("proof unmarshaling failed: %w", err)
	}
	if err := groth16.Verify(p, v.vk, w); err != nil {
		return fmt.Errorf("proof verification failed: %w", err)
	}
	return nil
}

// Prover produces serialized Groth16 proofs for account holders.
type Prover struct {
	spend    *Keys
	transfer *Keys
}

// NewProver returns a prover; either key set may be nil if unused.
func NewProver(spend, transfer *Keys) *Prover {
	return &Prover{spend: spend, transfer: transfer}
}

// ProveSpend proves knowledge of key for an unshield and returns the proof
// together with the nullifier it reveals.
func (p *Prover) ProveSpend(key shielded.SpendKey, rho uint64) ([]byte, shielded.Digest, error) {
	if p.spend == nil {
		return nil, shielded.Digest{}, fmt.Errorf("spend keys not loaded")
	}
	nullifier := key.Nullifier(rho)
	assignment := &SpendCircuit{
		Commitment: key.Commitment().BigInt(),
		Nullifier:  nullifier.BigInt(),
		Secret:     key.Secret.BigInt(new(big.Int)),
		Rho:        new(big.Int).SetUint64(rho),
	}
	out, err := prove(p.spend, assignment)
	if err != nil {
		return nil, shielded.Digest{}, err
	}
	return out, nullifier, nil
}

// ProveTransfer proves the sender holds key and targets recipient.
func (p *Prover) ProveTransfer(key shielded.SpendKey, recipient shielded.Digest) ([]byte, error) {
	if p.transfer == nil {
		return nil, fmt.Errorf("transfer keys not loaded")
	}
	assignment := &TransferCircuit{
		Sender:    key.Commitment().BigInt(),
		Recipient: recipient.BigInt(),
		Secret:    key.Secret.BigInt(new(big.Int)),
	}
	return prove(p.transfer, assignment)
}

func prove(keys *Keys, assignment frontend.Circuit) ([]byte, error) {
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	p, err := groth16.Prove(keys.CCS, keys.PK, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}
	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Groth16Set loads both circuits from keyDir and returns a verifier set and a
// prover sharing the keys.
func Groth16Set(keyDir string) (Set, *Prover, error) {
	spend, err := LoadKeys(CircuitSpend, keyDir)
	if err != nil {
		return Set{}, nil, err
	}
	transfer, err := LoadKeys(CircuitTransfer, keyDir)
	if err != nil {
		return Set{}, nil, err
	}
	set := Set{
		Transfer: NewGroth16Verifier(transfer),
		Unshield: NewGroth16Verifier(spend),
	}
	return set, NewProver(spend, transfer), nil
}
