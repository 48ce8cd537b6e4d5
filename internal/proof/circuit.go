package proof

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// SpendCircuit proves knowledge of the secret behind an account commitment
// and that the revealed nullifier was derived from it.
type SpendCircuit struct {
	// Public
	Commitment frontend.Variable `gnark:",public"`
	Nullifier  frontend.Variable `gnark:",public"`

	// Private
	Secret frontend.Variable
	Rho    frontend.Variable
}

func (c *SpendCircuit) Define(api frontend.API) error {
	// (1) Commitment = MiMC(secret)
	cm, err := hashVars(api, c.Secret)
	if err != nil {
		return err
	}
	api.AssertIsEqual(c.Commitment, cm)

	// (2) Nullifier = MiMC(secret, rho)
	nf, err := PRF(api, c.Secret, c.Rho)
	if err != nil {
		return err
	}
	api.AssertIsEqual(c.Nullifier, nf)
	return nil
}

// TransferCircuit proves the sender holds the spend secret of its account
// and names a different recipient account.
type TransferCircuit struct {
	// Public
	Sender    frontend.Variable `gnark:",public"`
	Recipient frontend.Variable `gnark:",public"`

	// Private
	Secret frontend.Variable
}

func (c *TransferCircuit) Define(api frontend.API) error {
	cm, err := hashVars(api, c.Secret)
	if err != nil {
		return err
	}
	api.AssertIsEqual(c.Sender, cm)
	api.AssertIsDifferent(c.Recipient, c.Sender)
	return nil
}

// PRF is the in-circuit nullifier function, MiMC(sk, rho).
func PRF(api frontend.API, sk, rho frontend.Variable) (frontend.Variable, error) {
	return hashVars(api, sk, rho)
}

func hashVars(api frontend.API, vars ...frontend.Variable) (frontend.Variable, error) {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return nil, err
	}
	h.Write(vars...)
	return h.Sum(), nil
}
