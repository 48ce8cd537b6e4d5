// main.go - Two-user walkthrough of the shielded pool.
//
// This runs the reference flow end to end against an in-memory ledger:
//   - an admin creates a pool charging 500 bps
//   - Alice and Bob open accounts with their spend commitments and shield value
//   - Alice unshields with a spend proof and consumes a nullifier
//   - a replay of the same nullifier and an overdraw are both rejected
//   - the vault is audited against the pool's books
//
// Usage:
//
//	go run .            digest proofs
//	go run . keys       Groth16 proofs, keys set up under ./keys
package main

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog"

	"shieldpool/internal/events"
	"shieldpool/internal/logging"
	"shieldpool/internal/pool"
	"shieldpool/internal/poolerr"
	"shieldpool/internal/proof"
	"shieldpool/internal/shielded"
	"shieldpool/internal/store/memstore"
)

type spender func(sk shielded.SpendKey, rho uint64) ([]byte, shielded.Digest, error)

func digestSpender(sk shielded.SpendKey, rho uint64) ([]byte, shielded.Digest, error) {
	nf := sk.Nullifier(rho)
	return proof.Seal(proof.TagUnshield, nil, []shielded.Digest{sk.Commitment(), nf}), nf, nil
}

type participant struct {
	name string
	addr shielded.Address
	key  shielded.SpendKey
}

func newParticipant(name string, tag byte) (*participant, error) {
	sk, err := shielded.NewSpendKey()
	if err != nil {
		return nil, err
	}
	return &participant{name: name, addr: shielded.Address{tag}, key: sk}, nil
}

func run(ctx context.Context, log zerolog.Logger, verifiers proof.Set, prove spender) error {
	st := memstore.New()
	svc := pool.NewService(st, verifiers,
		pool.WithLogger(log),
		pool.WithPublisher(events.NewLogPublisher(log)),
	)

	admin := shielded.Address{0xad}
	p, err := svc.Initialize(ctx, pool.InitRequest{Admin: admin, FeeBPS: 500})
	if err != nil {
		return err
	}
	log.Info().Str("pool", p.ID.String()).Str("vault", p.Vault().String()).Msg("pool created")

	alice, err := newParticipant("alice", 0xa1)
	if err != nil {
		return err
	}
	bob, err := newParticipant("bob", 0xb0)
	if err != nil {
		return err
	}
	for _, u := range []*participant{alice, bob} {
		if err := st.Fund(ctx, u.addr, 2_000_000); err != nil {
			return err
		}
		if _, err := svc.OpenAccount(ctx, pool.OpenAccountRequest{Pool: p.ID, Owner: u.addr, Commitment: u.key.Commitment()}); err != nil {
			return err
		}
	}

	// A: Alice shields 1,000,000.
	r, err := svc.Shield(ctx, pool.ShieldRequest{Pool: p.ID, Owner: alice.addr, Amount: 1_000_000})
	if err != nil {
		return err
	}
	log.Info().Uint64("net", r.Net).Uint64("fee", r.Fee).Uint64("total_locked", r.TotalLocked).Msg("A: alice shielded")

	// B: Bob shields 200,000.
	if r, err = svc.Shield(ctx, pool.ShieldRequest{Pool: p.ID, Owner: bob.addr, Amount: 200_000}); err != nil {
		return err
	}
	log.Info().Uint64("net", r.Net).Uint64("total_locked", r.TotalLocked).Msg("B: bob shielded")

	// C: Alice unshields her 950,000.
	prf, nf, err := prove(alice.key, 1)
	if err != nil {
		return err
	}
	req := pool.UnshieldRequest{Pool: p.ID, Owner: alice.addr, Amount: 950_000, Nullifier: nf, Proof: prf}
	u, err := svc.Unshield(ctx, req)
	if err != nil {
		return err
	}
	log.Info().Uint64("net", u.Net).Uint64("fee", u.Fee).Uint64("total_locked", u.TotalLocked).Msg("C: alice unshielded")

	// D: the same nullifier cannot be spent twice.
	if _, err := svc.Unshield(ctx, req); !errors.Is(err, poolerr.ErrNullifierAlreadyUsed) {
		return errors.New("replayed nullifier was not rejected")
	}
	log.Info().Msg("D: replay rejected")

	// E: nobody can take more than the pool holds.
	prf, nf, err = prove(alice.key, 2)
	if err != nil {
		return err
	}
	_, err = svc.Unshield(ctx, pool.UnshieldRequest{Pool: p.ID, Owner: alice.addr, Amount: 1_000_000, Nullifier: nf, Proof: prf})
	if !errors.Is(err, poolerr.ErrInsufficientBalance) {
		return errors.New("overdraw was not rejected")
	}
	log.Info().Msg("E: overdraw rejected")

	// F: the vault holds exactly what the books say.
	rep, err := svc.Audit(ctx, p.ID)
	if err != nil {
		return err
	}
	log.Info().
		Uint64("vault", rep.VaultBalance).
		Uint64("total_locked", rep.TotalLocked).
		Uint64("fees", rep.FeesCollected).
		Bool("balanced", rep.Balanced).
		Msg("F: audit")
	if !rep.Balanced {
		return errors.New("vault does not match the pool's books")
	}
	return nil
}

func main() {
	logs := logging.New(logging.Options{Level: "info"})
	log := logs.Log

	verifiers, prove := proof.DigestSet(proof.DefaultMinLen), spender(digestSpender)
	if len(os.Args) > 1 {
		log.Info().Str("dir", os.Args[1]).Msg("setting up groth16 keys")
		set, prover, err := proof.Groth16Set(os.Args[1])
		if err != nil {
			log.Fatal().Err(err).Msg("groth16 setup failed")
		}
		verifiers, prove = set, prover.ProveSpend
	}

	if err := run(context.Background(), log, verifiers, prove); err != nil {
		log.Fatal().Err(err).Msg("walkthrough failed")
	}
	log.Info().Msg("walkthrough complete")
}
