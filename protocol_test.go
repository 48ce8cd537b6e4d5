package main

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/account"
	"shieldpool/internal/events"
	"shieldpool/internal/pool"
	"shieldpool/internal/poolerr"
	"shieldpool/internal/proof"
	"shieldpool/internal/shielded"
	"shieldpool/internal/store/badgerstore"
	"shieldpool/internal/store/memstore"
)

// =============================================================================
// 1. WALKTHROUGH
// =============================================================================

func TestWalkthroughDigest(t *testing.T) {
	require.NoError(t, run(context.Background(), zerolog.Nop(), proof.DigestSet(proof.DefaultMinLen), digestSpender))
}

func TestWalkthroughGroth16(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}
	set, prover, err := proof.Groth16Set(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, run(context.Background(), zerolog.Nop(), set, prover.ProveSpend))
}

// An owner who shields before opening can still install a provable key.
func TestShieldBeforeOpenGroth16(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}
	ctx := context.Background()
	set, prover, err := proof.Groth16Set(t.TempDir())
	require.NoError(t, err)
	st := memstore.New()
	svc := pool.NewService(st, set)
	p, err := svc.Initialize(ctx, pool.InitRequest{Admin: shielded.Address{0xad}, FeeBPS: 500})
	require.NoError(t, err)

	alice, err := newParticipant("alice", 0xa1)
	require.NoError(t, err)
	require.NoError(t, st.Fund(ctx, alice.addr, 1_000_000))
	_, err = svc.Shield(ctx, pool.ShieldRequest{Pool: p.ID, Owner: alice.addr, Amount: 1_000_000})
	require.NoError(t, err)

	_, err = svc.OpenAccount(ctx, pool.OpenAccountRequest{Pool: p.ID, Owner: alice.addr, Commitment: alice.key.Commitment()})
	require.NoError(t, err)

	prf, nf, err := prover.ProveSpend(alice.key, 1)
	require.NoError(t, err)
	r, err := svc.Unshield(ctx, pool.UnshieldRequest{Pool: p.ID, Owner: alice.addr, Amount: 950_000, Nullifier: nf, Proof: prf})
	require.NoError(t, err)
	assert.Equal(t, uint64(902_500), r.Net)

	rep, err := svc.Audit(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, rep.Balanced)
	assert.Zero(t, rep.TotalLocked)
}

// =============================================================================
// 2. CONSERVATION ACROSS STORES
// =============================================================================

type ledger interface {
	pool.Store
	pool.Funder
}

func stores(t *testing.T) map[string]ledger {
	t.Helper()
	bs, err := badgerstore.Open(badgerstore.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })
	return map[string]ledger{
		"memory": memstore.New(),
		"badger": bs,
	}
}

func TestConservation(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := &events.Recorder{}
			svc := pool.NewService(st, proof.DigestSet(proof.DefaultMinLen), pool.WithPublisher(rec))
			p, err := svc.Initialize(ctx, pool.InitRequest{Admin: shielded.Address{0xad}, FeeBPS: 30})
			require.NoError(t, err)

			users := make([]*participant, 4)
			for i := range users {
				users[i], err = newParticipant("user", byte(0x10+i))
				require.NoError(t, err)
				require.NoError(t, st.Fund(ctx, users[i].addr, 1_000_000))
				_, err = svc.OpenAccount(ctx, pool.OpenAccountRequest{Pool: p.ID, Owner: users[i].addr, Commitment: users[i].key.Commitment()})
				require.NoError(t, err)
			}

			var wg sync.WaitGroup
			for i, u := range users {
				wg.Add(1)
				go func(i int, u *participant) {
					defer wg.Done()
					for k := 1; k <= 5; k++ {
						_, err := svc.Shield(ctx, pool.ShieldRequest{Pool: p.ID, Owner: u.addr, Amount: uint64(10_000 * k)})
						if poolerr.CodeOf(err) == poolerr.CodeConflict {
							continue
						}
						assert.NoError(t, err)
					}
				}(i, u)
			}
			wg.Wait()

			rep, err := svc.Audit(ctx, p.ID)
			require.NoError(t, err)
			assert.True(t, rep.Balanced)

			// Every unshield of the first user burns a fresh nullifier.
			u := users[0]
			for rho := uint64(1); rho <= 3; rho++ {
				prf, nf, err := digestSpender(u.key, rho)
				require.NoError(t, err)
				_, err = svc.Unshield(ctx, pool.UnshieldRequest{Pool: p.ID, Owner: u.addr, Amount: 1_000, Nullifier: nf, Proof: prf})
				require.NoError(t, err)
			}

			rep, err = svc.Audit(ctx, p.ID)
			require.NoError(t, err)
			assert.True(t, rep.Balanced)
			assert.Equal(t, uint64(3), rep.Nullifiers)
			assert.Len(t, rec.OfType(events.TypeUnshield), 3)
		})
	}
}

// =============================================================================
// 3. CONFIDENTIAL BALANCES
// =============================================================================

func TestElGamalTransfer(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := pool.NewService(st, proof.DigestSet(proof.DefaultMinLen))
	p, err := svc.Initialize(ctx, pool.InitRequest{Admin: shielded.Address{0xad}, BalanceMode: account.ModeElGamal})
	require.NoError(t, err)

	type user struct {
		p  *participant
		kp *shielded.KeyPair
	}
	var us [2]user
	for i := range us {
		us[i].p, err = newParticipant("user", byte(0x20+i))
		require.NoError(t, err)
		us[i].kp, err = shielded.GenerateKeyPair()
		require.NoError(t, err)
		require.NoError(t, st.Fund(ctx, us[i].p.addr, 1_000))
		_, err = svc.OpenAccount(ctx, pool.OpenAccountRequest{
			Pool:          p.ID,
			Owner:         us[i].p.addr,
			Commitment:    us[i].p.key.Commitment(),
			EncryptionKey: us[i].kp.EncryptionKey(),
		})
		require.NoError(t, err)
	}
	sender, recipient := us[0], us[1]

	_, err = svc.Shield(ctx, pool.ShieldRequest{Pool: p.ID, Owner: sender.p.addr, Amount: 500})
	require.NoError(t, err)

	alg := account.ElGamal{}
	debit, err := alg.Encrypt(sender.kp.EncryptionKey(), 200)
	require.NoError(t, err)
	credit, err := alg.Encrypt(recipient.kp.EncryptionKey(), 200)
	require.NoError(t, err)
	prf := proof.Seal(proof.TagTransfer, nil, []shielded.Digest{sender.p.key.Commitment(), recipient.p.key.Commitment()})
	require.NoError(t, svc.Transfer(ctx, pool.TransferRequest{
		Pool:      p.ID,
		Sender:    sender.p.addr,
		Recipient: recipient.p.addr,
		Debit:     debit,
		Credit:    credit,
		Proof:     prf,
	}))

	sa, err := svc.GetAccount(ctx, p.ID, sender.p.addr, sender.p.addr)
	require.NoError(t, err)
	ra, err := svc.GetAccount(ctx, p.ID, recipient.p.addr, recipient.p.addr)
	require.NoError(t, err)
	assert.True(t, account.Opens(sender.kp, sa.Balance, 300))
	assert.True(t, account.Opens(recipient.kp, ra.Balance, 200))
}
