package pool_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/account"
	"shieldpool/internal/events"
	"shieldpool/internal/metrics"
	"shieldpool/internal/pool"
	"shieldpool/internal/poolerr"
	"shieldpool/internal/proof"
	"shieldpool/internal/registry"
	"shieldpool/internal/shielded"
	"shieldpool/internal/store/memstore"
)

var (
	admin = shielded.Address{0xad}
	alice = shielded.Address{0xa1}
	bob   = shielded.Address{0xb0}
)

type harness struct {
	svc     *pool.Service
	store   *memstore.Store
	events  *events.Recorder
	metrics *metrics.Metrics
	pool    *pool.Pool
}

func newHarness(t *testing.T, req pool.InitRequest) *harness {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	rec := &events.Recorder{}
	m := metrics.New(prometheus.NewRegistry())
	clock := time.Unix(1_700_000_000, 0)
	svc := pool.NewService(st, proof.DigestSet(proof.DefaultMinLen),
		pool.WithPublisher(rec),
		pool.WithMetrics(m),
		pool.WithClock(func() time.Time { return clock }),
	)
	if req.Admin.IsZero() {
		req.Admin = admin
	}
	p, err := svc.Initialize(ctx, req)
	require.NoError(t, err)
	require.NoError(t, st.Fund(ctx, alice, 2_000_000))
	require.NoError(t, st.Fund(ctx, bob, 2_000_000))
	return &harness{svc: svc, store: st, events: rec, metrics: m, pool: p}
}

func (h *harness) commitment(t *testing.T, owner shielded.Address) shielded.Digest {
	t.Helper()
	a, err := h.svc.GetAccount(context.Background(), h.pool.ID, owner, owner)
	require.NoError(t, err)
	return a.Commitment
}

func (h *harness) unshield(t *testing.T, owner shielded.Address, amount uint64, nf shielded.Digest) (*pool.UnshieldReceipt, error) {
	t.Helper()
	cm := h.commitment(t, owner)
	return h.svc.Unshield(context.Background(), pool.UnshieldRequest{
		Pool:      h.pool.ID,
		Owner:     owner,
		Amount:    amount,
		Nullifier: nf,
		Proof:     proof.Seal(proof.TagUnshield, nil, []shielded.Digest{cm, nf}),
	})
}

func (h *harness) requireBalanced(t *testing.T) *pool.AuditReport {
	t.Helper()
	r, err := h.svc.Audit(context.Background(), h.pool.ID)
	require.NoError(t, err)
	require.True(t, r.Balanced, "vault %d, locked %d, fees %d", r.VaultBalance, r.TotalLocked, r.FeesCollected)
	return r
}

func TestShieldUnshieldScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{FeeBPS: 500})

	rcpt, err := h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 1_000_000})
	require.NoError(t, err)
	assert.Equal(t, uint64(950_000), rcpt.Net)
	assert.Equal(t, uint64(50_000), rcpt.Fee)
	assert.Equal(t, uint64(950_000), rcpt.TotalLocked)
	assert.Equal(t, uint64(1), rcpt.Nonce)
	require.NotNil(t, rcpt.Commitment)
	assert.Equal(t, shielded.Commitment(alice, 950_000, 1), *rcpt.Commitment)
	h.requireBalanced(t)

	rcpt, err = h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: bob, Amount: 200_000})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_140_000), rcpt.TotalLocked)

	nf := shielded.Hash([]byte("alice-note-1"))
	out, err := h.unshield(t, alice, 950_000, nf)
	require.NoError(t, err)
	assert.Equal(t, uint64(902_500), out.Net)
	assert.Equal(t, uint64(47_500), out.Fee)
	assert.Equal(t, uint64(190_000), out.TotalLocked)
	assert.Equal(t, alice, out.Recipient)

	used, err := h.svc.IsNullifierUsed(ctx, h.pool.ID, nf)
	require.NoError(t, err)
	assert.True(t, used)

	_, err = h.unshield(t, alice, 950_000, nf)
	assert.ErrorIs(t, err, poolerr.ErrNullifierAlreadyUsed)

	_, err = h.unshield(t, alice, 1_000_000, shielded.Hash([]byte("alice-note-2")))
	assert.ErrorIs(t, err, poolerr.ErrInsufficientBalance)

	r := h.requireBalanced(t)
	assert.Equal(t, uint64(190_000), r.TotalLocked)
	assert.Equal(t, uint64(107_500), r.FeesCollected)
	assert.Equal(t, uint64(297_500), r.VaultBalance)
	assert.Equal(t, uint64(2), r.TotalAccounts)
	assert.Equal(t, uint64(2), r.Commitments)
	assert.Equal(t, uint64(1), r.Nullifiers)

	acct, err := h.svc.GetAccount(ctx, h.pool.ID, alice, alice)
	require.NoError(t, err)
	v, ok := account.Plain{}.Value(acct.Balance)
	require.True(t, ok)
	assert.Zero(t, v)
	assert.Equal(t, uint64(950_000), acct.TotalDeposits)
	assert.Equal(t, uint64(950_000), acct.TotalWithdrawals)

	assert.Len(t, h.events.OfType(events.TypeShield), 2)
	assert.Len(t, h.events.OfType(events.TypeUnshield), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NullifiersConsumed.WithLabelValues(h.pool.ID.String())))
}

func TestShieldValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{FeeBPS: 500})

	_, err := h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice})
	assert.ErrorIs(t, err, poolerr.ErrInvalidAmount)

	_, err = h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 19})
	require.NoError(t, err, "a fee that rounds to zero is allowed")

	_, err = h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 5_000_000})
	assert.ErrorIs(t, err, poolerr.ErrInsufficientBalance)

	_, err = h.svc.Shield(ctx, pool.ShieldRequest{Pool: shielded.Digest{9}, Owner: alice, Amount: 10})
	assert.ErrorIs(t, err, poolerr.ErrPoolNotFound)

	h.requireBalanced(t)
}

func TestInvalidProofLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{FeeBPS: 500})
	_, err := h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 1_000_000})
	require.NoError(t, err)
	before := h.requireBalanced(t)

	nf := shielded.Hash([]byte("n"))
	cm := h.commitment(t, alice)
	proofs := map[string][]byte{
		"empty":        nil,
		"zeros":        make([]byte, 96),
		"wrong inputs": proof.Seal(proof.TagUnshield, nil, []shielded.Digest{cm, shielded.Hash([]byte("other"))}),
		"wrong op":     proof.Seal(proof.TagTransfer, nil, []shielded.Digest{cm, nf}),
		"short":        {1, 2, 3},
	}
	for name, p := range proofs {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Unshield(ctx, pool.UnshieldRequest{
				Pool: h.pool.ID, Owner: alice, Amount: 100, Nullifier: nf, Proof: p,
			})
			assert.ErrorIs(t, err, poolerr.ErrInvalidProof)
		})
	}

	after := h.requireBalanced(t)
	assert.Equal(t, before, after)
	used, err := h.svc.IsNullifierUsed(ctx, h.pool.ID, nf)
	require.NoError(t, err)
	assert.False(t, used)
	assert.Equal(t, float64(len(proofs)), testutil.ToFloat64(h.metrics.ProofRejections.WithLabelValues(pool.OpUnshield)))
}

func TestUnshieldRecipient(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{FeeBPS: 0})
	_, err := h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 1_000})
	require.NoError(t, err)
	cm := h.commitment(t, alice)

	nf := shielded.Hash([]byte("to-vault"))
	_, err = h.svc.Unshield(ctx, pool.UnshieldRequest{
		Pool: h.pool.ID, Owner: alice, Recipient: h.pool.Vault(), Amount: 100, Nullifier: nf,
		Proof: proof.Seal(proof.TagUnshield, nil, []shielded.Digest{cm, nf}),
	})
	assert.ErrorIs(t, err, poolerr.ErrInvalidRecipient)

	carol := shielded.Address{0xc0}
	nf = shielded.Hash([]byte("to-carol"))
	rcpt, err := h.svc.Unshield(ctx, pool.UnshieldRequest{
		Pool: h.pool.ID, Owner: alice, Recipient: carol, Amount: 400, Nullifier: nf,
		Proof: proof.Seal(proof.TagUnshield, nil, []shielded.Digest{cm, nf}),
	})
	require.NoError(t, err)
	assert.Equal(t, carol, rcpt.Recipient)
	assert.Equal(t, uint64(400), rcpt.Net)

	_, err = h.svc.Unshield(ctx, pool.UnshieldRequest{Pool: h.pool.ID, Owner: bob, Amount: 1, Nullifier: nf})
	assert.ErrorIs(t, err, poolerr.ErrAccountNotFound)
	h.requireBalanced(t)
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{FeeBPS: 500})
	for _, owner := range []shielded.Address{alice, bob} {
		_, err := h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: owner, Amount: 1_000_000})
		require.NoError(t, err)
	}
	acm, bcm := h.commitment(t, alice), h.commitment(t, bob)
	before := h.requireBalanced(t)

	req := pool.PlainTransfer(h.pool.ID, alice, bob, 300_000,
		proof.Seal(proof.TagTransfer, nil, []shielded.Digest{acm, bcm}))
	require.NoError(t, h.svc.Transfer(ctx, req))

	a, err := h.svc.GetAccount(ctx, h.pool.ID, alice, alice)
	require.NoError(t, err)
	b, err := h.svc.GetAccount(ctx, h.pool.ID, bob, bob)
	require.NoError(t, err)
	av, _ := account.Plain{}.Value(a.Balance)
	bv, _ := account.Plain{}.Value(b.Balance)
	assert.Equal(t, uint64(650_000), av)
	assert.Equal(t, uint64(1_250_000), bv)
	assert.Equal(t, before, h.requireBalanced(t), "transfers never touch the vault")

	t.Run("self", func(t *testing.T) {
		err := h.svc.Transfer(ctx, pool.PlainTransfer(h.pool.ID, alice, alice, 1, req.Proof))
		assert.ErrorIs(t, err, poolerr.ErrInvalidRecipient)
	})
	t.Run("unknown recipient", func(t *testing.T) {
		err := h.svc.Transfer(ctx, pool.PlainTransfer(h.pool.ID, alice, shielded.Address{0xee}, 1, req.Proof))
		assert.ErrorIs(t, err, poolerr.ErrAccountNotFound)
	})
	t.Run("zero amount", func(t *testing.T) {
		err := h.svc.Transfer(ctx, pool.PlainTransfer(h.pool.ID, alice, bob, 0, req.Proof))
		assert.ErrorIs(t, err, poolerr.ErrInvalidAmount)
	})
	t.Run("mismatched blobs", func(t *testing.T) {
		r := pool.PlainTransfer(h.pool.ID, alice, bob, 10, req.Proof)
		r.Credit = account.PlainBlob(11)
		assert.ErrorIs(t, h.svc.Transfer(ctx, r), poolerr.ErrInvalidAmount)
	})
	t.Run("overdraw", func(t *testing.T) {
		err := h.svc.Transfer(ctx, pool.PlainTransfer(h.pool.ID, alice, bob, 650_001, req.Proof))
		assert.ErrorIs(t, err, poolerr.ErrInsufficientBalance)
	})
	t.Run("bad proof", func(t *testing.T) {
		bad := proof.Seal(proof.TagTransfer, nil, []shielded.Digest{bcm, acm})
		err := h.svc.Transfer(ctx, pool.PlainTransfer(h.pool.ID, alice, bob, 1, bad))
		assert.ErrorIs(t, err, poolerr.ErrInvalidProof)
	})
	assert.Len(t, h.events.OfType(events.TypeTransfer), 1)
}

func TestVaultHoldsNoAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{FeeBPS: 500})
	vault := h.pool.Vault()

	_, err := h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 1_000_000})
	require.NoError(t, err)
	before := h.requireBalanced(t)

	_, err = h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: vault, Amount: 1_000_000})
	assert.ErrorIs(t, err, poolerr.ErrInvalidOwner)
	_, err = h.svc.OpenAccount(ctx, pool.OpenAccountRequest{Pool: h.pool.ID, Owner: vault, Commitment: shielded.Digest{1}})
	assert.ErrorIs(t, err, poolerr.ErrInvalidOwner)

	nf := shielded.Hash([]byte("vault-note"))
	_, err = h.svc.Unshield(ctx, pool.UnshieldRequest{
		Pool: h.pool.ID, Owner: vault, Recipient: bob, Amount: 950_000, Nullifier: nf,
		Proof: proof.Seal(proof.TagUnshield, nil, []shielded.Digest{{}, nf}),
	})
	assert.ErrorIs(t, err, poolerr.ErrInvalidOwner)

	acm := h.commitment(t, alice)
	for _, r := range []pool.TransferRequest{
		pool.PlainTransfer(h.pool.ID, alice, vault, 1, proof.Seal(proof.TagTransfer, nil, []shielded.Digest{acm, {}})),
		pool.PlainTransfer(h.pool.ID, vault, alice, 1, proof.Seal(proof.TagTransfer, nil, []shielded.Digest{{}, acm})),
	} {
		assert.ErrorIs(t, h.svc.Transfer(ctx, r), poolerr.ErrInvalidRecipient)
	}

	_, err = h.svc.GetAccount(ctx, h.pool.ID, vault, vault)
	assert.ErrorIs(t, err, poolerr.ErrAccountNotFound)
	assert.Equal(t, before, h.requireBalanced(t))
	assert.Equal(t, uint64(950_000), before.TotalLocked)
}

func TestOpenAfterShield(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{FeeBPS: 500})
	sk, err := shielded.NewSpendKey()
	require.NoError(t, err)

	_, err = h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 1_000_000})
	require.NoError(t, err)
	assert.Equal(t, shielded.Commitment(alice, 950_000, 1), h.commitment(t, alice))

	acct, err := h.svc.OpenAccount(ctx, pool.OpenAccountRequest{Pool: h.pool.ID, Owner: alice, Commitment: sk.Commitment()})
	require.NoError(t, err)
	assert.True(t, acct.Opened)
	assert.Equal(t, sk.Commitment(), h.commitment(t, alice))
	v, _ := account.Plain{}.Value(acct.Balance)
	assert.Equal(t, uint64(950_000), v, "opening keeps the shielded balance")

	_, err = h.svc.OpenAccount(ctx, pool.OpenAccountRequest{Pool: h.pool.ID, Owner: alice, Commitment: shielded.Digest{9}})
	assert.ErrorIs(t, err, poolerr.ErrAccountExists)

	// Later shields leave the installed commitment alone.
	_, err = h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 100_000})
	require.NoError(t, err)
	assert.Equal(t, sk.Commitment(), h.commitment(t, alice))

	nf := sk.Nullifier(1)
	_, err = h.unshield(t, alice, 950_000, nf)
	require.NoError(t, err)

	p, err := h.svc.GetPool(ctx, h.pool.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.TotalAccounts)
	assert.Len(t, h.events.OfType(events.TypeAccountOpened), 1)
	h.requireBalanced(t)
}

func TestOpenAfterShieldElGamal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{FeeBPS: 500, BalanceMode: account.ModeElGamal})
	kp, err := shielded.GenerateKeyPair()
	require.NoError(t, err)

	_, err = h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 1_000_000})
	require.NoError(t, err)
	acct, err := h.svc.OpenAccount(ctx, pool.OpenAccountRequest{
		Pool: h.pool.ID, Owner: alice, Commitment: shielded.Digest{1}, EncryptionKey: kp.EncryptionKey(),
	})
	require.NoError(t, err)
	assert.True(t, account.Opens(kp, acct.Balance, 950_000))
}

func TestMalformedElGamalTransfer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{BalanceMode: account.ModeElGamal})
	for _, owner := range []shielded.Address{alice, bob} {
		_, err := h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: owner, Amount: 1_000})
		require.NoError(t, err)
	}
	acm, bcm := h.commitment(t, alice), h.commitment(t, bob)

	var bad account.Blob
	bad[1] = 0x01
	err := h.svc.Transfer(ctx, pool.TransferRequest{
		Pool: h.pool.ID, Sender: alice, Recipient: bob, Debit: bad, Credit: bad,
		Proof: proof.Seal(proof.TagTransfer, nil, []shielded.Digest{acm, bcm}),
	})
	require.ErrorIs(t, err, poolerr.ErrInvalidAmount)
	assert.Equal(t, poolerr.Validation, poolerr.CodeOf(err).Category())
}

func TestAdmin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{FeeBPS: 500})

	_, err := h.svc.SetFee(ctx, h.pool.ID, alice, 100)
	assert.ErrorIs(t, err, poolerr.ErrUnauthorized)
	_, err = h.svc.SetFee(ctx, h.pool.ID, admin, 10_001)
	assert.ErrorIs(t, err, poolerr.ErrFeeTooHigh)
	p, err := h.svc.SetFee(ctx, h.pool.ID, admin, 10_000)
	require.NoError(t, err)
	assert.Equal(t, uint16(10_000), p.Fee.BPS)

	_, err = h.svc.Pause(ctx, h.pool.ID, bob)
	assert.ErrorIs(t, err, poolerr.ErrUnauthorized)
	p, err = h.svc.Pause(ctx, h.pool.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, pool.Paused, p.State())
	_, err = h.svc.Pause(ctx, h.pool.ID, admin)
	require.NoError(t, err, "pause is idempotent")

	_, err = h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 10})
	assert.ErrorIs(t, err, poolerr.ErrProtocolPaused)
	_, err = h.svc.Unshield(ctx, pool.UnshieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 10})
	assert.ErrorIs(t, err, poolerr.ErrProtocolPaused)
	err = h.svc.Transfer(ctx, pool.PlainTransfer(h.pool.ID, alice, bob, 10, nil))
	assert.ErrorIs(t, err, poolerr.ErrProtocolPaused)

	p, err = h.svc.Unpause(ctx, h.pool.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, pool.Active, p.State())

	// A 100% fee leaves nothing to lock.
	rcpt, err := h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 10})
	require.NoError(t, err)
	assert.Zero(t, rcpt.Net)
	assert.Equal(t, uint64(10), rcpt.Fee)
	h.requireBalanced(t)

	assert.Len(t, h.events.OfType(events.TypeFeeUpdated), 1)
	assert.Len(t, h.events.OfType(events.TypePaused), 2)
	assert.Len(t, h.events.OfType(events.TypeUnpaused), 1)
}

func TestInitializeRejectsHighFee(t *testing.T) {
	svc := pool.NewService(memstore.New(), proof.Set{})
	_, err := svc.Initialize(context.Background(), pool.InitRequest{Admin: admin, FeeBPS: 10_001})
	assert.ErrorIs(t, err, poolerr.ErrFeeTooHigh)
}

func TestNilVerifierRejects(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := pool.NewService(st, proof.Set{})
	p, err := svc.Initialize(ctx, pool.InitRequest{Admin: admin})
	require.NoError(t, err)
	require.NoError(t, st.Fund(ctx, alice, 100))
	_, err = svc.Shield(ctx, pool.ShieldRequest{Pool: p.ID, Owner: alice, Amount: 100})
	require.NoError(t, err)

	nf := shielded.Hash([]byte("x"))
	_, err = svc.Unshield(ctx, pool.UnshieldRequest{Pool: p.ID, Owner: alice, Amount: 1, Nullifier: nf, Proof: make([]byte, 128)})
	assert.ErrorIs(t, err, poolerr.ErrInvalidProof)
}

func TestCommitmentRegistryFull(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{CommitmentCapacity: 1})

	_, err := h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 100})
	require.NoError(t, err)
	before := h.requireBalanced(t)

	_, err = h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: bob, Amount: 100})
	assert.ErrorIs(t, err, poolerr.ErrRegistryFull)
	after := h.requireBalanced(t)
	assert.Equal(t, before, after, "a failed shield moves no value")
}

func TestSkipCommitments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{CommitmentCapacity: 1, SkipCommitments: true})
	for i := 0; i < 3; i++ {
		rcpt, err := h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 100})
		require.NoError(t, err)
		assert.Nil(t, rcpt.Commitment)
	}
	assert.Zero(t, h.requireBalanced(t).Commitments)
}

func TestBoundedNullifiers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{
		NullifierStrategy: registry.StrategyBounded,
		NullifierCapacity: 1,
	})
	_, err := h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 1_000})
	require.NoError(t, err)

	nf1 := shielded.Hash([]byte("one"))
	_, err = h.unshield(t, alice, 10, nf1)
	require.NoError(t, err)
	_, err = h.unshield(t, alice, 10, nf1)
	assert.ErrorIs(t, err, poolerr.ErrNullifierAlreadyUsed)
	_, err = h.unshield(t, alice, 10, shielded.Hash([]byte("two")))
	assert.ErrorIs(t, err, poolerr.ErrRegistryFull)

	used, err := h.svc.IsNullifierUsed(ctx, h.pool.ID, nf1)
	require.NoError(t, err)
	assert.True(t, used)
	r := h.requireBalanced(t)
	assert.Equal(t, uint64(1), r.Nullifiers)
	assert.Equal(t, uint64(990), r.TotalLocked)
}

func TestElGamalAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{FeeBPS: 500, BalanceMode: account.ModeElGamal})

	kp, err := shielded.GenerateKeyPair()
	require.NoError(t, err)
	sk, err := shielded.NewSpendKey()
	require.NoError(t, err)

	_, err = h.svc.OpenAccount(ctx, pool.OpenAccountRequest{
		Pool: h.pool.ID, Owner: alice, Commitment: sk.Commitment(), EncryptionKey: kp.EncryptionKey(),
	})
	require.NoError(t, err)
	_, err = h.svc.OpenAccount(ctx, pool.OpenAccountRequest{
		Pool: h.pool.ID, Owner: alice, Commitment: sk.Commitment(), EncryptionKey: kp.EncryptionKey(),
	})
	assert.ErrorIs(t, err, poolerr.ErrAccountExists)

	_, err = h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 1_000_000})
	require.NoError(t, err)

	acct, err := h.svc.GetAccount(ctx, h.pool.ID, alice, alice)
	require.NoError(t, err)
	assert.Equal(t, sk.Commitment(), acct.Commitment, "an opened account keeps its spend commitment")
	assert.True(t, account.Opens(kp, acct.Balance, 950_000))
	_, ok := account.ElGamal{}.Value(acct.Balance)
	assert.False(t, ok)

	nf := sk.Nullifier(1)
	_, err = h.svc.Unshield(ctx, pool.UnshieldRequest{
		Pool: h.pool.ID, Owner: alice, Amount: 200_000, Nullifier: nf,
		Proof: proof.Seal(proof.TagUnshield, nil, []shielded.Digest{acct.Commitment, nf}),
	})
	require.NoError(t, err)
	acct, err = h.svc.GetAccount(ctx, h.pool.ID, alice, alice)
	require.NoError(t, err)
	assert.True(t, account.Opens(kp, acct.Balance, 750_000))
	h.requireBalanced(t)
}

func TestGetAccountOwnerOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{})
	_, err := h.svc.Shield(ctx, pool.ShieldRequest{Pool: h.pool.ID, Owner: alice, Amount: 10})
	require.NoError(t, err)

	_, err = h.svc.GetAccount(ctx, h.pool.ID, alice, bob)
	assert.ErrorIs(t, err, poolerr.ErrInvalidOwner)
	_, err = h.svc.GetAccount(ctx, h.pool.ID, bob, bob)
	assert.ErrorIs(t, err, poolerr.ErrAccountNotFound)
}

func TestOpenAccountValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, pool.InitRequest{})
	_, err := h.svc.OpenAccount(ctx, pool.OpenAccountRequest{Pool: h.pool.ID, Owner: alice})
	assert.ErrorIs(t, err, poolerr.ErrInvalidCommitment)

	_, err = h.svc.OpenAccount(ctx, pool.OpenAccountRequest{
		Pool: h.pool.ID, Owner: alice, Commitment: shielded.Digest{1},
	})
	require.NoError(t, err)
	p, err := h.svc.GetPool(ctx, h.pool.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.TotalAccounts)
}
