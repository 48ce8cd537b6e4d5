// Package storetest holds the behaviour every pool.Store must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/account"
	"shieldpool/internal/fee"
	"shieldpool/internal/pool"
	"shieldpool/internal/poolerr"
	"shieldpool/internal/proof"
	"shieldpool/internal/registry"
	"shieldpool/internal/shielded"
)

// Store is what the suite needs from a backend.
type Store interface {
	pool.Store
	pool.Funder
}

var errAbort = errors.New("abort")

func seedPool(t *testing.T, st Store, id shielded.Digest) *pool.Pool {
	t.Helper()
	p := &pool.Pool{
		ID:                 id,
		Admin:              shielded.Address{1},
		Fee:                fee.Config{BPS: 500},
		CommitmentCapacity: 4,
		NullifierStrategy:  registry.StrategyKeyed,
		BalanceMode:        account.ModePlain,
	}
	err := st.RunInTx(context.Background(), func(tx pool.Tx) error {
		if err := tx.CreatePool(context.Background(), p); err != nil {
			return err
		}
		return tx.SaveCommitments(context.Background(), registry.NewCommitmentRegistry(id, p.CommitmentCapacity))
	})
	require.NoError(t, err)
	return p
}

// Run exercises st. Each subtest uses its own pool id so one store can be
// shared.
func Run(t *testing.T, st Store) {
	ctx := context.Background()

	t.Run("missing records", func(t *testing.T) {
		err := st.RunInTx(ctx, func(tx pool.Tx) error {
			_, err := tx.LoadPool(ctx, shielded.Digest{0xff})
			assert.ErrorIs(t, err, poolerr.ErrPoolNotFound)
			_, err = tx.LoadAccount(ctx, shielded.Digest{0xff}, shielded.Address{2})
			assert.ErrorIs(t, err, poolerr.ErrAccountNotFound)
			bal, err := tx.BalanceOf(ctx, shielded.Address{0xfe})
			assert.NoError(t, err)
			assert.Zero(t, bal)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("round trip", func(t *testing.T) {
		id := shielded.Hash([]byte(t.Name()))
		p := seedPool(t, st, id)
		a := account.New(id, shielded.Address{3}, 42)
		a.Balance = account.PlainBlob(77)
		a.Commitment = shielded.Digest{4}

		require.NoError(t, st.RunInTx(ctx, func(tx pool.Tx) error {
			p.TotalLocked = 99
			if err := tx.SavePool(ctx, p); err != nil {
				return err
			}
			reg, err := tx.LoadCommitments(ctx, id)
			if err != nil {
				return err
			}
			if err := reg.Add(id, shielded.Digest{5}); err != nil {
				return err
			}
			if err := tx.SaveCommitments(ctx, reg); err != nil {
				return err
			}
			return tx.SaveAccount(ctx, a)
		}))

		require.NoError(t, st.RunInTx(ctx, func(tx pool.Tx) error {
			got, err := tx.LoadPool(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, p, got)
			acct, err := tx.LoadAccount(ctx, id, a.Owner)
			require.NoError(t, err)
			assert.Equal(t, a, acct)
			reg, err := tx.LoadCommitments(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), reg.Count)
			assert.True(t, reg.Contains(shielded.Digest{5}))
			return nil
		}))
	})

	t.Run("duplicate pool", func(t *testing.T) {
		id := shielded.Hash([]byte(t.Name()))
		p := seedPool(t, st, id)
		err := st.RunInTx(ctx, func(tx pool.Tx) error { return tx.CreatePool(ctx, p) })
		assert.ErrorIs(t, err, poolerr.ErrConflict)
	})

	t.Run("rollback", func(t *testing.T) {
		id := shielded.Hash([]byte(t.Name()))
		seedPool(t, st, id)
		src, dst := shielded.Address{6}, shielded.Address{7}
		require.NoError(t, st.Fund(ctx, src, 100))

		err := st.RunInTx(ctx, func(tx pool.Tx) error {
			require.NoError(t, tx.Transfer(ctx, src, dst, 60))
			require.NoError(t, tx.InsertNullifier(ctx, registry.NullifierRecord{Pool: id, Nullifier: shielded.Digest{8}}))
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		require.NoError(t, st.RunInTx(ctx, func(tx pool.Tx) error {
			bal, err := tx.BalanceOf(ctx, src)
			require.NoError(t, err)
			assert.Equal(t, uint64(100), bal)
			used, err := tx.HasNullifier(ctx, id, shielded.Digest{8})
			require.NoError(t, err)
			assert.False(t, used)
			return nil
		}))
	})

	t.Run("transfer", func(t *testing.T) {
		src, dst := shielded.Address{9}, shielded.Address{10}
		require.NoError(t, st.Fund(ctx, src, 50))
		err := st.RunInTx(ctx, func(tx pool.Tx) error { return tx.Transfer(ctx, src, dst, 51) })
		assert.ErrorIs(t, err, poolerr.ErrInsufficientBalance)

		// Moving value to the same address must not count as a deposit.
		err = st.RunInTx(ctx, func(tx pool.Tx) error { return tx.Transfer(ctx, src, src, 10) })
		assert.ErrorIs(t, err, poolerr.ErrInvalidRecipient)
		require.NoError(t, st.RunInTx(ctx, func(tx pool.Tx) error { return tx.Transfer(ctx, src, src, 0) }))

		require.NoError(t, st.RunInTx(ctx, func(tx pool.Tx) error { return tx.Transfer(ctx, src, dst, 50) }))
		require.NoError(t, st.RunInTx(ctx, func(tx pool.Tx) error {
			a, _ := tx.BalanceOf(ctx, src)
			b, _ := tx.BalanceOf(ctx, dst)
			assert.Zero(t, a)
			assert.Equal(t, uint64(50), b)
			return nil
		}))
	})

	t.Run("nullifiers", func(t *testing.T) {
		id := shielded.Hash([]byte(t.Name()))
		seedPool(t, st, id)
		rec := registry.NullifierRecord{Pool: id, Nullifier: shielded.Digest{11}, ConsumedAt: 1}
		require.NoError(t, st.RunInTx(ctx, func(tx pool.Tx) error { return tx.InsertNullifier(ctx, rec) }))
		err := st.RunInTx(ctx, func(tx pool.Tx) error { return tx.InsertNullifier(ctx, rec) })
		assert.ErrorIs(t, err, poolerr.ErrNullifierAlreadyUsed)

		rec.Nullifier = shielded.Digest{12}
		require.NoError(t, st.RunInTx(ctx, func(tx pool.Tx) error { return tx.InsertNullifier(ctx, rec) }))
		require.NoError(t, st.RunInTx(ctx, func(tx pool.Tx) error {
			n, err := tx.CountNullifiers(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, uint64(2), n)
			return nil
		}))
	})

	t.Run("bounded registry", func(t *testing.T) {
		id := shielded.Hash([]byte(t.Name()))
		seedPool(t, st, id)
		require.NoError(t, st.RunInTx(ctx, func(tx pool.Tx) error {
			r := registry.NewNullifierRegistry(id, 2)
			if err := r.Register(id, shielded.Digest{13}); err != nil {
				return err
			}
			return tx.SaveNullifiers(ctx, r)
		}))
		require.NoError(t, st.RunInTx(ctx, func(tx pool.Tx) error {
			r, err := tx.LoadNullifiers(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, uint64(2), r.Capacity)
			assert.True(t, r.Contains(shielded.Digest{13}))
			return nil
		}))
	})
}

// RunConcurrentUnshield races n unshields of one nullifier through a
// service on st. Exactly one must succeed.
func RunConcurrentUnshield(t *testing.T, st Store, n int) {
	ctx := context.Background()
	svc := pool.NewService(st, proof.DigestSet(proof.DefaultMinLen))
	owner := shielded.Address{0x42}
	p, err := svc.Initialize(ctx, pool.InitRequest{Admin: shielded.Address{0x41}})
	require.NoError(t, err)
	require.NoError(t, st.Fund(ctx, owner, 1_000))
	_, err = svc.Shield(ctx, pool.ShieldRequest{Pool: p.ID, Owner: owner, Amount: 1_000})
	require.NoError(t, err)
	acct, err := svc.GetAccount(ctx, p.ID, owner, owner)
	require.NoError(t, err)

	nf := shielded.Hash([]byte("race"))
	prf := proof.Seal(proof.TagUnshield, nil, []shielded.Digest{acct.Commitment, nf})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Unshield(ctx, pool.UnshieldRequest{
				Pool: p.ID, Owner: owner, Amount: 10, Nullifier: nf, Proof: prf,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	for _, err := range errs {
		code := poolerr.CodeOf(err)
		assert.Contains(t, []poolerr.Code{poolerr.CodeNullifierAlreadyUsed, poolerr.CodeConflict}, code)
	}
	report, err := svc.Audit(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, report.Balanced)
	assert.Equal(t, uint64(990), report.TotalLocked)
}
