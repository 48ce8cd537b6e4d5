// kv.go - Pool transaction over an ordered key/value transaction.
//
// Layout (all values cbor-encoded unless noted):
//   pool/<id>             Pool
//   acct/<id>/<owner>     PrivacyAccount
//   cmreg/<id>            CommitmentRegistry
//   nfreg/<id>            NullifierRegistry (bounded strategy)
//   nf/<id>/<nullifier>   NullifierRecord (keyed strategy)
//   bal/<addr>            public balance, 8 bytes big-endian

package kv

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"shieldpool/internal/account"
	"shieldpool/internal/pool"
	"shieldpool/internal/poolerr"
	"shieldpool/internal/registry"
	"shieldpool/internal/shielded"
)

// Txn is the minimal key/value transaction a backend supplies.
type Txn interface {
	// Get returns ok == false when key is absent.
	Get(key []byte) (val []byte, ok bool, err error)
	Set(key, val []byte) error
	// CountPrefix counts keys starting with prefix.
	CountPrefix(prefix []byte) (uint64, error)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// Marshal encodes v canonically.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

func PoolKey(id shielded.Digest) []byte { return key("pool/", id[:]) }

func AccountKey(id shielded.Digest, owner shielded.Address) []byte {
	return key("acct/", id[:], []byte("/"), owner[:])
}

func CommitmentsKey(id shielded.Digest) []byte { return key("cmreg/", id[:]) }

func NullifiersKey(id shielded.Digest) []byte { return key("nfreg/", id[:]) }

func NullifierPrefix(id shielded.Digest) []byte { return key("nf/", id[:], []byte("/")) }

func NullifierKey(id, n shielded.Digest) []byte { return key("nf/", id[:], []byte("/"), n[:]) }

func BalanceKey(addr shielded.Address) []byte { return key("bal/", addr[:]) }

func key(prefix string, parts ...[]byte) []byte {
	out := []byte(prefix)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Tx implements pool.Tx on a Txn.
type Tx struct {
	txn Txn
}

var _ pool.Tx = (*Tx)(nil)

func New(txn Txn) *Tx { return &Tx{txn: txn} }

func (t *Tx) get(k []byte, v any) (bool, error) {
	raw, ok, err := t.txn.Get(k)
	if err != nil || !ok {
		return ok, err
	}
	if err := Unmarshal(raw, v); err != nil {
		return false, poolerr.Wrap(poolerr.CodeInternal, err, fmt.Sprintf("decode %x", k))
	}
	return true, nil
}

func (t *Tx) put(k []byte, v any) error {
	raw, err := Marshal(v)
	if err != nil {
		return poolerr.Wrap(poolerr.CodeInternal, err, "encode")
	}
	return t.txn.Set(k, raw)
}

func (t *Tx) LoadPool(_ context.Context, id shielded.Digest) (*pool.Pool, error) {
	var p pool.Pool
	ok, err := t.get(PoolKey(id), &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, poolerr.New(poolerr.CodePoolNotFound, "pool %s", id)
	}
	return &p, nil
}

func (t *Tx) CreatePool(_ context.Context, p *pool.Pool) error {
	_, ok, err := t.txn.Get(PoolKey(p.ID))
	if err != nil {
		return err
	}
	if ok {
		return poolerr.New(poolerr.CodeConflict, "pool %s already exists", p.ID)
	}
	return t.put(PoolKey(p.ID), p)
}

func (t *Tx) SavePool(_ context.Context, p *pool.Pool) error {
	return t.put(PoolKey(p.ID), p)
}

func (t *Tx) LoadAccount(_ context.Context, id shielded.Digest, owner shielded.Address) (*account.PrivacyAccount, error) {
	var a account.PrivacyAccount
	ok, err := t.get(AccountKey(id, owner), &a)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, poolerr.New(poolerr.CodeAccountNotFound, "account %s", owner)
	}
	return &a, nil
}

func (t *Tx) SaveAccount(_ context.Context, a *account.PrivacyAccount) error {
	return t.put(AccountKey(a.Pool, a.Owner), a)
}

func (t *Tx) LoadCommitments(_ context.Context, id shielded.Digest) (*registry.CommitmentRegistry, error) {
	var r registry.CommitmentRegistry
	ok, err := t.get(CommitmentsKey(id), &r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, poolerr.New(poolerr.CodeInvalidRegistry, "no commitment registry for pool %s", id)
	}
	return &r, nil
}

func (t *Tx) SaveCommitments(_ context.Context, r *registry.CommitmentRegistry) error {
	return t.put(CommitmentsKey(r.Pool), r)
}

func (t *Tx) LoadNullifiers(_ context.Context, id shielded.Digest) (*registry.NullifierRegistry, error) {
	var r registry.NullifierRegistry
	ok, err := t.get(NullifiersKey(id), &r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, poolerr.New(poolerr.CodeInvalidRegistry, "no nullifier registry for pool %s", id)
	}
	return &r, nil
}

func (t *Tx) SaveNullifiers(_ context.Context, r *registry.NullifierRegistry) error {
	return t.put(NullifiersKey(r.Pool), r)
}

func (t *Tx) InsertNullifier(_ context.Context, rec registry.NullifierRecord) error {
	k := NullifierKey(rec.Pool, rec.Nullifier)
	_, ok, err := t.txn.Get(k)
	if err != nil {
		return err
	}
	if ok {
		return poolerr.ErrNullifierAlreadyUsed
	}
	return t.put(k, rec)
}

func (t *Tx) HasNullifier(_ context.Context, id, n shielded.Digest) (bool, error) {
	_, ok, err := t.txn.Get(NullifierKey(id, n))
	return ok, err
}

func (t *Tx) CountNullifiers(_ context.Context, id shielded.Digest) (uint64, error) {
	return t.txn.CountPrefix(NullifierPrefix(id))
}

func (t *Tx) BalanceOf(_ context.Context, addr shielded.Address) (uint64, error) {
	raw, ok, err := t.txn.Get(BalanceKey(addr))
	if err != nil || !ok {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, poolerr.New(poolerr.CodeInternal, "corrupt balance for %s", addr)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (t *Tx) setBalance(addr shielded.Address, v uint64) error {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], v)
	return t.txn.Set(BalanceKey(addr), raw[:])
}

func (t *Tx) Transfer(ctx context.Context, from, to shielded.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if from == to {
		return poolerr.New(poolerr.CodeInvalidRecipient, "transfer from %s to itself", from)
	}
	fb, err := t.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if fb < amount {
		return poolerr.New(poolerr.CodeInsufficientBalance, "%s holds %d, needs %d", from, fb, amount)
	}
	tb, err := t.BalanceOf(ctx, to)
	if err != nil {
		return err
	}
	if tb+amount < tb {
		return poolerr.ErrArithmeticOverflow
	}
	if err := t.setBalance(from, fb-amount); err != nil {
		return err
	}
	return t.setBalance(to, tb+amount)
}

// Credit adds amount to addr without a source. Used by development funders.
func (t *Tx) Credit(ctx context.Context, addr shielded.Address, amount uint64) error {
	b, err := t.BalanceOf(ctx, addr)
	if err != nil {
		return err
	}
	if b+amount < b {
		return poolerr.ErrArithmeticOverflow
	}
	return t.setBalance(addr, b+amount)
}
