// Package memstore is an in-process pool.Store. Transactions are serialized
// by one mutex and their writes are staged until fn returns nil.
package memstore

import (
	"bytes"
	"context"
	"sync"

	"shieldpool/internal/pool"
	"shieldpool/internal/shielded"
	"shieldpool/internal/store/kv"
)

type Store struct {
	mu   sync.Mutex
	data map[string][]byte
}

var (
	_ pool.Store  = (*Store)(nil)
	_ pool.Funder = (*Store)(nil)
)

func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// RunInTx runs fn with exclusive access. Writes are discarded if fn fails.
func (s *Store) RunInTx(ctx context.Context, fn func(tx pool.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &txn{base: s.data, staged: make(map[string][]byte)}
	if err := fn(kv.New(t)); err != nil {
		return err
	}
	for k, v := range t.staged {
		s.data[k] = v
	}
	return nil
}

// Fund credits amount to addr.
func (s *Store) Fund(ctx context.Context, addr shielded.Address, amount uint64) error {
	return s.RunInTx(ctx, func(tx pool.Tx) error {
		return tx.(*kv.Tx).Credit(ctx, addr, amount)
	})
}

// Len reports the number of committed keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

type txn struct {
	base   map[string][]byte
	staged map[string][]byte
}

func (t *txn) Get(key []byte) ([]byte, bool, error) {
	if v, ok := t.staged[string(key)]; ok {
		return bytes.Clone(v), true, nil
	}
	v, ok := t.base[string(key)]
	return bytes.Clone(v), ok, nil
}

func (t *txn) Set(key, val []byte) error {
	t.staged[string(key)] = bytes.Clone(val)
	return nil
}

func (t *txn) CountPrefix(prefix []byte) (uint64, error) {
	var n uint64
	p := string(prefix)
	for k := range t.base {
		if len(k) >= len(p) && k[:len(p)] == p {
			n++
		}
	}
	for k := range t.staged {
		if _, seen := t.base[k]; seen {
			continue
		}
		if len(k) >= len(p) && k[:len(p)] == p {
			n++
		}
	}
	return n, nil
}
