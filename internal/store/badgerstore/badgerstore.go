// badgerstore.go - Durable pool.Store on BadgerDB optimistic transactions.
//
// Every RunInTx is one read-write badger transaction. Two transactions that
// read and write the same key (the same nullifier record, the same pool)
// conflict at commit; the loser is retried from scratch, so a replayed
// nullifier surfaces as NullifierAlreadyUsed rather than a conflict.

package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"

	"shieldpool/internal/pool"
	"shieldpool/internal/poolerr"
	"shieldpool/internal/shielded"
	"shieldpool/internal/store/kv"
)

// DefaultRetries is how often a conflicting transaction is re-run.
const DefaultRetries = 3

type Options struct {
	// Dir is the data directory; empty opens an in-memory database.
	Dir        string
	SyncWrites bool
	Retries    int
	Logger     zerolog.Logger
}

type Store struct {
	db      *badgerdb.DB
	retries int
	log     zerolog.Logger
}

var (
	_ pool.Store  = (*Store)(nil)
	_ pool.Funder = (*Store)(nil)
)

// Open opens (or creates) the database described by opts.
func Open(opts Options) (*Store, error) {
	bo := badgerdb.DefaultOptions(opts.Dir)
	if opts.Dir == "" {
		bo = bo.WithInMemory(true)
	} else if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	bo.SyncWrites = opts.SyncWrites
	bo.Logger = badgerLogger{opts.Logger.With().Str("component", "badger").Logger()}
	bo.BlockCacheSize = 64 << 20
	bo.IndexCacheSize = 32 << 20
	bo.NumMemtables = 2

	db, err := badgerdb.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	return &Store{db: db, retries: retries, log: opts.Logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database accepts transactions.
func (s *Store) Ping() error {
	if s.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx pool.Tx) error) error {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = s.runOnce(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			break
		}
		s.log.Debug().Int("attempt", attempt+1).Msg("transaction conflict, retrying")
	}
	if errors.Is(err, badgerdb.ErrConflict) {
		return poolerr.Wrap(poolerr.CodeConflict, err, "concurrent update")
	}
	return err
}

func (s *Store) runOnce(fn func(tx pool.Tx) error) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := fn(kv.New(&badgerTxn{txn: txn})); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		if errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
		return poolerr.Wrap(poolerr.CodeInternal, err, "commit")
	}
	return nil
}

// Fund credits amount to addr.
func (s *Store) Fund(ctx context.Context, addr shielded.Address, amount uint64) error {
	return s.RunInTx(ctx, func(tx pool.Tx) error {
		return tx.(*kv.Tx).Credit(ctx, addr, amount)
	})
}

type badgerTxn struct {
	txn *badgerdb.Txn
}

func (t *badgerTxn) Get(key []byte) ([]byte, bool, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, poolerr.Wrap(poolerr.CodeInternal, err, "get")
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, poolerr.Wrap(poolerr.CodeInternal, err, "copy value")
	}
	return val, true, nil
}

func (t *badgerTxn) Set(key, val []byte) error {
	if err := t.txn.Set(key, val); err != nil {
		return poolerr.Wrap(poolerr.CodeInternal, err, "set")
	}
	return nil
}

func (t *badgerTxn) CountPrefix(prefix []byte) (uint64, error) {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()
	var n uint64
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n, nil
}

type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}
