// pgstore.go - PostgreSQL pool.Store.
//
// Each RunInTx is one READ COMMITTED transaction. LoadPool takes the pool row
// with FOR UPDATE, so operations on one pool are serialized by the database.
// Keyed nullifiers rely on the (pool_id, nullifier) primary key: the insert
// uses ON CONFLICT DO NOTHING and zero affected rows means a replay.

package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math/big"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"shieldpool/internal/account"
	"shieldpool/internal/pool"
	"shieldpool/internal/poolerr"
	"shieldpool/internal/registry"
	"shieldpool/internal/shielded"
	"shieldpool/internal/store/kv"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

var (
	_ pool.Store  = (*Store)(nil)
	_ pool.Funder = (*Store)(nil)
)

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx pool.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return poolerr.Wrap(poolerr.CodeInternal, err, "begin")
	}
	defer sqlTx.Rollback()

	if err := fn(&tx{tx: sqlTx}); err != nil {
		return mapErr(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapErr(err)
	}
	return nil
}

// Fund credits amount to addr.
func (s *Store) Fund(ctx context.Context, addr shielded.Address, amount uint64) error {
	return s.RunInTx(ctx, func(t pool.Tx) error {
		return t.(*tx).credit(ctx, addr, amount)
	})
}

// mapErr turns driver errors into pool error codes. Errors that already
// carry a code pass through.
func mapErr(err error) error {
	var perr *poolerr.Error
	if errors.As(err, &perr) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return poolerr.Wrap(poolerr.CodeConflict, err, "concurrent update")
		case "23505": // unique_violation
			return poolerr.Wrap(poolerr.CodeConflict, err, "duplicate key")
		case "23514": // check_violation
			return poolerr.Wrap(poolerr.CodeInsufficientBalance, err, "balance check")
		}
	}
	return poolerr.Wrap(poolerr.CodeInternal, err, "postgres")
}

type tx struct {
	tx *sql.Tx
}

func numeric(v uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0).String()
}

func toUint64(d decimal.Decimal) (uint64, error) {
	b := d.BigInt()
	if b.Sign() < 0 || !b.IsUint64() {
		return 0, poolerr.New(poolerr.CodeArithmeticOverflow, "numeric %s out of range", d)
	}
	return b.Uint64(), nil
}

func (t *tx) LoadPool(ctx context.Context, id shielded.Digest) (*pool.Pool, error) {
	var doc []byte
	err := t.tx.QueryRowContext(ctx, `SELECT doc FROM pools WHERE id = $1 FOR UPDATE`, id[:]).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, poolerr.New(poolerr.CodePoolNotFound, "pool %s", id)
	}
	if err != nil {
		return nil, err
	}
	var p pool.Pool
	if err := kv.Unmarshal(doc, &p); err != nil {
		return nil, poolerr.Wrap(poolerr.CodeInternal, err, "decode pool")
	}
	return &p, nil
}

func (t *tx) CreatePool(ctx context.Context, p *pool.Pool) error {
	doc, err := kv.Marshal(p)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO pools (id, admin, paused, total_locked, fees_collected, doc)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		p.ID[:], p.Admin[:], p.Paused, numeric(p.TotalLocked), numeric(p.FeesCollected), doc)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return poolerr.New(poolerr.CodeConflict, "pool %s already exists", p.ID)
	}
	return nil
}

func (t *tx) SavePool(ctx context.Context, p *pool.Pool) error {
	doc, err := kv.Marshal(p)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		UPDATE pools
		SET paused = $2, total_locked = $3, fees_collected = $4, doc = $5, updated_at = NOW()
		WHERE id = $1`,
		p.ID[:], p.Paused, numeric(p.TotalLocked), numeric(p.FeesCollected), doc)
	return err
}

func (t *tx) LoadAccount(ctx context.Context, id shielded.Digest, owner shielded.Address) (*account.PrivacyAccount, error) {
	var doc []byte
	err := t.tx.QueryRowContext(ctx,
		`SELECT doc FROM accounts WHERE pool_id = $1 AND owner = $2 FOR UPDATE`, id[:], owner[:]).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, poolerr.New(poolerr.CodeAccountNotFound, "account %s", owner)
	}
	if err != nil {
		return nil, err
	}
	var a account.PrivacyAccount
	if err := kv.Unmarshal(doc, &a); err != nil {
		return nil, poolerr.Wrap(poolerr.CodeInternal, err, "decode account")
	}
	return &a, nil
}

func (t *tx) SaveAccount(ctx context.Context, a *account.PrivacyAccount) error {
	doc, err := kv.Marshal(a)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO accounts (pool_id, owner, doc) VALUES ($1, $2, $3)
		ON CONFLICT (pool_id, owner) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		a.Pool[:], a.Owner[:], doc)
	return err
}

func digestsToArray(ds []shielded.Digest) pq.ByteaArray {
	arr := make(pq.ByteaArray, len(ds))
	for i := range ds {
		arr[i] = append([]byte(nil), ds[i][:]...)
	}
	return arr
}

func arrayToDigests(arr pq.ByteaArray) ([]shielded.Digest, error) {
	out := make([]shielded.Digest, len(arr))
	for i, b := range arr {
		if len(b) != len(out[i]) {
			return nil, poolerr.New(poolerr.CodeInternal, "registry entry %d has %d bytes", i, len(b))
		}
		copy(out[i][:], b)
	}
	return out, nil
}

func (t *tx) loadRegistry(ctx context.Context, table string, id shielded.Digest) (uint64, []shielded.Digest, error) {
	var (
		capacity decimal.Decimal
		entries  pq.ByteaArray
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT capacity, entries FROM `+table+` WHERE pool_id = $1 FOR UPDATE`, id[:]).Scan(&capacity, &entries)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, poolerr.New(poolerr.CodeInvalidRegistry, "no %s row for pool %s", table, id)
	}
	if err != nil {
		return 0, nil, err
	}
	c, err := toUint64(capacity)
	if err != nil {
		return 0, nil, err
	}
	ds, err := arrayToDigests(entries)
	return c, ds, err
}

func (t *tx) saveRegistry(ctx context.Context, table string, id shielded.Digest, capacity uint64, entries []shielded.Digest) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO `+table+` (pool_id, capacity, entries) VALUES ($1, $2, $3)
		ON CONFLICT (pool_id) DO UPDATE SET capacity = EXCLUDED.capacity, entries = EXCLUDED.entries`,
		id[:], numeric(capacity), digestsToArray(entries))
	return err
}

func (t *tx) LoadCommitments(ctx context.Context, id shielded.Digest) (*registry.CommitmentRegistry, error) {
	c, entries, err := t.loadRegistry(ctx, "commitment_registries", id)
	if err != nil {
		return nil, err
	}
	return &registry.CommitmentRegistry{Pool: id, Capacity: c, Count: uint64(len(entries)), Entries: entries}, nil
}

func (t *tx) SaveCommitments(ctx context.Context, r *registry.CommitmentRegistry) error {
	return t.saveRegistry(ctx, "commitment_registries", r.Pool, r.Capacity, r.Entries)
}

func (t *tx) LoadNullifiers(ctx context.Context, id shielded.Digest) (*registry.NullifierRegistry, error) {
	c, entries, err := t.loadRegistry(ctx, "nullifier_registries", id)
	if err != nil {
		return nil, err
	}
	return &registry.NullifierRegistry{Pool: id, Capacity: c, Entries: entries}, nil
}

func (t *tx) SaveNullifiers(ctx context.Context, r *registry.NullifierRegistry) error {
	return t.saveRegistry(ctx, "nullifier_registries", r.Pool, r.Capacity, r.Entries)
}

func (t *tx) InsertNullifier(ctx context.Context, rec registry.NullifierRecord) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO nullifiers (pool_id, nullifier, consumed_at) VALUES ($1, $2, $3)
		ON CONFLICT (pool_id, nullifier) DO NOTHING`,
		rec.Pool[:], rec.Nullifier[:], rec.ConsumedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return poolerr.ErrNullifierAlreadyUsed
	}
	return nil
}

func (t *tx) HasNullifier(ctx context.Context, id, n shielded.Digest) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM nullifiers WHERE pool_id = $1 AND nullifier = $2)`, id[:], n[:]).Scan(&exists)
	return exists, err
}

func (t *tx) CountNullifiers(ctx context.Context, id shielded.Digest) (uint64, error) {
	var n int64
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM nullifiers WHERE pool_id = $1`, id[:]).Scan(&n); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (t *tx) BalanceOf(ctx context.Context, addr shielded.Address) (uint64, error) {
	var amount decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE address = $1`, addr[:]).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return toUint64(amount)
}

func (t *tx) lockBalance(ctx context.Context, addr shielded.Address) (uint64, error) {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO balances (address, amount) VALUES ($1, 0) ON CONFLICT (address) DO NOTHING`, addr[:]); err != nil {
		return 0, err
	}
	var amount decimal.Decimal
	if err := t.tx.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE address = $1 FOR UPDATE`, addr[:]).Scan(&amount); err != nil {
		return 0, err
	}
	return toUint64(amount)
}

func (t *tx) setBalance(ctx context.Context, addr shielded.Address, v uint64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE balances SET amount = $2 WHERE address = $1`, addr[:], numeric(v))
	return err
}

func (t *tx) Transfer(ctx context.Context, from, to shielded.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if from == to {
		return poolerr.New(poolerr.CodeInvalidRecipient, "transfer from %s to itself", from)
	}
	// Lock in a fixed order so concurrent opposite transfers cannot deadlock.
	first, second := from, to
	if string(to[:]) < string(from[:]) {
		first, second = to, from
	}
	bal := make(map[shielded.Address]uint64, 2)
	for _, a := range []shielded.Address{first, second} {
		b, err := t.lockBalance(ctx, a)
		if err != nil {
			return err
		}
		bal[a] = b
	}
	if bal[from] < amount {
		return poolerr.New(poolerr.CodeInsufficientBalance, "%s holds %d, needs %d", from, bal[from], amount)
	}
	if bal[to]+amount < bal[to] {
		return poolerr.ErrArithmeticOverflow
	}
	if err := t.setBalance(ctx, from, bal[from]-amount); err != nil {
		return err
	}
	return t.setBalance(ctx, to, bal[to]+amount)
}

func (t *tx) credit(ctx context.Context, addr shielded.Address, amount uint64) error {
	b, err := t.lockBalance(ctx, addr)
	if err != nil {
		return err
	}
	if b+amount < b {
		return poolerr.ErrArithmeticOverflow
	}
	return t.setBalance(ctx, addr, b+amount)
}
