package pool

import (
	"context"

	"shieldpool/internal/account"
	"shieldpool/internal/fee"
	"shieldpool/internal/poolerr"
	"shieldpool/internal/registry"
	"shieldpool/internal/shielded"
)

// State is the lifecycle state of a pool.
type State string

const (
	Active State = "active"
	Paused State = "paused"
)

// Pool is the persisted aggregate of one shielded pool.
type Pool struct {
	ID                 shielded.Digest   `json:"id"`
	Admin              shielded.Address  `json:"admin"`
	Fee                fee.Config        `json:"fee"`
	Paused             bool              `json:"paused"`
	TotalLocked        uint64            `json:"total_locked"`
	TotalAccounts      uint64            `json:"total_accounts"`
	FeesCollected      uint64            `json:"fees_collected"`
	CommitmentCapacity uint64            `json:"commitment_capacity"`
	RecordCommitments  bool              `json:"record_commitments"`
	NullifierStrategy  registry.Strategy `json:"nullifier_strategy"`
	NullifierCapacity  uint64            `json:"nullifier_capacity"`
	BalanceMode        account.Mode      `json:"balance_mode"`
	CreatedAt          int64             `json:"created_at"`
}

// State reports whether the pool accepts user operations.
func (p *Pool) State() State {
	if p.Paused {
		return Paused
	}
	return Active
}

// Vault is the custody address backing TotalLocked.
func (p *Pool) Vault() shielded.Address {
	return shielded.DeriveAddress(p.ID, shielded.RoleVault)
}

func (p *Pool) requireActive() error {
	if p.Paused {
		return poolerr.ErrProtocolPaused
	}
	return nil
}

func (p *Pool) requireAdmin(caller shielded.Address) error {
	if caller != p.Admin {
		return poolerr.ErrUnauthorized
	}
	return nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	s := a + b
	if s < a {
		return 0, poolerr.ErrArithmeticOverflow
	}
	return s, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, poolerr.New(poolerr.CodeInsufficientBalance, "cannot take %d from %d", b, a)
	}
	return a - b, nil
}

// Tx is the view of the Ledger Environment inside one atomic operation.
// Implementations must make InsertNullifier a single insert-if-absent step.
type Tx interface {
	LoadPool(ctx context.Context, id shielded.Digest) (*Pool, error)
	CreatePool(ctx context.Context, p *Pool) error
	SavePool(ctx context.Context, p *Pool) error

	LoadAccount(ctx context.Context, pool shielded.Digest, owner shielded.Address) (*account.PrivacyAccount, error)
	SaveAccount(ctx context.Context, a *account.PrivacyAccount) error

	LoadCommitments(ctx context.Context, pool shielded.Digest) (*registry.CommitmentRegistry, error)
	SaveCommitments(ctx context.Context, r *registry.CommitmentRegistry) error

	LoadNullifiers(ctx context.Context, pool shielded.Digest) (*registry.NullifierRegistry, error)
	SaveNullifiers(ctx context.Context, r *registry.NullifierRegistry) error
	// InsertNullifier fails with NullifierAlreadyUsed if the record exists.
	InsertNullifier(ctx context.Context, rec registry.NullifierRecord) error
	HasNullifier(ctx context.Context, pool, nullifier shielded.Digest) (bool, error)
	CountNullifiers(ctx context.Context, pool shielded.Digest) (uint64, error)

	// Transfer moves public value; it fails with InsufficientBalance.
	Transfer(ctx context.Context, from, to shielded.Address, amount uint64) error
	BalanceOf(ctx context.Context, addr shielded.Address) (uint64, error)
}

// Store runs fn atomically: every write fn makes commits, or none does.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Funder credits public value out of thin air. Development stores only.
type Funder interface {
	Fund(ctx context.Context, addr shielded.Address, amount uint64) error
}
