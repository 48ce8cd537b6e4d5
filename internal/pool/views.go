package pool

import (
	"context"

	"shieldpool/internal/account"
	"shieldpool/internal/poolerr"
	"shieldpool/internal/registry"
	"shieldpool/internal/shielded"
)

// GetPool returns the stored pool.
func (s *Service) GetPool(ctx context.Context, id shielded.Digest) (*Pool, error) {
	var p *Pool
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		var err error
		p, err = tx.LoadPool(ctx, id)
		return err
	})
	return p, err
}

// GetAccount returns owner's account. Only the owner may read it.
func (s *Service) GetAccount(ctx context.Context, id shielded.Digest, owner, caller shielded.Address) (*account.PrivacyAccount, error) {
	if caller != owner {
		return nil, poolerr.ErrInvalidOwner
	}
	var a *account.PrivacyAccount
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		if _, err := tx.LoadPool(ctx, id); err != nil {
			return err
		}
		var err error
		a, err = tx.LoadAccount(ctx, id, owner)
		return err
	})
	return a, err
}

// IsNullifierUsed reports whether n has been consumed in the pool.
func (s *Service) IsNullifierUsed(ctx context.Context, id, n shielded.Digest) (bool, error) {
	var used bool
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		p, err := tx.LoadPool(ctx, id)
		if err != nil {
			return err
		}
		if p.NullifierStrategy == registry.StrategyBounded {
			reg, err := tx.LoadNullifiers(ctx, id)
			if err != nil {
				return err
			}
			used = reg.Contains(n)
			return nil
		}
		used, err = tx.HasNullifier(ctx, id, n)
		return err
	})
	return used, err
}

// AuditReport compares the vault against the pool's books.
type AuditReport struct {
	Pool               shielded.Digest  `json:"pool"`
	Vault              shielded.Address `json:"vault"`
	VaultBalance       uint64           `json:"vault_balance"`
	TotalLocked        uint64           `json:"total_locked"`
	FeesCollected      uint64           `json:"fees_collected"`
	TotalAccounts      uint64           `json:"total_accounts"`
	Balanced           bool             `json:"balanced"`
	Commitments        uint64           `json:"commitments"`
	CommitmentCapacity uint64           `json:"commitment_capacity"`
	Nullifiers         uint64           `json:"nullifiers"`
	Paused             bool             `json:"paused"`
}

// Audit checks that the vault holds exactly TotalLocked + FeesCollected.
func (s *Service) Audit(ctx context.Context, id shielded.Digest) (*AuditReport, error) {
	var r *AuditReport
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		p, err := tx.LoadPool(ctx, id)
		if err != nil {
			return err
		}
		bal, err := tx.BalanceOf(ctx, p.Vault())
		if err != nil {
			return err
		}
		cm, err := tx.LoadCommitments(ctx, id)
		if err != nil {
			return err
		}
		var nf uint64
		if p.NullifierStrategy == registry.StrategyBounded {
			reg, err := tx.LoadNullifiers(ctx, id)
			if err != nil {
				return err
			}
			nf = reg.Count()
		} else if nf, err = tx.CountNullifiers(ctx, id); err != nil {
			return err
		}
		books, overflow := p.TotalLocked+p.FeesCollected, p.TotalLocked+p.FeesCollected < p.TotalLocked
		r = &AuditReport{
			Pool:               p.ID,
			Vault:              p.Vault(),
			VaultBalance:       bal,
			TotalLocked:        p.TotalLocked,
			FeesCollected:      p.FeesCollected,
			TotalAccounts:      p.TotalAccounts,
			Balanced:           !overflow && books == bal,
			Commitments:        cm.Count,
			CommitmentCapacity: cm.Capacity,
			Nullifiers:         nf,
			Paused:             p.Paused,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !r.Balanced {
		s.log.Error().Str("pool", id.String()).Uint64("vault", r.VaultBalance).Uint64("locked", r.TotalLocked).Uint64("fees", r.FeesCollected).Msg("vault out of balance")
	}
	return r, nil
}
