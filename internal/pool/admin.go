package pool

import (
	"context"

	"shieldpool/internal/events"
	"shieldpool/internal/shielded"
)

// SetFee replaces the pool fee. Only the admin may call it.
func (s *Service) SetFee(ctx context.Context, poolID shielded.Digest, caller shielded.Address, bps uint16) (*Pool, error) {
	var updated *Pool
	err := s.execute(ctx, OpSetFee, poolID, func(tx Tx, out *outcome) error {
		p, err := tx.LoadPool(ctx, poolID)
		if err != nil {
			return err
		}
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		old := p.Fee.BPS
		if err := p.Fee.SetFee(bps); err != nil {
			return err
		}
		if err := tx.SavePool(ctx, p); err != nil {
			return err
		}
		updated = p
		now := s.now()
		return out.emit(p, events.TypeFeeUpdated, events.FeeUpdated{
			Pool:      p.ID,
			Admin:     caller,
			OldBPS:    old,
			NewBPS:    bps,
			Timestamp: now.Unix(),
		}, now)
	})
	if err != nil {
		s.audit.Warn().Str("op", OpSetFee).Str("pool", poolID.String()).Str("caller", caller.String()).Err(err).Msg("admin action rejected")
		return nil, err
	}
	s.audit.Info().Str("op", OpSetFee).Str("pool", poolID.String()).Str("caller", caller.String()).Uint16("fee_bps", bps).Msg("fee updated")
	return updated, nil
}

// Pause stops user operations. Balances and registries are untouched.
func (s *Service) Pause(ctx context.Context, poolID shielded.Digest, caller shielded.Address) (*Pool, error) {
	return s.setPaused(ctx, OpPause, poolID, caller, true)
}

// Unpause resumes user operations.
func (s *Service) Unpause(ctx context.Context, poolID shielded.Digest, caller shielded.Address) (*Pool, error) {
	return s.setPaused(ctx, OpUnpause, poolID, caller, false)
}

func (s *Service) setPaused(ctx context.Context, op string, poolID shielded.Digest, caller shielded.Address, paused bool) (*Pool, error) {
	var updated *Pool
	err := s.execute(ctx, op, poolID, func(tx Tx, out *outcome) error {
		p, err := tx.LoadPool(ctx, poolID)
		if err != nil {
			return err
		}
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		p.Paused = paused
		if err := tx.SavePool(ctx, p); err != nil {
			return err
		}
		updated = p
		typ := events.TypeUnpaused
		if paused {
			typ = events.TypePaused
		}
		now := s.now()
		return out.emit(p, typ, events.PauseChanged{
			Pool:      p.ID,
			Admin:     caller,
			Paused:    paused,
			Timestamp: now.Unix(),
		}, now)
	})
	if err != nil {
		s.audit.Warn().Str("op", op).Str("pool", poolID.String()).Str("caller", caller.String()).Err(err).Msg("admin action rejected")
		return nil, err
	}
	s.audit.Info().Str("op", op).Str("pool", poolID.String()).Str("caller", caller.String()).Msg("pause state changed")
	return updated, nil
}
