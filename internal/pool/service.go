package pool

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"shieldpool/internal/events"
	"shieldpool/internal/metrics"
	"shieldpool/internal/poolerr"
	"shieldpool/internal/proof"
	"shieldpool/internal/shielded"
)

// Operation names used in logs, metrics and events.
const (
	OpInitialize  = "initialize"
	OpOpenAccount = "open_account"
	OpShield      = "shield"
	OpTransfer    = "transfer"
	OpUnshield    = "unshield"
	OpSetFee      = "set_fee"
	OpPause       = "pause"
	OpUnpause     = "unpause"
)

// Service orchestrates pool operations over a Store.
type Service struct {
	store     Store
	verifiers proof.Set
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
	audit     zerolog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithAuditLogger sets the logger admin actions are recorded to.
func WithAuditLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.audit = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service. A verifier left nil in verifiers rejects
// every proof.
func NewService(store Store, verifiers proof.Set, opts ...Option) *Service {
	s := &Service{
		store:     store,
		verifiers: verifiers,
		publisher: events.Nop{},
		log:       zerolog.Nop(),
		audit:     zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "pool").Logger()
	return s
}

// outcome collects what a committed operation reports afterwards.
type outcome struct {
	pool       *Pool
	events     []events.Envelope
	nullifiers int
}

func (o *outcome) emit(p *Pool, typ events.Type, payload any, at time.Time) error {
	env, err := events.New(p.ID, typ, payload, at)
	if err != nil {
		return err
	}
	o.pool = p
	o.events = append(o.events, env)
	return nil
}

// execute runs fn in one store transaction, then records metrics, logs the
// result and publishes the collected events.
func (s *Service) execute(ctx context.Context, op string, poolID shielded.Digest, fn func(tx Tx, out *outcome) error) error {
	start := time.Now()
	var out outcome
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		out = outcome{}
		return fn(tx, &out)
	})

	code := "ok"
	if err != nil {
		code = string(poolerr.CodeOf(err))
	}
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, code, start)
	}
	if err != nil {
		ev := s.log.Warn()
		if poolerr.CodeOf(err) == poolerr.CodeInternal {
			ev = s.log.Error()
		}
		ev.Err(err).Str("op", op).Str("pool", poolID.String()).Str("code", code).Msg("operation failed")
		return err
	}

	s.log.Info().Str("op", op).Str("pool", poolID.String()).Dur("took", time.Since(start)).Msg("operation committed")
	if s.metrics != nil && out.pool != nil {
		id := out.pool.ID.String()
		s.metrics.SetPoolTotals(id, out.pool.TotalLocked, out.pool.FeesCollected)
		for i := 0; i < out.nullifiers; i++ {
			s.metrics.IncNullifier(id)
		}
	}
	for _, env := range out.events {
		if perr := s.publisher.Publish(ctx, env); perr != nil {
			s.log.Error().Err(perr).Str("event", string(env.Type)).Str("event_id", env.ID.String()).Msg("publish failed")
			if s.metrics != nil {
				s.metrics.IncPublishError()
			}
		}
	}
	return nil
}

// verify runs v fail-closed and maps a rejection to InvalidProof.
func (s *Service) verify(op string, v proof.Verifier, p []byte, inputs []shielded.Digest) error {
	if v != nil && v.Verify(p, inputs) {
		return nil
	}
	if s.metrics != nil {
		s.metrics.IncProofRejected(op)
	}
	return poolerr.ErrInvalidProof
}

func isNotFound(err error) bool {
	return errors.Is(err, poolerr.ErrAccountNotFound)
}
