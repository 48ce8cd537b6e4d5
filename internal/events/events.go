// Package events defines the pool's audit events and the publishers that
// forward them to indexers.
//
// Every committed operation yields one Envelope. The payload carries the full
// operation parameters plus the resulting aggregate so an off-system indexer
// can rebuild totals without reading the store.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"shieldpool/internal/shielded"
)

// Type names an event.
type Type string

const (
	TypePoolInitialized Type = "pool_initialized"
	TypeAccountOpened   Type = "account_opened"
	TypeShield          Type = "shield"
	TypeTransfer        Type = "transfer"
	TypeUnshield        Type = "unshield"
	TypeFeeUpdated      Type = "fee_updated"
	TypePaused          Type = "paused"
	TypeUnpaused        Type = "unpaused"
)

// Envelope is the generic wrapper published for every event.
type Envelope struct {
	ID      uuid.UUID       `json:"id"`
	Type    Type            `json:"type"`
	PoolID  shielded.Digest `json:"pool_id"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// New marshals payload into an envelope.
func New(pool shielded.Digest, typ Type, payload any, at time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s event: %w", typ, err)
	}
	return Envelope{
		ID:      uuid.New(),
		Type:    typ,
		PoolID:  pool,
		Payload: raw,
		At:      at.UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

type PoolInitialized struct {
	Pool              shielded.Digest  `json:"pool"`
	Admin             shielded.Address `json:"admin"`
	Vault             shielded.Address `json:"vault"`
	FeeBPS            uint16           `json:"fee_bps"`
	NullifierStrategy string           `json:"nullifier_strategy"`
	BalanceMode       string           `json:"balance_mode"`
	Timestamp         int64            `json:"timestamp"`
}

type AccountOpened struct {
	Pool       shielded.Digest  `json:"pool"`
	Owner      shielded.Address `json:"owner"`
	Commitment shielded.Digest  `json:"commitment"`
	Timestamp  int64            `json:"timestamp"`
}

type Shield struct {
	Pool        shielded.Digest  `json:"pool"`
	Owner       shielded.Address `json:"owner"`
	Amount      uint64           `json:"amount"`
	Net         uint64           `json:"net"`
	Fee         uint64           `json:"fee"`
	TotalLocked uint64           `json:"total_locked"`
	Commitment  *shielded.Digest `json:"commitment,omitempty"`
	Timestamp   int64            `json:"timestamp"`
}

type Transfer struct {
	Pool      shielded.Digest  `json:"pool"`
	Sender    shielded.Address `json:"sender"`
	Recipient shielded.Address `json:"recipient"`
	Timestamp int64            `json:"timestamp"`
}

type Unshield struct {
	Pool        shielded.Digest  `json:"pool"`
	Owner       shielded.Address `json:"owner"`
	Recipient   shielded.Address `json:"recipient"`
	Amount      uint64           `json:"amount"`
	Fee         uint64           `json:"fee"`
	Net         uint64           `json:"net"`
	Nullifier   shielded.Digest  `json:"nullifier"`
	TotalLocked uint64           `json:"total_locked"`
	Timestamp   int64            `json:"timestamp"`
}

type FeeUpdated struct {
	Pool      shielded.Digest  `json:"pool"`
	Admin     shielded.Address `json:"admin"`
	OldBPS    uint16           `json:"old_fee_bps"`
	NewBPS    uint16           `json:"new_fee_bps"`
	Timestamp int64            `json:"timestamp"`
}

type PauseChanged struct {
	Pool      shielded.Digest  `json:"pool"`
	Admin     shielded.Address `json:"admin"`
	Paused    bool             `json:"paused"`
	Timestamp int64            `json:"timestamp"`
}

// Publisher delivers committed events.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, env Envelope) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps events in memory, newest last.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
}

func (r *Recorder) Publish(_ context.Context, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of typ.
func (r *Recorder) OfType(typ Type) []Envelope {
	var out []Envelope
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
