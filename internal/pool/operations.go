package pool

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"shieldpool/internal/account"
	"shieldpool/internal/events"
	"shieldpool/internal/fee"
	"shieldpool/internal/poolerr"
	"shieldpool/internal/registry"
	"shieldpool/internal/shielded"
)

// InitRequest describes a new pool. Zero values select defaults.
type InitRequest struct {
	Admin              shielded.Address
	FeeBPS             uint16
	CommitmentCapacity uint64
	SkipCommitments    bool
	NullifierStrategy  registry.Strategy
	NullifierCapacity  uint64
	BalanceMode        account.Mode
}

// Initialize creates a pool with TotalLocked = 0 in the Active state.
func (s *Service) Initialize(ctx context.Context, req InitRequest) (*Pool, error) {
	cfg, err := fee.New(req.FeeBPS)
	if err != nil {
		return nil, err
	}
	strategy := req.NullifierStrategy
	if strategy == "" {
		strategy = registry.StrategyKeyed
	}
	if !strategy.Valid() {
		return nil, poolerr.New(poolerr.CodeInvalidRegistry, "unknown nullifier strategy %q", strategy)
	}
	mode := req.BalanceMode
	if mode == "" {
		mode = account.ModePlain
	}
	if _, err := account.ForMode(mode); err != nil {
		return nil, poolerr.Wrap(poolerr.CodeInvalidRegistry, err, "balance mode")
	}
	commitCap := req.CommitmentCapacity
	if commitCap == 0 {
		commitCap = registry.DefaultCapacity
	}
	nullCap := req.NullifierCapacity
	if nullCap == 0 {
		nullCap = registry.DefaultCapacity
	}

	now := s.now()
	p := &Pool{
		ID:                 newPoolID(req.Admin),
		Admin:              req.Admin,
		Fee:                cfg,
		CommitmentCapacity: commitCap,
		RecordCommitments:  !req.SkipCommitments,
		NullifierStrategy:  strategy,
		NullifierCapacity:  nullCap,
		BalanceMode:        mode,
		CreatedAt:          now.Unix(),
	}

	err = s.execute(ctx, OpInitialize, p.ID, func(tx Tx, out *outcome) error {
		if err := tx.CreatePool(ctx, p); err != nil {
			return err
		}
		if err := tx.SaveCommitments(ctx, registry.NewCommitmentRegistry(p.ID, p.CommitmentCapacity)); err != nil {
			return err
		}
		if p.NullifierStrategy == registry.StrategyBounded {
			if err := tx.SaveNullifiers(ctx, registry.NewNullifierRegistry(p.ID, p.NullifierCapacity)); err != nil {
				return err
			}
		}
		return out.emit(p, events.TypePoolInitialized, events.PoolInitialized{
			Pool:              p.ID,
			Admin:             p.Admin,
			Vault:             p.Vault(),
			FeeBPS:            p.Fee.BPS,
			NullifierStrategy: string(p.NullifierStrategy),
			BalanceMode:       string(p.BalanceMode),
			Timestamp:         now.Unix(),
		}, now)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Info().Str("op", OpInitialize).Str("pool", p.ID.String()).Str("admin", p.Admin.String()).Uint16("fee_bps", p.Fee.BPS).Msg("pool initialized")
	return p, nil
}

func newPoolID(admin shielded.Address) shielded.Digest {
	salt := uuid.New()
	h := sha3.New256()
	h.Write(admin[:])
	h.Write(salt[:])
	var id shielded.Digest
	copy(id[:], h.Sum(nil))
	return id
}

// OpenAccountRequest installs the spend commitment and encryption key of a
// new account.
type OpenAccountRequest struct {
	Pool          shielded.Digest
	Owner         shielded.Address
	Commitment    shielded.Digest
	EncryptionKey shielded.EncryptionKey
}

// OpenAccount creates an empty account ahead of the first Shield, or installs
// the keys on an account a Shield created before the owner opened it.
func (s *Service) OpenAccount(ctx context.Context, req OpenAccountRequest) (*account.PrivacyAccount, error) {
	if req.Commitment.IsZero() {
		return nil, poolerr.ErrInvalidCommitment
	}
	if _, err := req.EncryptionKey.Point(); err != nil {
		return nil, poolerr.Wrap(poolerr.CodeInvalidCommitment, err, "encryption key")
	}
	var acct *account.PrivacyAccount
	err := s.execute(ctx, OpOpenAccount, req.Pool, func(tx Tx, out *outcome) error {
		p, err := tx.LoadPool(ctx, req.Pool)
		if err != nil {
			return err
		}
		if err := p.requireActive(); err != nil {
			return err
		}
		if req.Owner == p.Vault() {
			return poolerr.ErrInvalidOwner
		}
		alg, err := account.ForMode(p.BalanceMode)
		if err != nil {
			return err
		}
		now := s.now()
		acct, err = tx.LoadAccount(ctx, p.ID, req.Owner)
		switch {
		case isNotFound(err):
			acct = account.New(p.ID, req.Owner, now.Unix())
			if p.TotalAccounts, err = checkedAdd(p.TotalAccounts, 1); err != nil {
				return err
			}
		case err != nil:
			return err
		}
		if err := acct.Open(alg, req.Commitment, req.EncryptionKey, now.Unix()); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.SavePool(ctx, p); err != nil {
			return err
		}
		return out.emit(p, events.TypeAccountOpened, events.AccountOpened{
			Pool:       p.ID,
			Owner:      req.Owner,
			Commitment: req.Commitment,
			Timestamp:  now.Unix(),
		}, now)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// ShieldRequest moves Amount of Owner's public value into the pool.
type ShieldRequest struct {
	Pool   shielded.Digest
	Owner  shielded.Address
	Amount uint64
}

// ShieldReceipt reports a committed Shield.
type ShieldReceipt struct {
	Amount      uint64           `json:"amount"`
	Net         uint64           `json:"net"`
	Fee         uint64           `json:"fee"`
	TotalLocked uint64           `json:"total_locked"`
	Nonce       uint64           `json:"nonce"`
	Commitment  *shielded.Digest `json:"commitment,omitempty"`
}

// Shield takes Amount from Owner into the vault and credits the net of fee to
// Owner's shielded balance, creating the account on first use.
func (s *Service) Shield(ctx context.Context, req ShieldRequest) (*ShieldReceipt, error) {
	var rcpt *ShieldReceipt
	err := s.execute(ctx, OpShield, req.Pool, func(tx Tx, out *outcome) error {
		p, err := tx.LoadPool(ctx, req.Pool)
		if err != nil {
			return err
		}
		if err := p.requireActive(); err != nil {
			return err
		}
		if req.Amount == 0 {
			return poolerr.ErrInvalidAmount
		}
		if req.Owner == p.Vault() {
			return poolerr.ErrInvalidOwner
		}
		net, fee, err := p.Fee.ApplyFee(req.Amount)
		if err != nil {
			return err
		}
		alg, err := account.ForMode(p.BalanceMode)
		if err != nil {
			return err
		}
		if err := tx.Transfer(ctx, req.Owner, p.Vault(), req.Amount); err != nil {
			return err
		}

		now := s.now()
		acct, err := tx.LoadAccount(ctx, p.ID, req.Owner)
		if isNotFound(err) {
			acct = account.New(p.ID, req.Owner, now.Unix())
			if p.TotalAccounts, err = checkedAdd(p.TotalAccounts, 1); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		nonce, err := acct.NextNonce()
		if err != nil {
			return err
		}
		blob, err := alg.Encrypt(acct.EncryptionKey, net)
		if err != nil {
			return err
		}
		if err := acct.Credit(alg, blob, now.Unix()); err != nil {
			return err
		}
		if err := acct.RecordDeposit(net); err != nil {
			return err
		}
		if p.TotalLocked, err = checkedAdd(p.TotalLocked, net); err != nil {
			return err
		}
		if p.FeesCollected, err = checkedAdd(p.FeesCollected, fee); err != nil {
			return err
		}

		cm := shielded.Commitment(req.Owner, net, nonce)
		if !acct.Opened {
			acct.Commitment = cm
		}
		rcpt = &ShieldReceipt{Amount: req.Amount, Net: net, Fee: fee, Nonce: nonce}
		if p.RecordCommitments {
			reg, err := tx.LoadCommitments(ctx, p.ID)
			if err != nil {
				return err
			}
			if err := reg.Add(p.ID, cm); err != nil {
				return err
			}
			if err := tx.SaveCommitments(ctx, reg); err != nil {
				return err
			}
			rcpt.Commitment = &cm
		}

		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.SavePool(ctx, p); err != nil {
			return err
		}
		rcpt.TotalLocked = p.TotalLocked
		return out.emit(p, events.TypeShield, events.Shield{
			Pool:        p.ID,
			Owner:       req.Owner,
			Amount:      req.Amount,
			Net:         net,
			Fee:         fee,
			TotalLocked: p.TotalLocked,
			Commitment:  rcpt.Commitment,
			Timestamp:   now.Unix(),
		}, now)
	})
	if err != nil {
		return nil, err
	}
	return rcpt, nil
}

// TransferRequest moves shielded value between two accounts. Debit is
// subtracted from the sender and Credit added to the recipient; in plain mode
// both must encode the same amount.
type TransferRequest struct {
	Pool      shielded.Digest
	Sender    shielded.Address
	Recipient shielded.Address
	Debit     account.Blob
	Credit    account.Blob
	Proof     []byte
}

// PlainTransfer builds a plain-mode request for amount.
func PlainTransfer(pool shielded.Digest, sender, recipient shielded.Address, amount uint64, p []byte) TransferRequest {
	b := account.PlainBlob(amount)
	return TransferRequest{Pool: pool, Sender: sender, Recipient: recipient, Debit: b, Credit: b, Proof: p}
}

// Transfer verifies the proof over [sender commitment, recipient commitment]
// and then moves value between the accounts. The vault is not touched and no
// nullifier is consumed.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) error {
	return s.execute(ctx, OpTransfer, req.Pool, func(tx Tx, out *outcome) error {
		p, err := tx.LoadPool(ctx, req.Pool)
		if err != nil {
			return err
		}
		if err := p.requireActive(); err != nil {
			return err
		}
		vault := p.Vault()
		if req.Recipient.IsZero() || req.Recipient == req.Sender || req.Recipient == vault || req.Sender == vault {
			return poolerr.ErrInvalidRecipient
		}
		sender, err := tx.LoadAccount(ctx, p.ID, req.Sender)
		if err != nil {
			return err
		}
		recipient, err := tx.LoadAccount(ctx, p.ID, req.Recipient)
		if err != nil {
			return err
		}
		if req.Debit.IsZero() {
			return poolerr.ErrInvalidAmount
		}
		alg, err := account.ForMode(p.BalanceMode)
		if err != nil {
			return err
		}
		if debit, ok := alg.Value(req.Debit); ok {
			credit, _ := alg.Value(req.Credit)
			if debit != credit {
				return poolerr.New(poolerr.CodeInvalidAmount, "debit %d does not match credit %d", debit, credit)
			}
		}

		inputs := []shielded.Digest{sender.Commitment, recipient.Commitment}
		if err := s.verify(OpTransfer, s.verifiers.Transfer, req.Proof, inputs); err != nil {
			return err
		}

		now := s.now()
		if err := sender.Debit(alg, req.Debit, now.Unix()); err != nil {
			return err
		}
		if err := recipient.Credit(alg, req.Credit, now.Unix()); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, sender); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, recipient); err != nil {
			return err
		}
		return out.emit(p, events.TypeTransfer, events.Transfer{
			Pool:      p.ID,
			Sender:    req.Sender,
			Recipient: req.Recipient,
			Timestamp: now.Unix(),
		}, now)
	})
}

// UnshieldRequest pays Amount less fee out of Owner's shielded balance.
// A zero Recipient pays the owner.
type UnshieldRequest struct {
	Pool      shielded.Digest
	Owner     shielded.Address
	Recipient shielded.Address
	Amount    uint64
	Nullifier shielded.Digest
	Proof     []byte
}

// UnshieldReceipt reports a committed Unshield.
type UnshieldReceipt struct {
	Recipient   shielded.Address `json:"recipient"`
	Amount      uint64           `json:"amount"`
	Fee         uint64           `json:"fee"`
	Net         uint64           `json:"net"`
	TotalLocked uint64           `json:"total_locked"`
	Nullifier   shielded.Digest  `json:"nullifier"`
}

// Unshield verifies the proof over [owner commitment, nullifier], consumes the
// nullifier and only then pays the net amount out of the vault.
func (s *Service) Unshield(ctx context.Context, req UnshieldRequest) (*UnshieldReceipt, error) {
	var rcpt *UnshieldReceipt
	err := s.execute(ctx, OpUnshield, req.Pool, func(tx Tx, out *outcome) error {
		p, err := tx.LoadPool(ctx, req.Pool)
		if err != nil {
			return err
		}
		if err := p.requireActive(); err != nil {
			return err
		}
		if req.Amount == 0 {
			return poolerr.ErrInvalidAmount
		}
		if req.Amount > p.TotalLocked {
			return poolerr.New(poolerr.CodeInsufficientBalance, "amount %d exceeds total locked %d", req.Amount, p.TotalLocked)
		}
		recipient := req.Recipient
		if recipient.IsZero() {
			recipient = req.Owner
		}
		if req.Owner == p.Vault() {
			return poolerr.ErrInvalidOwner
		}
		if recipient == p.Vault() {
			return poolerr.ErrInvalidRecipient
		}
		acct, err := tx.LoadAccount(ctx, p.ID, req.Owner)
		if err != nil {
			return err
		}

		inputs := []shielded.Digest{acct.Commitment, req.Nullifier}
		if err := s.verify(OpUnshield, s.verifiers.Unshield, req.Proof, inputs); err != nil {
			return err
		}

		now := s.now()
		// The nullifier is consumed before any value moves.
		if err := s.registerNullifier(ctx, tx, p, req.Nullifier, now.Unix()); err != nil {
			return err
		}
		out.nullifiers++

		net, fee, err := p.Fee.ApplyFee(req.Amount)
		if err != nil {
			return err
		}
		alg, err := account.ForMode(p.BalanceMode)
		if err != nil {
			return err
		}
		debit, err := alg.Encrypt(acct.EncryptionKey, req.Amount)
		if err != nil {
			return err
		}
		if err := acct.Debit(alg, debit, now.Unix()); err != nil {
			return err
		}
		if err := acct.RecordWithdrawal(req.Amount); err != nil {
			return err
		}
		if err := tx.Transfer(ctx, p.Vault(), recipient, net); err != nil {
			return err
		}
		if p.TotalLocked, err = checkedSub(p.TotalLocked, req.Amount); err != nil {
			return err
		}
		if p.FeesCollected, err = checkedAdd(p.FeesCollected, fee); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.SavePool(ctx, p); err != nil {
			return err
		}

		rcpt = &UnshieldReceipt{
			Recipient:   recipient,
			Amount:      req.Amount,
			Fee:         fee,
			Net:         net,
			TotalLocked: p.TotalLocked,
			Nullifier:   req.Nullifier,
		}
		return out.emit(p, events.TypeUnshield, events.Unshield{
			Pool:        p.ID,
			Owner:       req.Owner,
			Recipient:   recipient,
			Amount:      req.Amount,
			Fee:         fee,
			Net:         net,
			Nullifier:   req.Nullifier,
			TotalLocked: p.TotalLocked,
			Timestamp:   now.Unix(),
		}, now)
	})
	if err != nil {
		return nil, err
	}
	return rcpt, nil
}

func (s *Service) registerNullifier(ctx context.Context, tx Tx, p *Pool, n shielded.Digest, now int64) error {
	switch p.NullifierStrategy {
	case registry.StrategyBounded:
		reg, err := tx.LoadNullifiers(ctx, p.ID)
		if err != nil {
			return err
		}
		if err := reg.Register(p.ID, n); err != nil {
			return err
		}
		return tx.SaveNullifiers(ctx, reg)
	default:
		return tx.InsertNullifier(ctx, registry.NullifierRecord{Pool: p.ID, Nullifier: n, ConsumedAt: now})
	}
}
