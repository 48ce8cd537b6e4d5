// Package account holds the per-owner shielded account and the balance
// algebra its opaque balance blob is manipulated with.
package account

import (
	"shieldpool/internal/poolerr"
	"shieldpool/internal/shielded"
)

// BlobSize is the persisted size of a balance blob.
const BlobSize = 64

// Blob is an opaque balance: a plain little-endian counter or an ElGamal
// ciphertext depending on the pool's balance mode.
type Blob [BlobSize]byte

// IsZero reports whether every byte of b is zero.
func (b Blob) IsZero() bool { return b == Blob{} }

// PrivacyAccount is the shielded state of one owner inside one pool.
type PrivacyAccount struct {
	Pool             shielded.Digest        `json:"pool"`
	Owner            shielded.Address       `json:"owner"`
	Balance          Blob                   `json:"balance"`
	Commitment       shielded.Digest        `json:"commitment"`
	EncryptionKey    shielded.EncryptionKey `json:"encryption_key"`
	Nonce            uint64                 `json:"nonce"`
	TotalDeposits    uint64                 `json:"total_deposits"`
	TotalWithdrawals uint64                 `json:"total_withdrawals"`
	LastUpdate       int64                  `json:"last_update"`
	CreatedAt        int64                  `json:"created_at"`
	// Opened is set once the owner has installed a spend commitment.
	// Accounts created by a first Shield start without one.
	Opened bool `json:"opened"`
}

// New returns a zero-initialized account.
func New(pool shielded.Digest, owner shielded.Address, now int64) *PrivacyAccount {
	return &PrivacyAccount{
		Pool:       pool,
		Owner:      owner,
		LastUpdate: now,
		CreatedAt:  now,
	}
}

// Open installs the owner's spend commitment and encryption key, moving any
// balance accrued under the zero key to the new key.
func (a *PrivacyAccount) Open(alg Algebra, cm shielded.Digest, key shielded.EncryptionKey, now int64) error {
	if a.Opened {
		return poolerr.ErrAccountExists
	}
	if !a.Balance.IsZero() && a.EncryptionKey.IsZero() && !key.IsZero() {
		next, err := alg.Rekey(a.Balance, key)
		if err != nil {
			return err
		}
		a.Balance = next
	}
	a.Commitment = cm
	a.EncryptionKey = key
	a.Opened = true
	a.LastUpdate = now
	return nil
}

// Credit adds blob to the balance.
func (a *PrivacyAccount) Credit(alg Algebra, blob Blob, now int64) error {
	next, err := alg.Add(a.Balance, blob)
	if err != nil {
		return err
	}
	a.Balance = next
	a.LastUpdate = now
	return nil
}

// Debit subtracts blob from the balance.
func (a *PrivacyAccount) Debit(alg Algebra, blob Blob, now int64) error {
	next, err := alg.Sub(a.Balance, blob)
	if err != nil {
		return err
	}
	a.Balance = next
	a.LastUpdate = now
	return nil
}

// NextNonce increments and returns the nonce.
func (a *PrivacyAccount) NextNonce() (uint64, error) {
	if a.Nonce == ^uint64(0) {
		return 0, poolerr.ErrArithmeticOverflow
	}
	a.Nonce++
	return a.Nonce, nil
}

// RecordDeposit adds net to TotalDeposits.
func (a *PrivacyAccount) RecordDeposit(net uint64) error {
	sum := a.TotalDeposits + net
	if sum < a.TotalDeposits {
		return poolerr.ErrArithmeticOverflow
	}
	a.TotalDeposits = sum
	return nil
}

// RecordWithdrawal adds amount to TotalWithdrawals.
func (a *PrivacyAccount) RecordWithdrawal(amount uint64) error {
	sum := a.TotalWithdrawals + amount
	if sum < a.TotalWithdrawals {
		return poolerr.ErrArithmeticOverflow
	}
	a.TotalWithdrawals = sum
	return nil
}
