package api

import (
	"encoding/hex"
	"fmt"

	"shieldpool/internal/account"
	"shieldpool/internal/poolerr"
)

// CallerHeader carries the hex address of the caller.
const CallerHeader = "X-Caller"

type InitPoolRequest struct {
	FeeBPS             uint16 `json:"fee_bps"`
	CommitmentCapacity uint64 `json:"commitment_capacity,omitempty"`
	SkipCommitments    bool   `json:"skip_commitments,omitempty"`
	NullifierStrategy  string `json:"nullifier_strategy,omitempty" validate:"omitempty,oneof=keyed bounded"`
	NullifierCapacity  uint64 `json:"nullifier_capacity,omitempty"`
	BalanceMode        string `json:"balance_mode,omitempty" validate:"omitempty,oneof=plain elgamal"`
}

type OpenAccountRequest struct {
	Commitment    string `json:"commitment" validate:"required,len=64,hexadecimal"`
	EncryptionKey string `json:"encryption_key,omitempty" validate:"omitempty,len=64,hexadecimal"`
}

type ShieldRequest struct {
	Amount uint64 `json:"amount"`
}

// TransferRequest moves Amount in a plain pool. ElGamal pools send the
// Debit and Credit ciphertexts instead.
type TransferRequest struct {
	Recipient string `json:"recipient" validate:"required,len=64,hexadecimal"`
	Amount    uint64 `json:"amount,omitempty"`
	Debit     string `json:"debit,omitempty" validate:"omitempty,len=128,hexadecimal"`
	Credit    string `json:"credit,omitempty" validate:"omitempty,len=128,hexadecimal"`
	Proof     string `json:"proof" validate:"required,hexadecimal"`
}

type UnshieldRequest struct {
	Amount    uint64 `json:"amount"`
	Recipient string `json:"recipient,omitempty" validate:"omitempty,len=64,hexadecimal"`
	Nullifier string `json:"nullifier" validate:"required,len=64,hexadecimal"`
	Proof     string `json:"proof" validate:"required,hexadecimal"`
}

type SetFeeRequest struct {
	FeeBPS uint16 `json:"fee_bps"`
}

type FaucetRequest struct {
	Address string `json:"address" validate:"required,len=64,hexadecimal"`
	Amount  uint64 `json:"amount" validate:"required"`
}

// AccountView is the owner's view of an account. PlainBalance is set only
// when the pool stores balances in the clear.
type AccountView struct {
	Pool             string  `json:"pool"`
	Owner            string  `json:"owner"`
	Balance          string  `json:"balance"`
	PlainBalance     *uint64 `json:"plain_balance,omitempty"`
	Commitment       string  `json:"commitment"`
	EncryptionKey    string  `json:"encryption_key"`
	Nonce            uint64  `json:"nonce"`
	TotalDeposits    uint64  `json:"total_deposits"`
	TotalWithdrawals uint64  `json:"total_withdrawals"`
	LastUpdate       int64   `json:"last_update"`
	CreatedAt        int64   `json:"created_at"`
	Opened           bool    `json:"opened"`
}

// NewAccountView renders a using alg to expose a plain balance.
func NewAccountView(a *account.PrivacyAccount, alg account.Algebra) AccountView {
	v := AccountView{
		Pool:             a.Pool.String(),
		Owner:            a.Owner.String(),
		Balance:          hex.EncodeToString(a.Balance[:]),
		Commitment:       a.Commitment.String(),
		EncryptionKey:    a.EncryptionKey.String(),
		Nonce:            a.Nonce,
		TotalDeposits:    a.TotalDeposits,
		TotalWithdrawals: a.TotalWithdrawals,
		LastUpdate:       a.LastUpdate,
		CreatedAt:        a.CreatedAt,
		Opened:           a.Opened,
	}
	if n, ok := alg.Value(a.Balance); ok {
		v.PlainBalance = &n
	}
	return v
}

type NullifierStatus struct {
	Nullifier string `json:"nullifier"`
	Used      bool   `json:"used"`
}

type FaucetResponse struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code     string `json:"code"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Err rebuilds the pool error the response describes.
func (e ErrorResponse) Err() error {
	return &poolerr.Error{Code: poolerr.Code(e.Code), Message: e.Message}
}

func decodeBlob(s string) (account.Blob, error) {
	var b account.Blob
	raw, err := hex.DecodeString(s)
	if err != nil {
		return b, err
	}
	if len(raw) != len(b) {
		return b, fmt.Errorf("blob must be %d bytes, got %d", len(b), len(raw))
	}
	copy(b[:], raw)
	return b, nil
}
