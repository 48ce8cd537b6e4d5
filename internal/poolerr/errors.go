// errors.go - Unified error taxonomy for the shielded pool.
//
// Every failure surfaced by a pool operation carries one Code. Codes are
// grouped into categories so transports (HTTP, CLI) can map them without
// knowing each individual failure.

package poolerr

import (
	"errors"
	"fmt"
)

// Code identifies a failure kind.
type Code string

const (
	CodeInvalidAmount        Code = "invalid_amount"
	CodeFeeTooHigh           Code = "fee_too_high"
	CodeInvalidRecipient     Code = "invalid_recipient"
	CodeInvalidCommitment    Code = "invalid_commitment"
	CodeUnauthorized         Code = "unauthorized"
	CodeInvalidOwner         Code = "invalid_owner"
	CodeProtocolPaused       Code = "protocol_paused"
	CodeArithmeticOverflow   Code = "arithmetic_overflow"
	CodeInsufficientBalance  Code = "insufficient_balance"
	CodeAmountTooSmall       Code = "amount_too_small"
	CodeNullifierAlreadyUsed Code = "nullifier_already_used"
	CodeInvalidProof         Code = "invalid_proof"
	CodeRegistryFull         Code = "registry_full"
	CodeInvalidRegistry      Code = "invalid_registry"
	CodePoolNotFound         Code = "pool_not_found"
	CodeAccountNotFound      Code = "account_not_found"
	CodeAccountExists        Code = "account_exists"
	CodeConflict             Code = "conflict"
	CodeInternal             Code = "internal"
)

// Category groups codes by the rule they enforce.
type Category string

const (
	Validation    Category = "validation"
	Authorization Category = "authorization"
	Lifecycle     Category = "lifecycle"
	Conservation  Category = "conservation"
	Replay        Category = "replay"
	Proof         Category = "proof"
	Capacity      Category = "capacity"
	Consistency   Category = "consistency"
	Internal      Category = "internal"
)

var categories = map[Code]Category{
	CodeInvalidAmount:        Validation,
	CodeFeeTooHigh:           Validation,
	CodeInvalidRecipient:     Validation,
	CodeInvalidCommitment:    Validation,
	CodeUnauthorized:         Authorization,
	CodeInvalidOwner:         Authorization,
	CodeProtocolPaused:       Lifecycle,
	CodeArithmeticOverflow:   Conservation,
	CodeInsufficientBalance:  Conservation,
	CodeAmountTooSmall:       Conservation,
	CodeNullifierAlreadyUsed: Replay,
	CodeInvalidProof:         Proof,
	CodeRegistryFull:         Capacity,
	CodeInvalidRegistry:      Consistency,
	CodePoolNotFound:         Consistency,
	CodeAccountNotFound:      Consistency,
	CodeAccountExists:        Consistency,
	CodeConflict:             Consistency,
	CodeInternal:             Internal,
}

// Category returns the category of c. Unknown codes are Internal.
func (c Code) Category() Category {
	if cat, ok := categories[c]; ok {
		return cat
	}
	return Internal
}

// Error is a pool failure. Two Errors match under errors.Is when their codes
// are equal, so the sentinels below can be compared against wrapped values.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrInvalidAmount        = &Error{Code: CodeInvalidAmount, Message: "amount must be positive"}
	ErrFeeTooHigh           = &Error{Code: CodeFeeTooHigh, Message: "fee exceeds 10000 basis points"}
	ErrInvalidRecipient     = &Error{Code: CodeInvalidRecipient, Message: "invalid recipient"}
	ErrInvalidCommitment    = &Error{Code: CodeInvalidCommitment, Message: "spend commitment required"}
	ErrUnauthorized         = &Error{Code: CodeUnauthorized, Message: "caller is not the pool admin"}
	ErrInvalidOwner         = &Error{Code: CodeInvalidOwner, Message: "caller does not own the account"}
	ErrProtocolPaused       = &Error{Code: CodeProtocolPaused, Message: "pool is paused"}
	ErrArithmeticOverflow   = &Error{Code: CodeArithmeticOverflow, Message: "arithmetic overflow"}
	ErrInsufficientBalance  = &Error{Code: CodeInsufficientBalance, Message: "insufficient balance"}
	ErrAmountTooSmall       = &Error{Code: CodeAmountTooSmall, Message: "amount too small"}
	ErrNullifierAlreadyUsed = &Error{Code: CodeNullifierAlreadyUsed, Message: "nullifier already used"}
	ErrInvalidProof         = &Error{Code: CodeInvalidProof, Message: "invalid proof"}
	ErrRegistryFull         = &Error{Code: CodeRegistryFull, Message: "registry full"}
	ErrInvalidRegistry      = &Error{Code: CodeInvalidRegistry, Message: "registry belongs to another pool"}
	ErrPoolNotFound         = &Error{Code: CodePoolNotFound, Message: "pool not found"}
	ErrAccountNotFound      = &Error{Code: CodeAccountNotFound, Message: "account not found"}
	ErrAccountExists        = &Error{Code: CodeAccountExists, Message: "account already exists"}
	ErrConflict             = &Error{Code: CodeConflict, Message: "concurrent update conflict"}
)

// New returns an Error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code to err. A nil err yields nil.
func Wrap(code Code, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
