package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable machine-readable code returned to callers. Raw
// internal errors are logged but never serialized into responses.
type ErrorCode string

const (
	CodeInvalidArgument      ErrorCode = "INVALID_ARGUMENT"
	CodeUnauthenticated      ErrorCode = "UNAUTHENTICATED"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeInsufficientBalance  ErrorCode = "INSUFFICIENT_BALANCE"
	CodeStillLocked          ErrorCode = "STILL_LOCKED"
	CodeWrongStakeStatus     ErrorCode = "WRONG_STAKE_STATUS"
	CodeLedgerBusy           ErrorCode = "LEDGER_BUSY"
	CodePayoutConfiguration  ErrorCode = "PAYOUT_CONFIGURATION"
	CodeAddressDerivation    ErrorCode = "ADDRESS_DERIVATION_FAILED"
	CodeWalletRejected       ErrorCode = "WALLET_REJECTED"
	CodeNetworkTimeout       ErrorCode = "NETWORK_TIMEOUT"
	CodeTransferInvalid      ErrorCode = "TRANSFER_INVALID"
	CodeSettlementPending    ErrorCode = "SETTLEMENT_PENDING"
	CodeInternal             ErrorCode = "INTERNAL"
)

// userMessages is the fixed lookup table of safe, user-facing messages.
var userMessages = map[ErrorCode]string{
	CodeInvalidArgument:     "The request was invalid.",
	CodeUnauthenticated:     "Authentication required.",
	CodeNotFound:            "No matching record was found.",
	CodeInsufficientBalance: "Insufficient balance for this operation.",
	CodeStillLocked:         "This stake is still locked.",
	CodeWrongStakeStatus:    "This stake is not in a state that allows the operation.",
	CodeLedgerBusy:          "The ledger is busy, please retry shortly.",
	CodePayoutConfiguration: "Payouts are temporarily unavailable, please contact support.",
	CodeAddressDerivation:   "The destination wallet cannot receive this token.",
	CodeWalletRejected:      "The network rejected the transfer, please contact support.",
	CodeNetworkTimeout:      "The network is busy, the transfer is still being confirmed.",
	CodeTransferInvalid:     "The supplied transfer could not be verified.",
	CodeSettlementPending:   "The operation is still settling, check your history shortly.",
	CodeInternal:            "Something went wrong, please contact support.",
}

// MessageFor returns the safe user-facing message for a code.
func MessageFor(code ErrorCode) string {
	if msg, ok := userMessages[code]; ok {
		return msg
	}
	return userMessages[CodeInternal]
}

var (
	ErrNotFound                = errors.New("record not found")
	ErrUnauthenticated         = errors.New("unauthenticated")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrStillLocked             = errors.New("stake is still locked")
	ErrWrongStakeStatus        = errors.New("stake status does not allow this operation")
	ErrConcurrencyExhausted    = errors.New("ledger transaction retries exhausted")
	ErrConcurrentModification  = errors.New("concurrent ledger modification detected")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrDuplicateTransfer       = errors.New("transfer already consumed by another stake")
)

// InvalidArgumentError reports a rejected input. It is never retried.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}

// NewInvalidArgument builds an InvalidArgumentError for a field.
func NewInvalidArgument(field, reason string) *InvalidArgumentError {
	return &InvalidArgumentError{Field: field, Reason: reason}
}

// PayoutClass partitions payout failures by how they must be handled.
// Timeout is deliberately distinct from the definitive classes: a timed-out
// submission may still land, so it must be re-verified on chain before the
// ledger is compensated.
type PayoutClass string

const (
	PayoutConfiguration     PayoutClass = "configuration"
	PayoutAddressDerivation PayoutClass = "address_derivation"
	PayoutNetworkRejected   PayoutClass = "network_rejected"
	PayoutTimeout           PayoutClass = "timeout"
)

// PayoutError is returned by the payout executor. Detail preserves the
// network's own failure code (e.g. INSUFFICIENT_SOL_FOR_FEE) verbatim so the
// audit trail keeps the original cause. Signature is set when the transfer
// was submitted before the failure, so Timeout-class errors can be resolved
// by re-verifying on chain.
type PayoutError struct {
	Class     PayoutClass
	Detail    string
	Signature string
	Err       error
}

func (e *PayoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payout failed (%s): %s: %v", e.Class, e.Detail, e.Err)
	}
	return fmt.Sprintf("payout failed (%s): %s", e.Class, e.Detail)
}

func (e *PayoutError) Unwrap() error { return e.Err }

// DefinitelyNotSent reports whether the class guarantees the transfer was
// never submitted to the network, making ledger compensation safe.
func (e *PayoutError) DefinitelyNotSent() bool {
	return e.Class != PayoutTimeout
}

// Code maps the payout class to a stable user-facing error code. The
// verbatim Detail is preserved separately on the history entry.
func (e *PayoutError) Code() ErrorCode {
	switch e.Class {
	case PayoutConfiguration:
		return CodePayoutConfiguration
	case PayoutAddressDerivation:
		return CodeAddressDerivation
	case PayoutNetworkRejected:
		return CodeWalletRejected
	case PayoutTimeout:
		return CodeNetworkTimeout
	default:
		return CodeInternal
	}
}

// InvalidTransferError is returned by the chain verifier when a supplied
// transfer id cannot be admitted as a ledger fact.
type InvalidTransferError struct {
	Signature string
	Reason    string
}

func (e *InvalidTransferError) Error() string {
	return fmt.Sprintf("transfer %s invalid: %s", e.Signature, e.Reason)
}

// CodeOf maps any settlement error to its stable code.
func CodeOf(err error) ErrorCode {
	var invalidArg *InvalidArgumentError
	var payoutErr *PayoutError
	var invalidTransfer *InvalidTransferError

	switch {
	case errors.As(err, &invalidArg):
		return CodeInvalidArgument
	case errors.As(err, &payoutErr):
		return payoutErr.Code()
	case errors.As(err, &invalidTransfer):
		return CodeTransferInvalid
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrInsufficientBalance):
		return CodeInsufficientBalance
	case errors.Is(err, ErrStillLocked):
		return CodeStillLocked
	case errors.Is(err, ErrWrongStakeStatus):
		return CodeWrongStakeStatus
	case errors.Is(err, ErrConcurrencyExhausted):
		return CodeLedgerBusy
	default:
		return CodeInternal
	}
}
