package errors

import "errors"

var (
	// Oracle / infrastructure (retryable, surfaced as 503).
	ErrOracleUnavailable = errors.New("price oracle unavailable")
	ErrChainUnavailable  = errors.New("chain rpc unavailable")

	// Chain lookup failures (user can retry after waiting).
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionExpired  = errors.New("transaction is too old")
	ErrNotConfirmed        = errors.New("transaction was not confirmed")
	ErrRelayRejected       = errors.New("transaction rejected by the network")

	// Transfer validation (user paid nothing, the wrong address, or the wrong amount).
	ErrRecipientNotInvolved = errors.New("recipient not involved in transaction")
	ErrNoTransferDetected   = errors.New("no transfer to recipient detected")
	ErrAmountOutOfTolerance = errors.New("paid amount is outside the accepted tolerance")

	// Ledger.
	ErrAlreadyClaimed    = errors.New("payment reference already claimed")
	ErrReferenceNotFound = errors.New("payment reference not found")
	ErrReferenceExpired  = errors.New("payment reference expired")

	// Relay variant.
	ErrTamperedTransaction = errors.New("relayed transaction does not match the issued charge")

	// Settlement: the claim succeeded but the downstream write failed.
	// The claim is kept; the settlement must be re-driven.
	ErrSettlementFailure = errors.New("settlement failed after claim")

	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
)
