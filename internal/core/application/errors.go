package application

import "errors"

var (
	// Validation errors, rejected before any state mutation.
	ErrInvalidFields = errors.New("invalid fields")

	// Invariant violations, no partial mutation survives.
	ErrClaimNotIncreasing = errors.New("claim amount does not increase the channel balance")
	ErrClaimDecreased     = errors.New("claim amount does not exceed the best known claim")
	ErrClaimTooLarge      = errors.New("claim amount exceeds channel capacity")
	ErrConditionMismatch  = errors.New("fulfillment does not match the execution condition")

	// Protocol faults, surfaced to the caller; the channel stays usable.
	ErrClaimRejected    = errors.New("counterparty claim failed verification")
	ErrTransferConflict = errors.New("transfer id reused with conflicting fields")

	// Channel lifecycle.
	ErrChannelNotOpen     = errors.New("channel is not open")
	ErrNoClaim            = errors.New("no claim to settle with")
	ErrTimelockNotMatured = errors.New("channel timelock has not matured")
	ErrWrongDirection     = errors.New("operation not permitted for this channel direction")

	// Fatal misconfiguration, the channel cannot proceed.
	ErrFundingOutputNotFound = errors.New("funding transaction has no output matching the redeem script")

	ErrTransferNotFound = errors.New("transfer not found")
)
