package state

import "errors"

var (
	ErrInvalidMintConfigIndex      = errors.New("voting mint config index out of bounds")
	ErrMintConfigInUse             = errors.New("voting mint config is referenced by live deposit entries")
	ErrVotingMintNotFound          = errors.New("voting mint not configured on registrar")
	ErrVotingMintAlreadyConfigured = errors.New("voting mint already configured at another index")
	ErrInvalidDecimalShift         = errors.New("invalid decimal shift")
	ErrInvalidLockupSaturation     = errors.New("lockup saturation must be positive when extra lockup weight is enabled")
	ErrRegistrarMismatch           = errors.New("record does not belong to registrar")

	ErrInvalidDepositEntryIndex = errors.New("deposit entry index out of bounds")
	ErrDepositEntryNotUsed      = errors.New("deposit entry is not in use")
	ErrDepositEntryAlreadyUsed  = errors.New("deposit entry is already in use")
	ErrNoAvailableDepositSlot   = errors.New("no available deposit entry slot")
	ErrSameDepositEntry         = errors.New("source and destination deposit entries must differ")
	ErrMintIndexMismatch        = errors.New("mint does not match deposit entry")
	ErrVotingTokenNonZero       = errors.New("deposit entry still holds tokens")
	ErrDepositStillLocked       = errors.New("deposit entry lockup has not ended")

	ErrInvalidLockupKind        = errors.New("invalid lockup kind")
	ErrInvalidLockupPeriod      = errors.New("invalid lockup period")
	ErrLockupCannotBeShortened  = errors.New("lockup cannot be shortened")
	ErrInsufficientVestedTokens = errors.New("insufficient vested tokens")
	ErrInsufficientLockedTokens = errors.New("insufficient locked tokens")
	ErrClawbackNotAllowed       = errors.New("clawback not allowed on deposit entry")

	ErrUnauthorizedAuthority  = errors.New("unauthorized authority")
	ErrArithmeticOverflow     = errors.New("arithmetic overflow")
	ErrStaleVoterWeightRecord = errors.New("voter weight record is stale")
	ErrDebugInstruction       = errors.New("debug instruction not enabled")
)
