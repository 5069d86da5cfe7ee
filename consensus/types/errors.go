package types

import "errors"

// Sentinel errors for the failure taxonomy of spec §7. BlockStore, the
// safety module and the round state machine return their own formatted
// errors and do not wrap these.
var (
	ErrMissingParent    = errors.New("parent block not found")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrWrongEpoch       = errors.New("wrong epoch")
	ErrStaleRound       = errors.New("stale round")
	ErrEquivocation     = errors.New("equivocation detected")
)
