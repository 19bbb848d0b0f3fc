package main

import "errors"

// Named abort conditions. Every contract function that fails wraps one of
// these sentinels so callers (and tests) can match with errors.Is while the
// message text stays greppable in peer logs.
var (
	ErrUnauthorized            = errors.New("unauthorized")
	ErrSystemPaused            = errors.New("system paused")
	ErrCooldownActive          = errors.New("cooldown active")
	ErrInvalidBatch            = errors.New("invalid batch")
	ErrBatchClosed             = errors.New("batch closed")
	ErrUninitializedValue      = errors.New("uninitialized value")
	ErrReplayAttempt           = errors.New("replay attempt")
	ErrStateMismatch           = errors.New("state mismatch")
	ErrUnknownRequest          = errors.New("unknown request")
	ErrInvalidCooldown         = errors.New("invalid cooldown")
	ErrProofVerificationFailed = errors.New("proof verification failed")
)
