package ckkswrapper

import "errors"

// Error kinds surfaced by the wrapper. Callers match with errors.Is.
var (
	// ErrInvalidParameters reports encryption parameters the CKKS
	// context rejects or that fall outside the accepted ranges.
	ErrInvalidParameters = errors.New("invalid encryption parameters")

	// ErrScaleMismatch reports operand scales that differ by neither a
	// chain prime nor the drift tolerance.
	ErrScaleMismatch = errors.New("scale mismatch")

	// ErrChainExhausted reports a mod-switch below the bottom of the
	// modulus chain.
	ErrChainExhausted = errors.New("modulus chain exhausted")
)
