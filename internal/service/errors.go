package service

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps exactly one of them.
var (
	ErrNotFound     = errors.New("not found")
	ErrAccessDenied = errors.New("access denied")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("conflict")
)

var (
	ErrCardNotFound      = fmt.Errorf("card %w", ErrNotFound)
	ErrSenderNotFound    = fmt.Errorf("sender card %w", ErrNotFound)
	ErrRecipientNotFound = fmt.Errorf("recipient card %w", ErrNotFound)
	ErrUserNotFound      = fmt.Errorf("user %w", ErrNotFound)

	ErrNotCardOwner = fmt.Errorf("%w: card belongs to another user", ErrAccessDenied)

	ErrInvalidAmount      = fmt.Errorf("%w: amount must be positive", ErrBadRequest)
	ErrNegativeBalance    = fmt.Errorf("%w: initial balance must not be negative", ErrBadRequest)
	ErrAmountExceedsLimit = fmt.Errorf("%w: amount exceeds the transfer limit", ErrBadRequest)
	ErrInsufficientFunds  = fmt.Errorf("%w: insufficient funds", ErrBadRequest)
	ErrSenderInactive     = fmt.Errorf("%w: sender card is not active", ErrBadRequest)
	ErrRecipientInactive  = fmt.Errorf("%w: recipient card is not active", ErrBadRequest)
	ErrInvalidStatus      = fmt.Errorf("%w: unknown card status", ErrBadRequest)
	ErrInvalidCardNumber  = fmt.Errorf("%w: card number cannot be decoded", ErrBadRequest)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrAccessDenied)
	ErrInvalidToken       = fmt.Errorf("%w: invalid token", ErrAccessDenied)
	ErrMissingCredentials = fmt.Errorf("%w: username and password are required", ErrBadRequest)
	ErrUsernameTaken      = fmt.Errorf("%w: username is already taken", ErrConflict)
	ErrCardBusy           = fmt.Errorf("%w: card is busy, try again", ErrConflict)
	ErrStillReferenced    = fmt.Errorf("%w: record is still referenced", ErrConflict)
	ErrCardNumberTaken    = fmt.Errorf("%w: could not allocate a unique card number", ErrConflict)
)
