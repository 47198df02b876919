// Package common defines shared constants and sentinel errors used across
// passgate components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Link store errors.
	ErrorAlreadyLinked         = errors.New("account already linked")
	ErrorExternalAlreadyLinked = errors.New("external account already linked")
	ErrorNotLinked             = errors.New("account not linked")
	ErrorForceLinked           = errors.New("account is force-linked")

	// Code/token lifecycle errors. ErrorExpired is reported to callers with
	// the same status as ErrorNotFound so a caller cannot probe whether a
	// code ever existed.
	ErrorExpired    = errors.New("expired")
	ErrInvalidToken = errors.New("invalid token")
)
