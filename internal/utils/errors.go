package utils

import "errors"

// Token and credential failures.  Callers must tell expiry apart from
// corruption: only an expired token is a normal condition that a client can
// recover from by refreshing.
var (
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenInvalid      = errors.New("token invalid")
	ErrTokenTypeMismatch = errors.New("token type mismatch")
	ErrTokenSigning      = errors.New("token signing failed")
	ErrHashing           = errors.New("password hashing failed")
)
