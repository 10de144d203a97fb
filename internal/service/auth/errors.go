package auth

import "errors"

// Token validation failures returned by JWTService.ValidateToken.
var (
	ErrInvalidToken     = errors.New("invalid authentication token")
	ErrExpiredToken     = errors.New("authentication token has expired")
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")
	ErrMissingToken     = errors.New("authentication token is missing")
	ErrMissingSubject   = errors.New("authentication token has no subject")
)
