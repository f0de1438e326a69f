package model

import "errors"

// Error taxonomy for the auth subsystem. Handlers map these onto HTTP
// responses; nothing below ever reaches a client verbatim.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrLockedOut           = errors.New("locked out after repeated failures")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenInvalid        = errors.New("token invalid")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionInactive     = errors.New("session inactive")
	ErrSessionExpired      = errors.New("session expired")
	ErrSessionLimit        = errors.New("active session limit reached")
	ErrForbidden           = errors.New("forbidden")
	ErrUpstreamUnavailable = errors.New("upstream identity backend unavailable")
	ErrInternal            = errors.New("internal error")
)
