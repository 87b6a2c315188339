package models

import "errors"

// Error taxonomy shared across the service. Handlers map these to HTTP
// statuses; everything else is treated as an internal persistence or
// collaborator failure.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
)
