package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Bot lifecycle
	ErrInvalidTransition = errors.New("invalid bot state transition")
	ErrPositionsOpen     = errors.New("operation not allowed while positions are open")

	// Broker
	ErrBrokerUnavailable    = errors.New("broker API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to upstream service")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient buying power for order")
	ErrOrderNotFound        = errors.New("order not found at the broker")
	ErrPositionNotFound     = errors.New("position not found at the broker")
	ErrOrderPlacementFailed = errors.New("failed to place order")

	// Market data
	ErrSnapshotUnavailable = errors.New("market data snapshot unavailable")

	// AI advisory
	ErrAdvisorUnavailable = errors.New("advisory service unavailable")

	// Database
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
