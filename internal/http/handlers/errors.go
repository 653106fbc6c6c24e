// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, conflict) mirror common HTTP status
//     semantics to aid interoperability.
//   - Domain-specific codes (e.g., code_expired, challenge_mismatch) are reserved
//     for linking-protocol and dispatch errors that cannot be conveyed by status
//     alone.
//   - All error responses must include both an HTTP status and one of these codes.

package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Linking protocol:
	ErrCodeExpired           = "code_expired"
	ErrCodeUsed              = "code_used"
	ErrCodeNotVerified       = "code_not_verified"
	ErrCodeChallengeMismatch = "challenge_mismatch"
	ErrCodeAlreadyLinked     = "already_linked"

	// Dispatch:
	ErrCodeDeliveryFailed   = "delivery_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
