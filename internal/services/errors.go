// Package services implements the business logic of the notification
// backend: the account-linking protocol, preference resolution, and the
// dispatcher. This file centralizes common service-level error values so they
// can be consistently returned by service methods and checked by callers.
//
// These errors are internal to the service layer; translation into
// user-facing messages or HTTP status codes happens in the handler layer.
// Protocol violations (ErrCodeUsed, ErrNotCodeOwner, ErrChallengeMismatch)
// are surfaced verbatim and never retried.
package services

import "errors"

// Linking protocol errors.
var (
	// ErrInvalidInput is returned when a required argument is empty.
	ErrInvalidInput = errors.New("missing required input")

	// ErrCodeNotFound indicates the linking code does not exist.
	ErrCodeNotFound = errors.New("linking code not found")

	// ErrCodeExpired indicates the linking code is past its TTL. Expired
	// codes are inert regardless of their verification state.
	ErrCodeExpired = errors.New("linking code expired")

	// ErrCodeUsed indicates the code was already consumed; codes are
	// single-use.
	ErrCodeUsed = errors.New("linking code already used")

	// ErrCodeNotVerified is returned when LinkWithCode runs before the
	// account owner confirmed the challenge number.
	ErrCodeNotVerified = errors.New("linking code not verified")

	// ErrNotCodeOwner is returned when challenge verification is attempted
	// by an identity other than the code's owner.
	ErrNotCodeOwner = errors.New("linking code belongs to a different user")

	// ErrChallengeMismatch indicates the wrong challenge number was supplied.
	ErrChallengeMismatch = errors.New("challenge number does not match")

	// ErrAlreadyLinked indicates the chat identity already has an active
	// link; it must unlink before linking again.
	ErrAlreadyLinked = errors.New("chat user already linked")

	// ErrCodeAllocation indicates code generation exhausted its collision
	// retries. The caller did nothing wrong; something is off in the store.
	ErrCodeAllocation = errors.New("could not allocate a unique linking code")
)

// Dispatch errors.
var (
	// ErrDeliveryFailed indicates the outbound send exhausted its single
	// retry.
	ErrDeliveryFailed = errors.New("notification delivery failed")

	// ErrUnknownEventType is returned for manual triggers naming an event
	// type the pipeline does not classify.
	ErrUnknownEventType = errors.New("unknown event type")
)
