// Package common defines shared constants and sentinel errors used across
// the sender and receiver. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Bad or missing credential. Never retried.
	ErrAuthentication = errors.New("authentication failed")

	// Transient transport failure. Retried with backoff by the owner.
	ErrNetwork = errors.New("network error")

	// Local durable queue read/write failure.
	ErrStorage = errors.New("storage error")

	// Rejected unsafe file name. Never retried.
	ErrPathSecurity = errors.New("unsafe path")

	// Unwrap or decrypt failure. Deliberately carries no detail.
	ErrCrypto = errors.New("decryption failed")

	// Relay or orchestrator already running.
	ErrConcurrency = errors.New("already running")
)
