// Package common contains shared constants, sentinel errors and small
// helpers used across SecureChat client components. Callers should use
// errors.Is to match the sentinel values.
package common

import "errors"

var (
	// Auth errors. ErrInvalidCredential deliberately covers both "account
	// not found" and "wrong password" so callers cannot leak which one it
	// was to the user.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrRefreshRejected means the session credential is no longer valid.
	// Fatal to the session; the caller must force re-authentication.
	ErrRefreshRejected = errors.New("session refresh rejected")

	// Crypto errors.
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrKeyUnavailable   = errors.New("key unavailable")

	// Transport errors.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// Repository-level errors.
	ErrNotFound = errors.New("not found")
)
