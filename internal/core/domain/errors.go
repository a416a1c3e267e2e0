package domain

import "errors"

var (
	// ErrAlreadyConnected is returned by a connect attempt while a
	// connection is established or in progress.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotConnected is returned by operations that require an
	// established connection.
	ErrNotConnected = errors.New("not connected")

	// ErrRetriesExhausted marks the terminal reconnect failure; only
	// an explicit connect call recovers from it.
	ErrRetriesExhausted = errors.New("reconnect retries exhausted")

	// ErrSessionClosed is returned by peer-side sends after the
	// client session has gone away.
	ErrSessionClosed = errors.New("session closed")
)
