package store

import "errors"

var (
	// ErrUnserializable is returned when a value cannot be encoded for storage.
	ErrUnserializable = errors.New("store: value is not serializable")

	// ErrNoEndpoint is returned when neither the connection override nor the
	// environment names a URL for a remote backend.
	ErrNoEndpoint = errors.New("store: no endpoint configured")

	// ErrInvalidURL is returned for connection URLs the client cannot parse.
	ErrInvalidURL = errors.New("store: invalid endpoint url")

	// ErrPoolClosed is returned when a pool is closed while dialing.
	ErrPoolClosed = errors.New("store: pool closed")
)
