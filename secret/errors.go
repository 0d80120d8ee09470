package secret

import "errors"

var (
	// ErrMissingEnv is returned when a ${VAR} reference names an unset variable.
	ErrMissingEnv = errors.New("secret: missing environment variables")

	// ErrUnknownProvider is returned for references to unregistered providers.
	ErrUnknownProvider = errors.New("secret: unknown provider")

	// ErrEmptySecret is returned by a strict resolver when a provider yields "".
	ErrEmptySecret = errors.New("secret: empty value")

	// ErrNotFound is returned by providers when a reference does not exist.
	ErrNotFound = errors.New("secret: not found")
)
