package backends

import "errors"

var (
	// ErrUnknownBackend is returned when a name is neither live nor
	// pending.
	ErrUnknownBackend = errors.New("backends: unknown backend")

	// ErrOpenTimeout is returned when a backend open exceeds its
	// bounded connect timeout. The pending config has already been
	// restored when this surfaces.
	ErrOpenTimeout = errors.New("backends: open timed out")

	// ErrSSRFBlocked is returned for URL backends whose hostname
	// resolves to a loopback, private, or link-local address.
	ErrSSRFBlocked = errors.New("backends: url resolves to a private address")

	// ErrCommandNotAllowed is returned for stdio backends whose
	// command is not on the launch allowlist.
	ErrCommandNotAllowed = errors.New("backends: command not allowed")
)
