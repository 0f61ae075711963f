package runtime

import "errors"

var (
	// ErrUnknownExtension is returned when an activation key matches no
	// known extension, locally or on the main side.
	ErrUnknownExtension = errors.New("unknown extension")

	// ErrNoEntryPoint is returned when an extension has nothing to run in
	// this host.
	ErrNoEntryPoint = errors.New("extension has no entry point for this host")

	// ErrUnknownModule is returned for a "go:" entry with no registered factory.
	ErrUnknownModule = errors.New("unknown go module")
)
