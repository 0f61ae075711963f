package exthost

import "errors"

var (
	// ErrNotActive is returned when the host channel is not established.
	ErrNotActive = errors.New("extension host is not active")

	// ErrDisposed is returned by a service that was disposed for good.
	ErrDisposed = errors.New("extension host service disposed")

	// ErrNoCommand is returned when a process strategy has nothing to run.
	ErrNoCommand = errors.New("no extension host command configured")

	// ErrUnknownExtension is returned by reverse calls for an unknown path.
	ErrUnknownExtension = errors.New("unknown extension")
)
