package extension

import "errors"

// Extension catalog errors.
var (
	// ErrExtensionNotFound is returned when an extension cannot be located.
	ErrExtensionNotFound = errors.New("extension not found")

	// ErrNoManifest is returned when an extension directory has no package.json.
	ErrNoManifest = errors.New("extension has no package.json")

	// ErrNoEntryPoint is returned when an extension declares no entry point for any host.
	ErrNoEntryPoint = errors.New("extension has no entry point (main, browser or view)")

	// ErrMissingName is returned when the manifest has no name.
	ErrMissingName = errors.New("manifest: name is required")

	// ErrInvalidName is returned when the name is not lowercase alphanumeric with hyphens.
	ErrInvalidName = errors.New("manifest: name must be alphanumeric with hyphens")

	// ErrInvalidVersion is returned when the version is not semver.
	ErrInvalidVersion = errors.New("manifest: version must be valid semver")

	// ErrInvalidEntry is returned when an entry point is neither a .lua file nor go:<name>.
	ErrInvalidEntry = errors.New("manifest: entry point must be a .lua file or go:<name>")

	// ErrCacheVersion is returned when a catalog cache was written by another format version.
	ErrCacheVersion = errors.New("catalog cache version mismatch")
)
