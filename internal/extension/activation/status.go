package activation

// Status represents the activation state reported for an extension.
type Status int

// Extension statuses.
const (
	// StatusInactive - Extension is known but not activated.
	StatusInactive Status = iota

	// StatusActivating - Activation was requested and has not completed.
	StatusActivating

	// StatusActive - Extension is active and running.
	StatusActive

	// StatusFailed - Activation failed; the error is kept on the record.
	StatusFailed
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActivating:
		return "activating"
	case StatusActive:
		return "active"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsUsable returns true if the extension exports can be used.
func (s Status) IsUsable() bool {
	return s == StatusActive
}
