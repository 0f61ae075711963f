package extension

// HostKind identifies the realm an extension entry point runs in.
type HostKind int

// Host kinds.
const (
	// HostProcess runs extensions in a separate operating system process.
	HostProcess HostKind = iota

	// HostWorker runs extensions in a sandboxed in-process worker.
	HostWorker

	// HostView runs view entries directly in the hosting page.
	HostView
)

// String returns a string representation of the host kind.
func (k HostKind) String() string {
	switch k {
	case HostProcess:
		return "process"
	case HostWorker:
		return "worker"
	case HostView:
		return "view"
	default:
		return "unknown"
	}
}

// ParseHostKind parses the String form of a host kind.
func ParseHostKind(s string) (HostKind, bool) {
	switch s {
	case "process", "node":
		return HostProcess, true
	case "worker", "web":
		return HostWorker, true
	case "view":
		return HostView, true
	default:
		return 0, false
	}
}

// HostKinds lists every host kind in activation preference order.
func HostKinds() []HostKind {
	return []HostKind{HostProcess, HostWorker, HostView}
}
