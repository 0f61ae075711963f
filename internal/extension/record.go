package extension

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// ManifestFile is the name of the extension manifest inside an extension directory.
const ManifestFile = "package.json"

// GoEntryPrefix marks an entry point served by a Go module compiled into the host.
const GoEntryPrefix = "go:"

// EntryPoints holds the per-host entry points of an extension.
type EntryPoints struct {
	// Main runs in the out-of-process host.
	Main string `json:"main,omitempty" cbor:"1,keyasint,omitempty"`
	// Browser runs in the sandboxed worker host.
	Browser string `json:"browser,omitempty" cbor:"2,keyasint,omitempty"`
	// View runs in the in-page view host.
	View string `json:"view,omitempty" cbor:"3,keyasint,omitempty"`
}

// Record describes a discovered extension. It is constructed once at
// discovery time and never mutated afterwards.
type Record struct {
	ID               string          `json:"id" cbor:"1,keyasint"`
	Name             string          `json:"name" cbor:"2,keyasint"`
	Publisher        string          `json:"publisher,omitempty" cbor:"3,keyasint,omitempty"`
	DisplayName      string          `json:"displayName,omitempty" cbor:"4,keyasint,omitempty"`
	Description      string          `json:"description,omitempty" cbor:"5,keyasint,omitempty"`
	Version          string          `json:"version" cbor:"6,keyasint"`
	Path             string          `json:"path" cbor:"7,keyasint"`
	Entries          EntryPoints     `json:"entries" cbor:"8,keyasint"`
	ActivationEvents []string        `json:"activationEvents,omitempty" cbor:"9,keyasint,omitempty"`
	Dependencies     []string        `json:"extensionDependencies,omitempty" cbor:"10,keyasint,omitempty"`
	Capabilities     []string        `json:"capabilities,omitempty" cbor:"11,keyasint,omitempty"`
	Contributes      json.RawMessage `json:"contributes,omitempty" cbor:"12,keyasint,omitempty"`
	PackageJSON      json.RawMessage `json:"packageJSON,omitempty" cbor:"13,keyasint,omitempty"`
	IsBuiltin        bool            `json:"isBuiltin,omitempty" cbor:"14,keyasint,omitempty"`
}

// namePattern validates extension names.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest reads and parses the package.json in dir.
func LoadManifest(dir string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoManifest, dir)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(dir, data)
}

// ParseManifest builds a Record from package.json bytes. dir is the
// extension directory.
func ParseManifest(dir string, data []byte) (*Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to parse manifest: invalid json in %s", dir)
	}
	doc := gjson.ParseBytes(data)

	r := &Record{
		Name:        doc.Get("name").String(),
		Publisher:   doc.Get("publisher").String(),
		DisplayName: doc.Get("displayName").String(),
		Description: doc.Get("description").String(),
		Version:     doc.Get("version").String(),
		Path:        dir,
		Entries: EntryPoints{
			Main:    doc.Get("main").String(),
			Browser: doc.Get("browser").String(),
			View:    doc.Get("view").String(),
		},
		ActivationEvents: stringArray(doc.Get("activationEvents")),
		Dependencies:     stringArray(doc.Get("extensionDependencies")),
		Capabilities:     stringArray(doc.Get("capabilities")),
		IsBuiltin:        doc.Get("isBuiltin").Bool(),
		PackageJSON:      append(json.RawMessage(nil), data...),
	}
	if c := doc.Get("contributes"); c.Exists() {
		r.Contributes = json.RawMessage(c.Raw)
	}
	if r.Version == "" {
		r.Version = "0.0.0"
	}
	r.ID = r.Name
	if r.Publisher != "" {
		r.ID = r.Publisher + "." + r.Name
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func stringArray(res gjson.Result) []string {
	if !res.IsArray() {
		return nil
	}
	arr := res.Array()
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		out = append(out, v.String())
	}
	return out
}

// Validate checks that the record is well formed.
func (r *Record) Validate() error {
	if r.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(r.Name) {
		return fmt.Errorf("%w: %s", ErrInvalidName, r.Name)
	}
	if !semverPattern.MatchString(r.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, r.Version)
	}
	if r.Entries == (EntryPoints{}) {
		return fmt.Errorf("%w: %s", ErrNoEntryPoint, r.ID)
	}
	for _, entry := range []string{r.Entries.Main, r.Entries.Browser} {
		if entry == "" {
			continue
		}
		if !IsGoEntry(entry) && filepath.Ext(entry) != ".lua" {
			return fmt.Errorf("%w: %s", ErrInvalidEntry, entry)
		}
	}
	return nil
}

// IsGoEntry reports whether entry names a Go module compiled into the host.
func IsGoEntry(entry string) bool {
	return strings.HasPrefix(entry, GoEntryPrefix)
}

// Label returns the display name, falling back to the identifier.
func (r *Record) Label() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.ID
}

// Entry returns the raw entry point declared for kind.
func (r *Record) Entry(kind HostKind) string {
	switch kind {
	case HostProcess:
		return r.Entries.Main
	case HostWorker:
		return r.Entries.Browser
	case HostView:
		return r.Entries.View
	default:
		return ""
	}
}

// EntryPath resolves the entry point for kind. Go entries are returned
// unchanged; file entries are joined with the extension path. An empty
// string means the extension has nothing to run in that host.
func (r *Record) EntryPath(kind HostKind) string {
	entry := r.Entry(kind)
	if entry == "" || IsGoEntry(entry) || filepath.IsAbs(entry) {
		return entry
	}
	return filepath.Join(r.Path, entry)
}

// HasActivationEvent reports whether the extension activates on event.
// The "*" activation event matches every event.
func (r *Record) HasActivationEvent(event string) bool {
	for _, e := range r.ActivationEvents {
		if e == "*" || e == event {
			return true
		}
	}
	return false
}

// Contribution returns a declared contribution point, e.g. "debuggers".
func (r *Record) Contribution(point string) gjson.Result {
	if len(r.Contributes) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(r.Contributes, point)
}

// DebuggerTypes returns the debug types declared under contributes.debuggers.
func (r *Record) DebuggerTypes() []string {
	return stringArray(r.Contribution("debuggers.#.type"))
}

// String returns a string representation of the record.
func (r *Record) String() string {
	return fmt.Sprintf("%s v%s", r.Label(), r.Version)
}
