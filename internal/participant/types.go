package participant

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/exthost/internal/edit"
)

// Operation is the kind of file operation being participated in.
type Operation int

// File operations.
const (
	OperationCreate Operation = iota
	OperationDelete
	OperationRename
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OperationCreate:
		return "create"
	case OperationDelete:
		return "delete"
	case OperationRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ParseOperation parses an operation name.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(s) {
	case "create":
		return OperationCreate, nil
	case "delete":
		return OperationDelete, nil
	case "rename":
		return OperationRename, nil
	default:
		return 0, fmt.Errorf("unknown file operation %q", s)
	}
}

// MarshalJSON encodes the operation as its name.
func (o Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes an operation name.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	op, err := ParseOperation(s)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// FilePair is one affected resource. Source is empty for create and delete.
type FilePair struct {
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
}

// Result is the outcome of a will-event that at least one participant
// contributed to. A nil *Result means no participation.
type Result struct {
	Edit           *edit.WorkspaceEdit `json:"edit"`
	ExtensionNames []string            `json:"extensionNames"`
}

// Merge combines per-host results. Edits are concatenated per resource and
// names are deduplicated in order. It returns nil when every input is nil.
func Merge(results ...*Result) *Result {
	var merged *Result
	for _, r := range results {
		if r == nil || r.Edit == nil {
			continue
		}
		if merged == nil {
			merged = &Result{Edit: edit.New()}
		}
		merged.Edit.Concat(r.Edit)
		merged.ExtensionNames = appendUnique(merged.ExtensionNames, r.ExtensionNames...)
	}
	return merged
}

func appendUnique(dst []string, names ...string) []string {
	for _, n := range names {
		dup := false
		for _, d := range dst {
			if d == n {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, n)
		}
	}
	return dst
}
