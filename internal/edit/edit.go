// Package edit models workspace edits contributed by extensions.
//
// A WorkspaceEdit is an ordered list of per-resource text edit groups.
// Merging two workspace edits concatenates their edits per resource, so an
// edit contributed by one extension is never replaced by another
// extension's edit to the same resource.
package edit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrOverlap is returned when edits to one resource overlap.
var ErrOverlap = errors.New("overlapping edits")

// ErrOutOfRange is returned when an edit position lies outside the text.
var ErrOutOfRange = errors.New("edit position out of range")

// Position is a zero-based line and character offset.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Before reports whether p sorts before o.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// IsEmpty reports whether the range has zero width.
func (r Range) IsEmpty() bool {
	return r.Start == r.End
}

// TextEdit replaces Range with NewText.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// ResourceEdit groups the text edits made to one resource.
type ResourceEdit struct {
	Resource string     `json:"resource"`
	Edits    []TextEdit `json:"edits"`
}

// WorkspaceEdit is an ordered set of resource edits.
type WorkspaceEdit struct {
	Entries []ResourceEdit `json:"entries"`
}

// New returns an empty workspace edit.
func New() *WorkspaceEdit {
	return &WorkspaceEdit{}
}

// Add appends e to the edits of resource.
func (w *WorkspaceEdit) Add(resource string, e TextEdit) *WorkspaceEdit {
	for i := range w.Entries {
		if w.Entries[i].Resource == resource {
			w.Entries[i].Edits = append(w.Entries[i].Edits, e)
			return w
		}
	}
	w.Entries = append(w.Entries, ResourceEdit{Resource: resource, Edits: []TextEdit{e}})
	return w
}

// Insert adds an insertion of text at pos.
func (w *WorkspaceEdit) Insert(resource string, pos Position, text string) *WorkspaceEdit {
	return w.Add(resource, TextEdit{Range: Range{Start: pos, End: pos}, NewText: text})
}

// Replace adds a replacement of r with text.
func (w *WorkspaceEdit) Replace(resource string, r Range, text string) *WorkspaceEdit {
	return w.Add(resource, TextEdit{Range: r, NewText: text})
}

// Delete adds a deletion of r.
func (w *WorkspaceEdit) Delete(resource string, r Range) *WorkspaceEdit {
	return w.Add(resource, TextEdit{Range: r})
}

// Concat appends every edit of other to w, resource by resource.
func (w *WorkspaceEdit) Concat(other *WorkspaceEdit) *WorkspaceEdit {
	if other == nil {
		return w
	}
	for _, entry := range other.Entries {
		for _, e := range entry.Edits {
			w.Add(entry.Resource, e)
		}
	}
	return w
}

// Resources returns the edited resources in first-edit order.
func (w *WorkspaceEdit) Resources() []string {
	out := make([]string, 0, len(w.Entries))
	for _, entry := range w.Entries {
		out = append(out, entry.Resource)
	}
	return out
}

// EditsFor returns the edits for resource in insertion order.
func (w *WorkspaceEdit) EditsFor(resource string) []TextEdit {
	for _, entry := range w.Entries {
		if entry.Resource == resource {
			return append([]TextEdit(nil), entry.Edits...)
		}
	}
	return nil
}

// Size returns the total number of text edits.
func (w *WorkspaceEdit) Size() int {
	n := 0
	for _, entry := range w.Entries {
		n += len(entry.Edits)
	}
	return n
}

// Clone returns a deep copy.
func (w *WorkspaceEdit) Clone() *WorkspaceEdit {
	return New().Concat(w)
}

// From reports whether v is structurally a workspace edit and returns it.
func From(v any) (*WorkspaceEdit, bool) {
	switch e := v.(type) {
	case *WorkspaceEdit:
		return e, e != nil
	case WorkspaceEdit:
		return &e, true
	default:
		return nil, false
	}
}

// Apply applies edits to text and returns the result.
//
// Positions refer to the original text. Edits are applied in position
// order; edits starting at the same position keep their relative order, so
// two insertions at one offset appear in the order they were added.
func Apply(text string, edits []TextEdit) (string, error) {
	if len(edits) == 0 {
		return text, nil
	}

	lineStarts := indexLines(text)

	type span struct {
		start, end int
		text       string
	}
	spans := make([]span, len(edits))
	for i, e := range edits {
		start, err := offsetOf(text, lineStarts, e.Range.Start)
		if err != nil {
			return "", err
		}
		end, err := offsetOf(text, lineStarts, e.Range.End)
		if err != nil {
			return "", err
		}
		if end < start {
			return "", fmt.Errorf("%w: end before start", ErrOutOfRange)
		}
		spans[i] = span{start: start, end: end, text: e.NewText}
	}

	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].start < spans[j].start
	})

	var b strings.Builder
	cursor := 0
	for _, s := range spans {
		if s.start < cursor {
			return "", fmt.Errorf("%w at offset %d", ErrOverlap, s.start)
		}
		b.WriteString(text[cursor:s.start])
		b.WriteString(s.text)
		cursor = s.end
	}
	b.WriteString(text[cursor:])
	return b.String(), nil
}

func indexLines(text string) []int {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func offsetOf(text string, lineStarts []int, p Position) (int, error) {
	if p.Line < 0 || p.Line >= len(lineStarts) || p.Character < 0 {
		return 0, fmt.Errorf("%w: %d:%d", ErrOutOfRange, p.Line, p.Character)
	}
	lineEnd := len(text)
	if p.Line+1 < len(lineStarts) {
		lineEnd = lineStarts[p.Line+1] - 1
		// CRLF: the line content ends before the '\r'.
		if lineEnd > lineStarts[p.Line] && text[lineEnd-1] == '\r' {
			lineEnd--
		}
	}
	off := lineStarts[p.Line] + p.Character
	if off > lineEnd {
		return 0, fmt.Errorf("%w: %d:%d", ErrOutOfRange, p.Line, p.Character)
	}
	return off, nil
}
