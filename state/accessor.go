package state

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Accessor is the validating write surface actions and systems receive. Every
// write resolves its full path against the schema table before touching the
// tree, so there is no wrapper cache to invalidate when a subtree is replaced:
// the path is re-resolved on every call.
//
// The accessor also records which top-level entities were written during the
// current action, feeding the cross-entity mutation diagnostic. Tracking never
// blocks a write.
type Accessor struct {
	root    Tree
	table   *Table
	touched map[string]struct{}
}

// PathError reports a structurally impossible navigation (e.g. indexing into
// a string).
type PathError struct {
	Path   []string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path %s: %s", strings.Join(e.Path, "."), e.Reason)
}

func NewAccessor(root Tree, table *Table) *Accessor {
	return &Accessor{root: root, table: table, touched: make(map[string]struct{})}
}

// Root exposes the underlying tree. Reads through it are unvalidated.
func (a *Accessor) Root() Tree {
	return a.root
}

// Get resolves a path, returning false when any segment is missing. Array
// segments are decimal indices.
func (a *Accessor) Get(path ...string) (any, bool) {
	var current any = a.root
	for _, segment := range path {
		switch container := current.(type) {
		case map[string]any:
			child, ok := container[segment]
			if !ok {
				return nil, false
			}
			current = child
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(container) {
				return nil, false
			}
			current = container[index]
		default:
			return nil, false
		}
	}
	return current, true
}

// GetNumber resolves a path to a float64.
func (a *Accessor) GetNumber(path ...string) (float64, bool) {
	value, ok := a.Get(path...)
	if !ok {
		return 0, false
	}
	number, ok := normalizeScalar(value).(float64)
	return number, ok
}

// GetString resolves a path to a string.
func (a *Accessor) GetString(path ...string) (string, bool) {
	value, ok := a.Get(path...)
	if !ok {
		return "", false
	}
	text, ok := value.(string)
	return text, ok
}

// Set validates the value against the schema and writes it, creating
// intermediate objects as needed. Numeric rule breaches clamp unless the rule
// is strict, in which case the write is refused with a *Violation.
func (a *Accessor) Set(value any, path ...string) error {
	if len(path) == 0 {
		return &PathError{Path: path, Reason: "empty path"}
	}
	if rule, ok := a.table.Match(path); ok {
		validated, err := ValidateValue(rule, path, value)
		if err != nil {
			return err
		}
		value = Clone(validated)
	} else {
		value = Clone(value)
	}
	parent, err := a.ensureParent(path)
	if err != nil {
		return err
	}
	parent[path[len(path)-1]] = value
	a.markTouched(path)
	return nil
}

// Delete removes the value at path. Deleting a missing path is a no-op.
func (a *Accessor) Delete(path ...string) error {
	if len(path) == 0 {
		return &PathError{Path: path, Reason: "empty path"}
	}
	parentValue, ok := a.Get(path[:len(path)-1]...)
	if !ok {
		return nil
	}
	parent, ok := parentValue.(map[string]any)
	if !ok {
		return &PathError{Path: path, Reason: "parent is not an object"}
	}
	delete(parent, path[len(path)-1])
	a.markTouched(path)
	return nil
}

// Push appends to the array at path, creating it when absent.
func (a *Accessor) Push(value any, path ...string) error {
	if len(path) == 0 {
		return &PathError{Path: path, Reason: "empty path"}
	}
	parent, err := a.ensureParent(path)
	if err != nil {
		return err
	}
	key := path[len(path)-1]
	existing, ok := parent[key]
	if !ok {
		parent[key] = []any{Clone(value)}
		a.markTouched(path)
		return nil
	}
	array, ok := existing.([]any)
	if !ok {
		return &PathError{Path: path, Reason: "target is not an array"}
	}
	parent[key] = append(array, Clone(value))
	a.markTouched(path)
	return nil
}

func (a *Accessor) ensureParent(path []string) (map[string]any, error) {
	var current any = a.root
	for _, segment := range path[:len(path)-1] {
		container, ok := current.(map[string]any)
		if !ok {
			return nil, &PathError{Path: path, Reason: fmt.Sprintf("segment %q is not an object", segment)}
		}
		child, ok := container[segment]
		if !ok {
			child = make(map[string]any)
			container[segment] = child
		}
		current = child
	}
	container, ok := current.(map[string]any)
	if !ok {
		return nil, &PathError{Path: path, Reason: "parent is not an object"}
	}
	return container, nil
}

func (a *Accessor) markTouched(path []string) {
	if len(path) == 0 {
		return
	}
	key := path[0]
	if len(path) >= 2 {
		key = path[0] + "/" + path[1]
	}
	a.touched[key] = struct{}{}
}

// Touched lists the top-level entities written since the last reset, sorted
// for stable diagnostics.
func (a *Accessor) Touched() []string {
	if len(a.touched) == 0 {
		return nil
	}
	keys := make([]string, 0, len(a.touched))
	for key := range a.touched {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ResetTouched clears the tracking set between actions.
func (a *Accessor) ResetTouched() {
	for key := range a.touched {
		delete(a.touched, key)
	}
}
