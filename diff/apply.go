package diff

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"netplay/state"
)

// errElementGone marks a navigation step that failed because an
// identity-addressed element no longer exists. The batch skips the patch
// instead of failing.
var errElementGone = errors.New("identity-addressed element gone")

// ApplyError reports a structurally failed patch: the addressed container is
// missing or has the wrong shape. Callers escalate it to a full resync.
type ApplyError struct {
	Patch  Patch
	Reason string
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s %s: %s", e.Patch.Op, strings.Join(e.Patch.Path, "."), e.Reason)
}

// ApplyResult summarizes one batch application. Skipped holds
// identity-addressed patches whose element was already gone; an identity
// lookup miss must never degrade to an index-based mutation of the wrong
// element.
type ApplyResult struct {
	Applied int
	Skipped []Patch
}

// Apply mutates root in place with the given patch batch, in order.
func Apply(root state.Tree, patches []Patch) (ApplyResult, error) {
	result := ApplyResult{}
	for _, patch := range patches {
		skipped, err := applyOne(root, patch)
		if errors.Is(err, errElementGone) {
			skipped = true
			err = nil
		}
		if err != nil {
			return result, err
		}
		if skipped {
			result.Skipped = append(result.Skipped, patch)
			continue
		}
		result.Applied++
	}
	return result, nil
}

func applyOne(root state.Tree, patch Patch) (skipped bool, err error) {
	switch patch.Op {
	case OpSet:
		if patch.ID != "" {
			return applyKeyedSet(root, patch)
		}
		return applyMapSet(root, patch)
	case OpDelete:
		if patch.ID != "" {
			return applyKeyedDelete(root, patch)
		}
		return applyMapDelete(root, patch)
	case OpPush:
		return false, applyPush(root, patch)
	case OpSplice:
		return applySplice(root, patch)
	default:
		return false, &ApplyError{Patch: patch, Reason: "unknown op"}
	}
}

func applyMapSet(root state.Tree, patch Patch) (bool, error) {
	if len(patch.Path) == 0 {
		return false, &ApplyError{Patch: patch, Reason: "empty path"}
	}
	parent, err := navigate(root, patch.Path[:len(patch.Path)-1], patch, true)
	if err != nil {
		return false, err
	}
	last := patch.Path[len(patch.Path)-1]
	switch container := parent.(type) {
	case map[string]any:
		container[last] = state.Clone(patch.Value)
		return false, nil
	case []any:
		element, ok := resolveElement(container, last)
		if !ok {
			// Replacing a vanished element is a stale write, not a fault.
			return true, nil
		}
		object, isObject := container[element].(map[string]any)
		replacement, replacementIsObject := patch.Value.(map[string]any)
		if isObject && replacementIsObject {
			replaceContents(object, replacement)
			return false, nil
		}
		container[element] = state.Clone(patch.Value)
		return false, nil
	default:
		return false, &ApplyError{Patch: patch, Reason: "parent is not a container"}
	}
}

func applyKeyedSet(root state.Tree, patch Patch) (bool, error) {
	array, parent, key, err := arrayAt(root, patch)
	if err != nil {
		return false, err
	}
	for index, element := range array {
		if elementID(element) == patch.ID {
			array[index] = state.Clone(patch.Value)
			return false, nil
		}
	}
	// New element. Honor the advisory index when it fits, append otherwise.
	value := state.Clone(patch.Value)
	if patch.Index >= 0 && patch.Index < len(array) {
		array = append(array[:patch.Index], append([]any{value}, array[patch.Index:]...)...)
	} else {
		array = append(array, value)
	}
	parent[key] = array
	return false, nil
}

func applyMapDelete(root state.Tree, patch Patch) (bool, error) {
	if len(patch.Path) == 0 {
		return false, &ApplyError{Patch: patch, Reason: "empty path"}
	}
	parent, err := navigate(root, patch.Path[:len(patch.Path)-1], patch, false)
	if err != nil {
		return false, err
	}
	last := patch.Path[len(patch.Path)-1]
	switch container := parent.(type) {
	case map[string]any:
		delete(container, last)
		return false, nil
	case []any:
		index, ok := resolveElement(container, last)
		if !ok {
			// Removing a vanished element is a stale delete, not a fault.
			return true, nil
		}
		if len(patch.Path) < 2 {
			return false, &ApplyError{Patch: patch, Reason: "array delete needs a parent object"}
		}
		holderValue, err := navigate(root, patch.Path[:len(patch.Path)-2], patch, false)
		if err != nil {
			return false, err
		}
		holder, isObject := holderValue.(map[string]any)
		if !isObject {
			return false, &ApplyError{Patch: patch, Reason: "array parent is not an object"}
		}
		holder[patch.Path[len(patch.Path)-2]] = append(container[:index], container[index+1:]...)
		return false, nil
	default:
		return false, &ApplyError{Patch: patch, Reason: "parent is not a container"}
	}
}

func applyKeyedDelete(root state.Tree, patch Patch) (bool, error) {
	array, parent, key, err := arrayAt(root, patch)
	if err != nil {
		return false, err
	}
	for index, element := range array {
		if elementID(element) == patch.ID {
			parent[key] = append(array[:index], array[index+1:]...)
			return false, nil
		}
	}
	// Identity miss: skip. Never fall through to index-based deletion.
	return true, nil
}

func applyPush(root state.Tree, patch Patch) error {
	array, parent, key, err := arrayAt(root, patch)
	if err != nil {
		return err
	}
	parent[key] = append(array, state.Clone(patch.Value))
	return nil
}

func applySplice(root state.Tree, patch Patch) (bool, error) {
	array, parent, key, err := arrayAt(root, patch)
	if err != nil {
		return false, err
	}
	if patch.ID != "" {
		for index, element := range array {
			if elementID(element) == patch.ID {
				parent[key] = append(array[:index], array[index+1:]...)
				return false, nil
			}
		}
		return true, nil
	}
	if patch.Index < 0 || patch.Index >= len(array) {
		return false, &ApplyError{Patch: patch, Reason: fmt.Sprintf("splice index %d out of range %d", patch.Index, len(array))}
	}
	parent[key] = append(array[:patch.Index], array[patch.Index+1:]...)
	return false, nil
}

// arrayAt resolves the array addressed by the full patch path, returning it
// together with its parent object and key so callers can store a reslice.
func arrayAt(root state.Tree, patch Patch) ([]any, map[string]any, string, error) {
	if len(patch.Path) == 0 {
		return nil, nil, "", &ApplyError{Patch: patch, Reason: "empty path"}
	}
	parentValue, err := navigate(root, patch.Path[:len(patch.Path)-1], patch, false)
	if err != nil {
		return nil, nil, "", err
	}
	parent, ok := parentValue.(map[string]any)
	if !ok {
		return nil, nil, "", &ApplyError{Patch: patch, Reason: "array parent is not an object"}
	}
	key := patch.Path[len(patch.Path)-1]
	existing, ok := parent[key]
	if !ok {
		parent[key] = []any{}
		return []any{}, parent, key, nil
	}
	array, ok := existing.([]any)
	if !ok {
		return nil, nil, "", &ApplyError{Patch: patch, Reason: "target is not an array"}
	}
	return array, parent, key, nil
}

// navigate walks the path, resolving array segments identity-first and only
// falling back to a numeric index for identity-less arrays.
func navigate(root state.Tree, path []string, patch Patch, create bool) (any, error) {
	var current any = root
	for _, segment := range path {
		switch container := current.(type) {
		case map[string]any:
			child, ok := container[segment]
			if !ok {
				if !create {
					return nil, &ApplyError{Patch: patch, Reason: fmt.Sprintf("missing segment %q", segment)}
				}
				child = make(map[string]any)
				container[segment] = child
			}
			current = child
		case []any:
			if _, keyed := identityIndex(container); keyed {
				index, ok := resolveElement(container, segment)
				if !ok {
					return nil, errElementGone
				}
				current = container[index]
				continue
			}
			index, ok := resolveElement(container, segment)
			if !ok {
				return nil, &ApplyError{Patch: patch, Reason: fmt.Sprintf("unresolvable array segment %q", segment)}
			}
			current = container[index]
		default:
			return nil, &ApplyError{Patch: patch, Reason: fmt.Sprintf("segment %q is not a container", segment)}
		}
	}
	return current, nil
}

// resolveElement finds the array position a path segment addresses. Identity
// lookup wins; the numeric fallback only applies to arrays without ids.
func resolveElement(array []any, segment string) (int, bool) {
	if _, keyed := identityIndex(array); keyed {
		for index, element := range array {
			if elementID(element) == segment {
				return index, true
			}
		}
		return 0, false
	}
	index, err := strconv.Atoi(segment)
	if err != nil || index < 0 || index >= len(array) {
		return 0, false
	}
	return index, true
}

func replaceContents(target, replacement map[string]any) {
	for key := range target {
		if _, keep := replacement[key]; !keep {
			delete(target, key)
		}
	}
	for key, value := range replacement {
		target[key] = state.Clone(value)
	}
}
