// Package diff computes minimal patch sets between two JSON-shaped state
// trees and applies them. Collections whose elements carry a stable "id"
// field are addressed by identity; identity-less arrays fall back to index
// addressing.
package diff

import (
	"sort"
	"strconv"

	"netplay/state"
)

// Op identifies a patch operation.
type Op string

const (
	OpSet    Op = "set"
	OpDelete Op = "delete"
	OpPush   Op = "push"
	OpSplice Op = "splice"
)

// Patch is one incremental mutation. Path segments are plain strings, never
// dotted, so keys containing separators stay unambiguous. When the patch
// addresses an element of an identity-keyed array, ID carries the element's
// id and Index is advisory only.
type Patch struct {
	Op    Op       `json:"op"`
	Path  []string `json:"path"`
	Value any      `json:"value,omitempty"`
	Index int      `json:"index,omitempty"`
	ID    string   `json:"id,omitempty"`
}

// idField is the collection identity key.
const idField = "id"

// Generate computes the patches that transform old into new. Object keys are
// visited in sorted order so two replicas diffing equal pairs emit identical
// patch sequences.
func Generate(old, new state.Tree) []Patch {
	var patches []Patch
	diffValue(old, new, nil, &patches)
	return patches
}

func diffValue(old, new any, path []string, out *[]Patch) {
	oldMap, oldIsMap := old.(map[string]any)
	newMap, newIsMap := new.(map[string]any)
	if oldIsMap && newIsMap {
		diffObject(oldMap, newMap, path, out)
		return
	}
	oldArr, oldIsArr := old.([]any)
	newArr, newIsArr := new.([]any)
	if oldIsArr && newIsArr {
		diffArray(oldArr, newArr, path, out)
		return
	}
	if !state.Equal(old, new) {
		*out = append(*out, Patch{Op: OpSet, Path: clonePath(path), Value: state.Clone(new)})
	}
}

func diffObject(old, new map[string]any, path []string, out *[]Patch) {
	keys := make(map[string]struct{}, len(old)+len(new))
	for key := range old {
		keys[key] = struct{}{}
	}
	for key := range new {
		keys[key] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for key := range keys {
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	for _, key := range sorted {
		childPath := append(path, key)
		oldChild, inOld := old[key]
		newChild, inNew := new[key]
		switch {
		case inOld && !inNew:
			*out = append(*out, Patch{Op: OpDelete, Path: clonePath(childPath)})
		case !inOld && inNew:
			*out = append(*out, Patch{Op: OpSet, Path: clonePath(childPath), Value: state.Clone(newChild)})
		default:
			diffValue(oldChild, newChild, childPath, out)
		}
	}
}

func diffArray(old, new []any, path []string, out *[]Patch) {
	oldIDs, oldKeyed := identityIndex(old)
	newIDs, newKeyed := identityIndex(new)
	// An empty side inherits the other side's keyedness, so emptying a keyed
	// collection still addresses the removals by id.
	if len(old) == 0 && newKeyed {
		oldIDs, oldKeyed = map[string]int{}, true
	}
	if len(new) == 0 && oldKeyed {
		newIDs, newKeyed = map[string]int{}, true
	}
	switch {
	case oldKeyed && newKeyed:
		diffKeyedArray(old, new, oldIDs, newIDs, path, out)
	case oldKeyed:
		// Elements lost their ids. Remove the old ones by identity, then
		// rebuild from the new contents.
		removed := make([]string, 0, len(oldIDs))
		for id := range oldIDs {
			removed = append(removed, id)
		}
		sort.Strings(removed)
		for _, id := range removed {
			*out = append(*out, Patch{Op: OpDelete, Path: clonePath(path), ID: id})
		}
		for _, element := range new {
			*out = append(*out, Patch{Op: OpPush, Path: clonePath(path), Value: state.Clone(element)})
		}
	case newKeyed:
		// The old elements carry no ids to address removals with; replace the
		// collection wholesale.
		*out = append(*out, Patch{Op: OpSet, Path: clonePath(path), Value: state.Clone(new)})
	default:
		diffIndexArray(old, new, path, out)
	}
}

func diffIndexArray(old, new []any, path []string, out *[]Patch) {
	common := len(old)
	if len(new) < common {
		common = len(new)
	}
	for i := 0; i < common; i++ {
		diffValue(old[i], new[i], append(path, strconv.Itoa(i)), out)
	}
	for i := common; i < len(new); i++ {
		*out = append(*out, Patch{Op: OpPush, Path: clonePath(path), Value: state.Clone(new[i])})
	}
	// Remove trailing elements from the end down so indices stay valid while
	// the receiver applies the batch in order.
	for i := len(old) - 1; i >= common; i-- {
		*out = append(*out, Patch{Op: OpDelete, Path: append(clonePath(path), strconv.Itoa(i))})
	}
}

func diffKeyedArray(old, new []any, oldIDs, newIDs map[string]int, path []string, out *[]Patch) {
	removed := make([]string, 0)
	for id := range oldIDs {
		if _, stillThere := newIDs[id]; !stillThere {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	for _, id := range removed {
		*out = append(*out, Patch{Op: OpDelete, Path: clonePath(path), ID: id})
	}

	// Retained ids in old order. The walk below matches new against this
	// sequence in place; an element that cannot be matched has moved and is
	// re-inserted at its new position.
	retained := make([]string, 0, len(old))
	for _, element := range old {
		if _, kept := newIDs[elementID(element)]; kept {
			retained = append(retained, elementID(element))
		}
	}
	moved := make(map[string]bool)
	cursor := 0

	// Walk new in element order so insertions replay in the order the host
	// produced them.
	for index, element := range new {
		id := elementID(element)
		oldIndex, existed := oldIDs[id]
		if !existed {
			*out = append(*out, Patch{Op: OpSet, Path: clonePath(path), ID: id, Index: index, Value: state.Clone(element)})
			continue
		}
		for cursor < len(retained) && moved[retained[cursor]] {
			cursor++
		}
		if cursor < len(retained) && retained[cursor] == id {
			cursor++
			diffValue(old[oldIndex], element, append(path, id), out)
			continue
		}
		moved[id] = true
		*out = append(*out, Patch{Op: OpSplice, Path: clonePath(path), ID: id})
		*out = append(*out, Patch{Op: OpSet, Path: clonePath(path), ID: id, Index: index, Value: state.Clone(element)})
	}
}

// identityIndex maps element ids to their index when every element of the
// array is an object carrying a stable string id. A single element without an
// id disables identity addressing for the whole collection.
func identityIndex(array []any) (map[string]int, bool) {
	if len(array) == 0 {
		return nil, false
	}
	ids := make(map[string]int, len(array))
	for index, element := range array {
		id := elementID(element)
		if id == "" {
			return nil, false
		}
		if _, duplicate := ids[id]; duplicate {
			return nil, false
		}
		ids[id] = index
	}
	return ids, true
}

func elementID(element any) string {
	object, ok := element.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := object[idField].(string)
	return id
}

func clonePath(path []string) []string {
	cloned := make([]string, len(path))
	copy(cloned, path)
	return cloned
}
