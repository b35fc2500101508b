package domain

import (
	"reflect"
	"sort"
)

// Action classifies a committed mutation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// EventSuffix returns the topic fragment for the action, e.g. "created" so
// events publish as "item.created".
func (a Action) EventSuffix() string {
	switch a {
	case ActionCreate:
		return "created"
	case ActionUpdate:
		return "updated"
	case ActionDelete:
		return "deleted"
	}
	return string(a)
}

// FieldChange records one field-level difference between the pre- and
// post-mutation snapshots of an entity.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// ChangeSet is an ordered list of field changes, sorted by field name so two
// computations over the same snapshots compare equal.
type ChangeSet []FieldChange

// Diff computes the changes a patch applied to an entity's fields. Only keys
// present in the patch are considered; keys whose value did not change are
// omitted.
func Diff(before, after map[string]any, patch map[string]any) ChangeSet {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var cs ChangeSet
	for _, k := range keys {
		old, new := before[k], after[k]
		if reflect.DeepEqual(old, new) {
			continue
		}
		cs = append(cs, FieldChange{Field: k, Old: old, New: new})
	}
	return cs
}

// DiffAll records every field of the pre-image as removed. Used for deletes,
// where the post-image is empty.
func DiffAll(before map[string]any) ChangeSet {
	keys := make([]string, 0, len(before))
	for k := range before {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cs := make(ChangeSet, 0, len(keys))
	for _, k := range keys {
		cs = append(cs, FieldChange{Field: k, Old: before[k], New: nil})
	}
	return cs
}
