package models

import "sort"

// FieldSnapshot maps form field names to their current values.
type FieldSnapshot map[string]string

// With returns a copy of the snapshot with one field overridden.
// The receiver is left untouched.
func (s FieldSnapshot) With(field, value string) FieldSnapshot {
	out := make(FieldSnapshot, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out[field] = value
	return out
}

// Names returns the field names in sorted order (for logging).
func (s FieldSnapshot) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
