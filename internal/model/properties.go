package model

import (
	"reflect"
	"sort"
)

// Properties is an open-ended set of named values used for change detection.
type Properties map[string]any

// Names returns the property names in sorted order.
func (p Properties) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Differs reports whether any property was added, removed or changed
// between old and p.
func (p Properties) Differs(old Properties) bool {
	if len(p) != len(old) {
		return true
	}
	for name, v := range p {
		ov, ok := old[name]
		if !ok || PropertyChanged(v, ov) {
			return true
		}
	}
	return false
}

// PropertyChanged compares two property values. Slices and arrays are
// compared element-wise.
func PropertyChanged(newValue, oldValue any) bool {
	if newValue == nil || oldValue == nil {
		return newValue != oldValue
	}
	nv, ov := reflect.ValueOf(newValue), reflect.ValueOf(oldValue)
	switch nv.Kind() {
	case reflect.Slice, reflect.Array:
		if nv.Type() != ov.Type() || nv.Len() != ov.Len() {
			return true
		}
		for i := 0; i < nv.Len(); i++ {
			if PropertyChanged(nv.Index(i).Interface(), ov.Index(i).Interface()) {
				return true
			}
		}
		return false
	case reflect.Map:
		return !reflect.DeepEqual(newValue, oldValue)
	}
	// Comparable checks the dynamic values, so a struct holding a slice in an
	// interface field does not panic on ==
	if nv.Type() != ov.Type() || !nv.Comparable() || !ov.Comparable() {
		return !reflect.DeepEqual(newValue, oldValue)
	}
	return newValue != oldValue
}
