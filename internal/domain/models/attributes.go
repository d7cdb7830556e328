package models

import (
	"encoding/json"
	"strings"
)

// KeyAttribute is one name/value pair attached to a key or a signature request.
type KeyAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Attributes is an insertion-ordered map of key attributes. Names are matched
// case-insensitively for every operation; the most recent Set wins.
// The zero value is ready to use.
type Attributes struct {
	order  []string
	values map[string]KeyAttribute
}

// NewAttributes builds Attributes from a list, later entries overwriting earlier ones.
func NewAttributes(attrs ...KeyAttribute) Attributes {
	var a Attributes
	for _, attr := range attrs {
		a.Set(attr.Name, attr.Value)
	}
	return a
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Set adds or replaces the attribute. Replacing keeps the original position
// and the most recent spelling of the name.
func (a *Attributes) Set(name, value string) {
	key := normalizeName(name)
	if key == "" {
		return
	}
	if a.values == nil {
		a.values = make(map[string]KeyAttribute)
	}
	if _, ok := a.values[key]; !ok {
		a.order = append(a.order, key)
	}
	a.values[key] = KeyAttribute{Name: name, Value: value}
}

// Get returns the value of the attribute.
func (a Attributes) Get(name string) (string, bool) {
	attr, ok := a.values[normalizeName(name)]
	return attr.Value, ok
}

// Value returns the attribute value or "".
func (a Attributes) Value(name string) string {
	v, _ := a.Get(name)
	return v
}

// Remove deletes the attribute and reports whether it existed.
func (a *Attributes) Remove(name string) bool {
	key := normalizeName(name)
	if _, ok := a.values[key]; !ok {
		return false
	}
	delete(a.values, key)
	for i, k := range a.order {
		if k == key {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of attributes.
func (a Attributes) Len() int { return len(a.order) }

// List returns the attributes in insertion order.
func (a Attributes) List() []KeyAttribute {
	out := make([]KeyAttribute, 0, len(a.order))
	for _, k := range a.order {
		out = append(out, a.values[k])
	}
	return out
}

// Clone returns an independent copy.
func (a Attributes) Clone() Attributes {
	return NewAttributes(a.List()...)
}

// MarshalJSON encodes the attributes as a list of {name, value} objects.
func (a Attributes) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.List())
}

// UnmarshalJSON decodes a list of {name, value} objects. Duplicate names
// collapse to the last occurrence.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var list []KeyAttribute
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*a = NewAttributes(list...)
	return nil
}
