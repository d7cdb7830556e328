package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// KeyURIScheme prefixes every serialized KeyURI.
const KeyURIScheme = "keyuri:key?"

// KeyURI attribute names.
const (
	KeyURIName           = "name"
	KeyURISscd           = "sscd"
	KeyURICountry        = "country"
	KeyURIProvider       = "provider"
	KeyURIKeyAlgorithm   = "key-algorithm"
	KeyURICreated        = "created"
	KeyURILoa            = "loa"
	KeyURIMsisdn         = "msisdn"
	KeyURISerial         = "serial"
	KeyURIIdentityScheme = "identity-scheme"
)

// keyURIAttributeNames lists the key attributes copied into a derived KeyURI.
var keyURIAttributeNames = []string{KeyURIMsisdn, KeyURISerial, KeyURIIdentityScheme}

// KeyURI is a canonical multi-attribute key identifier of the form
// keyuri:key?name=a,sscd=b,... Values may contain ',' '=' or '\' escaped with '\'.
// Two KeyURIs are equal when their attribute maps are equal, regardless of order.
type KeyURI struct {
	order []string
	attrs map[string]string
}

// IsKeyURIAttribute reports whether a key attribute of this name is mirrored into the KeyURI.
func IsKeyURIAttribute(name string) bool {
	return slices.Contains(keyURIAttributeNames, strings.ToLower(strings.TrimSpace(name)))
}

// NewKeyURI builds a KeyURI from name/value pairs given in order. Empty values are dropped.
func NewKeyURI(pairs ...[2]string) KeyURI {
	var u KeyURI
	for _, p := range pairs {
		u = u.With(p[0], p[1])
	}
	return u
}

// DeriveKeyURI computes the KeyURI of a key held by sscd.
func DeriveKeyURI(key *MusapKey, sscd *SscdInfo) KeyURI {
	pairs := [][2]string{{KeyURIName, key.KeyAlias}}
	if sscd != nil {
		pairs = append(pairs,
			[2]string{KeyURISscd, sscd.Name},
			[2]string{KeyURICountry, sscd.Country},
			[2]string{KeyURIProvider, sscd.Provider},
		)
	}
	if !key.Algorithm.IsZero() {
		pairs = append(pairs, [2]string{KeyURIKeyAlgorithm, key.Algorithm.Primitive})
	}
	if !key.CreatedDate.IsZero() {
		pairs = append(pairs, [2]string{KeyURICreated, key.CreatedDate.UTC().Format("2006-01-02")})
	}
	if len(key.Loa) > 0 {
		loas := make([]string, 0, len(key.Loa))
		for _, l := range key.Loa {
			loas = append(loas, l.Loa)
		}
		pairs = append(pairs, [2]string{KeyURILoa, strings.Join(loas, "|")})
	}
	for _, name := range keyURIAttributeNames {
		if v, ok := key.Attributes.Get(name); ok {
			pairs = append(pairs, [2]string{name, v})
		}
	}
	return NewKeyURI(pairs...)
}

// With returns a copy with name set to value. An empty value removes the attribute.
func (u KeyURI) With(name, value string) KeyURI {
	name = strings.ToLower(strings.TrimSpace(name))
	out := KeyURI{attrs: make(map[string]string, len(u.attrs)+1)}
	for _, k := range u.order {
		if k == name {
			continue
		}
		out.order = append(out.order, k)
		out.attrs[k] = u.attrs[k]
	}
	if name != "" && value != "" {
		out.order = append(out.order, name)
		out.attrs[name] = value
	}
	return out
}

// Get returns the value of the attribute.
func (u KeyURI) Get(name string) (string, bool) {
	v, ok := u.attrs[strings.ToLower(name)]
	return v, ok
}

// Len returns the number of attributes.
func (u KeyURI) Len() int { return len(u.order) }

// IsZero reports whether the URI has no attributes.
func (u KeyURI) IsZero() bool { return len(u.order) == 0 }

// Equal compares attribute maps.
func (u KeyURI) Equal(other KeyURI) bool {
	if len(u.attrs) != len(other.attrs) {
		return false
	}
	for k, v := range u.attrs {
		if ov, ok := other.attrs[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Matches reports whether every attribute of u is present with the same value in other.
func (u KeyURI) Matches(other KeyURI) bool {
	for k, v := range u.attrs {
		if ov, ok := other.attrs[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// String serializes the URI keeping attribute order.
func (u KeyURI) String() string {
	if u.IsZero() {
		return ""
	}
	var b strings.Builder
	b.WriteString(KeyURIScheme)
	for i, k := range u.order {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeKeyURI(k))
		b.WriteByte('=')
		b.WriteString(escapeKeyURI(u.attrs[k]))
	}
	return b.String()
}

// ParseKeyURI decodes a KeyURI. Attributes without '=' or with an empty name
// are skipped and returned in skipped; an unknown scheme is an error.
func ParseKeyURI(s string) (uri KeyURI, skipped []string, err error) {
	if s == "" {
		return KeyURI{}, nil, nil
	}
	body, ok := strings.CutPrefix(s, KeyURIScheme)
	if !ok {
		return KeyURI{}, nil, fmt.Errorf("key uri %q does not start with %q", s, KeyURIScheme)
	}
	for _, part := range splitUnescaped(body, ',') {
		kv := splitUnescaped(part, '=')
		if len(kv) != 2 || kv[0] == "" {
			if part != "" {
				skipped = append(skipped, part)
			}
			continue
		}
		uri = uri.With(unescapeKeyURI(kv[0]), unescapeKeyURI(kv[1]))
	}
	return uri, skipped, nil
}

// ParseKeyURIStrict is ParseKeyURI that rejects any malformed attribute.
func ParseKeyURIStrict(s string) (KeyURI, error) {
	uri, skipped, err := ParseKeyURI(s)
	if err != nil {
		return KeyURI{}, err
	}
	if len(skipped) > 0 {
		return KeyURI{}, fmt.Errorf("malformed key uri attributes: %v", skipped)
	}
	return uri, nil
}

// MarshalJSON encodes the URI as its string form.
func (u KeyURI) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON decodes the string form, skipping malformed attributes.
func (u *KeyURI) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, _, err := ParseKeyURI(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

func escapeKeyURI(s string) string {
	if !strings.ContainsAny(s, `\,=`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if r == '\\' || r == ',' || r == '=' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func unescapeKeyURI(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if !escaped && r == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

// splitUnescaped splits s on sep, ignoring separators preceded by '\'.
// The returned parts keep their escapes. For sep '=' only the first
// unescaped separator splits.
func splitUnescaped(s string, sep rune) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
			cur.WriteRune(r)
		case r == '\\':
			escaped = true
			cur.WriteRune(r)
		case r == sep && (sep != '=' || len(parts) == 0):
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	parts = append(parts, cur.String())
	return parts
}
