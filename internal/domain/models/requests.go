package models

import (
	"encoding/json"
	"time"
)

// KeyGenReq asks a backend to generate a new key.
type KeyGenReq struct {
	KeyAlias   string
	DID        string
	Role       string
	Attributes []KeyAttribute
	Algorithm  KeyAlgorithm
	KeyUsages  []string
}

// KeyBindReq asks a backend to bind an existing key. DisplayText is shown to
// the user by backends that need confirmation.
type KeyBindReq struct {
	KeyAlias    string
	DID         string
	Role        string
	Attributes  []KeyAttribute
	DisplayText string
	KeyUsages   []string
}

// SignatureReq asks the backend owning Key to sign Data.
type SignatureReq struct {
	Key         *MusapKey
	Data        []byte
	DisplayText string
	// Algorithm is optional; the key algorithm decides when empty.
	Algorithm  SignatureAlgorithm
	Format     SignatureFormat
	Attributes []KeyAttribute
	// TransID correlates a Link-originated request.
	TransID string
	Timeout time.Duration
}

// SignatureAlgorithm returns the explicit algorithm or the one derived from the key.
func (r *SignatureReq) SignatureAlgorithm() SignatureAlgorithm {
	if r.Algorithm != "" {
		return r.Algorithm
	}
	if r.Key == nil {
		return ""
	}
	return r.Key.DefaultSignatureAlgorithm()
}

// SignatureFormat returns the requested format, RAW by default.
func (r *SignatureReq) SignatureFormat() SignatureFormat {
	if r.Format == "" {
		return FormatRAW
	}
	return r.Format
}

// UpdateAttribute sets an attribute, or removes it when Value is nil.
type UpdateAttribute struct {
	Name  string
	Value *string
}

// UpdateKeyReq changes stored key metadata. Nil fields are left unchanged.
type UpdateKeyReq struct {
	Key        *MusapKey
	Alias      *string
	DID        *string
	State      *string
	Attributes []UpdateAttribute
}

// SscdSearchReq filters backends. Every field must be set for any backend to
// match; a partial request matches nothing.
type SscdSearchReq struct {
	SscdType  string
	Country   string
	Provider  string
	Algorithm *KeyAlgorithm
}

// Complete reports whether every field is set.
func (r SscdSearchReq) Complete() bool {
	return r.SscdType != "" && r.Country != "" && r.Provider != "" && r.Algorithm != nil
}

// Matches applies exact-match semantics.
func (r SscdSearchReq) Matches(info *SscdInfo) bool {
	if !r.Complete() || info == nil {
		return false
	}
	return r.SscdType == info.Type &&
		r.Country == info.Country &&
		r.Provider == info.Provider &&
		info.SupportsAlgorithm(*r.Algorithm)
}

// KeySearchReq is a listing filter: unset fields are ignored, so the zero
// value matches every key. SSCD lookups match exactly instead; see
// SscdSearchReq.
type KeySearchReq struct {
	SscdType  string
	SscdID    string
	KeyAlias  string
	Algorithm *KeyAlgorithm
	KeyURI    *KeyURI
}

// Matches reports whether key satisfies every set field.
func (r KeySearchReq) Matches(key *MusapKey) bool {
	if key == nil {
		return false
	}
	if r.SscdType != "" && r.SscdType != key.SscdType {
		return false
	}
	if r.SscdID != "" && r.SscdID != key.SscdID() {
		return false
	}
	if r.KeyAlias != "" && r.KeyAlias != key.KeyAlias {
		return false
	}
	if r.Algorithm != nil && !r.Algorithm.Equal(key.Algorithm) {
		return false
	}
	if r.KeyURI != nil && !r.KeyURI.Matches(key.KeyURI) {
		return false
	}
	return true
}

// ImportData is the whole-store export/import document.
type ImportData struct {
	Sscds []SscdInfo `json:"sscds"`
	Keys  []MusapKey `json:"keys"`
}

// ToJSON renders the document as pretty-printed JSON.
func (d *ImportData) ToJSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// ParseImportData decodes an export document.
func ParseImportData(data []byte) (*ImportData, error) {
	var d ImportData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
