package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// MusapKey is the identity record of one managed key.
//
// KeyAlias is the storage key. The backend key id and the owning SSCD id are
// assigned once by the backend that creates the key and never change afterwards.
type MusapKey struct {
	KeyAlias           string
	SscdType           string
	CreatedDate        time.Time
	PublicKey          *PublicKey
	Certificate        *MusapCertificate
	CertificateChain   []MusapCertificate
	Attributes         Attributes
	KeyUsages          []string
	Loa                []LoA
	Algorithm          KeyAlgorithm
	KeyURI             KeyURI
	BiometricsRequired bool
	DID                string
	State              string

	keyID  string
	sscdID string
}

// NewMusapKey creates a key record owned by an SSCD of the given type.
func NewMusapKey(alias, sscdType string, alg KeyAlgorithm) *MusapKey {
	return &MusapKey{
		KeyAlias:    alias,
		SscdType:    sscdType,
		Algorithm:   alg,
		CreatedDate: time.Now().UTC(),
	}
}

// KeyID returns the backend-assigned key id.
func (k *MusapKey) KeyID() string { return k.keyID }

// SscdID returns the id of the owning SSCD.
func (k *MusapKey) SscdID() string { return k.sscdID }

// AssignKeyID sets the backend key id once.
func (k *MusapKey) AssignKeyID(id string) error {
	if id == "" {
		return fmt.Errorf("key id must not be empty")
	}
	if k.keyID != "" && k.keyID != id {
		return fmt.Errorf("key %q already has id %q", k.KeyAlias, k.keyID)
	}
	k.keyID = id
	return nil
}

// AssignSscdID sets the owning SSCD id once.
func (k *MusapKey) AssignSscdID(id string) error {
	if id == "" {
		return fmt.Errorf("sscd id must not be empty")
	}
	if k.sscdID != "" && k.sscdID != id {
		return fmt.Errorf("key %q already belongs to sscd %q", k.KeyAlias, k.sscdID)
	}
	k.sscdID = id
	return nil
}

// DefaultSignatureAlgorithm derives the signature algorithm from the key algorithm.
func (k *MusapKey) DefaultSignatureAlgorithm() SignatureAlgorithm {
	return k.Algorithm.DefaultSignatureAlgorithm()
}

// IsActive reports whether the key has not been revoked or otherwise disabled.
func (k *MusapKey) IsActive() bool {
	return k.State == "" || k.State == KeyStateActive
}

// Key lifecycle states.
const (
	KeyStateActive  = "active"
	KeyStateRevoked = "revoked"
	KeyStateBlocked = "blocked"
)

// Clone returns a deep copy.
func (k *MusapKey) Clone() *MusapKey {
	if k == nil {
		return nil
	}
	c := *k
	c.Attributes = k.Attributes.Clone()
	c.CertificateChain = slices.Clone(k.CertificateChain)
	c.KeyUsages = slices.Clone(k.KeyUsages)
	c.Loa = slices.Clone(k.Loa)
	return &c
}

type musapKeyJSON struct {
	KeyAlias           string             `json:"keyalias"`
	KeyID              string             `json:"keyid,omitempty"`
	SscdID             string             `json:"sscdid,omitempty"`
	SscdType           string             `json:"sscdtype"`
	CreatedDate        time.Time          `json:"createddate"`
	PublicKey          *PublicKey         `json:"publickey,omitempty"`
	Certificate        *MusapCertificate  `json:"certificate,omitempty"`
	CertificateChain   []MusapCertificate `json:"certificatechain,omitempty"`
	Attributes         Attributes         `json:"attributes"`
	KeyUsages          []string           `json:"keyusages,omitempty"`
	Loa                []LoA              `json:"loa,omitempty"`
	Algorithm          KeyAlgorithm       `json:"algorithm"`
	KeyURI             KeyURI             `json:"keyuri"`
	BiometricsRequired bool               `json:"biometricsrequired"`
	DID                string             `json:"did,omitempty"`
	State              string             `json:"state,omitempty"`
}

// MarshalJSON includes the private identifiers.
func (k MusapKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(musapKeyJSON{
		KeyAlias:           k.KeyAlias,
		KeyID:              k.keyID,
		SscdID:             k.sscdID,
		SscdType:           k.SscdType,
		CreatedDate:        k.CreatedDate,
		PublicKey:          k.PublicKey,
		Certificate:        k.Certificate,
		CertificateChain:   k.CertificateChain,
		Attributes:         k.Attributes,
		KeyUsages:          k.KeyUsages,
		Loa:                k.Loa,
		Algorithm:          k.Algorithm,
		KeyURI:             k.KeyURI,
		BiometricsRequired: k.BiometricsRequired,
		DID:                k.DID,
		State:              k.State,
	})
}

// UnmarshalJSON restores the identifiers as already assigned.
func (k *MusapKey) UnmarshalJSON(data []byte) error {
	var raw musapKeyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*k = MusapKey{
		KeyAlias:           raw.KeyAlias,
		SscdType:           raw.SscdType,
		CreatedDate:        raw.CreatedDate,
		PublicKey:          raw.PublicKey,
		Certificate:        raw.Certificate,
		CertificateChain:   raw.CertificateChain,
		Attributes:         raw.Attributes,
		KeyUsages:          raw.KeyUsages,
		Loa:                raw.Loa,
		Algorithm:          raw.Algorithm,
		KeyURI:             raw.KeyURI,
		BiometricsRequired: raw.BiometricsRequired,
		DID:                raw.DID,
		State:              raw.State,
		keyID:              raw.KeyID,
		sscdID:             raw.SscdID,
	}
	return nil
}
