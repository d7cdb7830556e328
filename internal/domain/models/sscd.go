package models

import (
	"encoding/json"
	"fmt"
	"slices"
)

// SscdInfo describes one signing backend instance.
//
// The id starts unassigned and is set exactly once, either when the backend is
// enabled or after its first key operation. AssignID enforces the transition.
type SscdInfo struct {
	Name                string
	Type                string
	Country             string
	Provider            string
	KeygenSupported     bool
	SupportedAlgorithms []KeyAlgorithm
	SupportedFormats    []SignatureFormat

	id string
}

// ID returns the assigned id or "".
func (s *SscdInfo) ID() string { return s.id }

// HasID reports whether an id has been assigned.
func (s *SscdInfo) HasID() bool { return s.id != "" }

// AssignID performs the one-time unassigned -> assigned transition.
// Assigning the same id again is a no-op; a different id is rejected.
func (s *SscdInfo) AssignID(id string) error {
	if id == "" {
		return fmt.Errorf("sscd id must not be empty")
	}
	if s.id != "" && s.id != id {
		return fmt.Errorf("sscd %q already has id %q", s.Name, s.id)
	}
	s.id = id
	return nil
}

// SupportsAlgorithm reports membership of alg in the supported set.
func (s *SscdInfo) SupportsAlgorithm(alg KeyAlgorithm) bool {
	return slices.ContainsFunc(s.SupportedAlgorithms, alg.Equal)
}

// SupportsFormat reports membership of f in the supported formats.
func (s *SscdInfo) SupportsFormat(f SignatureFormat) bool {
	return slices.Contains(s.SupportedFormats, f)
}

// Clone returns a deep copy, id included.
func (s *SscdInfo) Clone() *SscdInfo {
	c := *s
	c.SupportedAlgorithms = slices.Clone(s.SupportedAlgorithms)
	c.SupportedFormats = slices.Clone(s.SupportedFormats)
	return &c
}

type sscdInfoJSON struct {
	Name                string            `json:"sscdname"`
	Type                string            `json:"sscdtype"`
	ID                  string            `json:"sscdid,omitempty"`
	Country             string            `json:"country,omitempty"`
	Provider            string            `json:"provider,omitempty"`
	KeygenSupported     bool              `json:"keygensupported"`
	SupportedAlgorithms []KeyAlgorithm    `json:"algorithms,omitempty"`
	SupportedFormats    []SignatureFormat `json:"formats,omitempty"`
}

// MarshalJSON includes the private id.
func (s SscdInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(sscdInfoJSON{
		Name:                s.Name,
		Type:                s.Type,
		ID:                  s.id,
		Country:             s.Country,
		Provider:            s.Provider,
		KeygenSupported:     s.KeygenSupported,
		SupportedAlgorithms: s.SupportedAlgorithms,
		SupportedFormats:    s.SupportedFormats,
	})
}

// UnmarshalJSON restores the id as already assigned.
func (s *SscdInfo) UnmarshalJSON(data []byte) error {
	var raw sscdInfoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SscdInfo{
		Name:                raw.Name,
		Type:                raw.Type,
		Country:             raw.Country,
		Provider:            raw.Provider,
		KeygenSupported:     raw.KeygenSupported,
		SupportedAlgorithms: raw.SupportedAlgorithms,
		SupportedFormats:    raw.SupportedFormats,
		id:                  raw.ID,
	}
	return nil
}
