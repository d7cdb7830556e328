package models

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// PublicKey holds a DER-encoded SubjectPublicKeyInfo.
type PublicKey struct {
	DER []byte `json:"der"`
}

// NewPublicKey marshals pub into SPKI form.
func NewPublicKey(pub crypto.PublicKey) (*PublicKey, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return &PublicKey{DER: der}, nil
}

// Parse returns the Go public key.
func (p *PublicKey) Parse() (crypto.PublicKey, error) {
	if p == nil || len(p.DER) == 0 {
		return nil, fmt.Errorf("empty public key")
	}
	return x509.ParsePKIXPublicKey(p.DER)
}

// PEM returns the PEM encoding of the key.
func (p *PublicKey) PEM() string {
	if p == nil {
		return ""
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: p.DER}))
}

// Hash is the base64 SHA-256 digest of the SPKI bytes. Link requests use it to
// name a key without knowing its id.
func (p *PublicKey) Hash() string {
	if p == nil || len(p.DER) == 0 {
		return ""
	}
	sum := sha256.Sum256(p.DER)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// MusapCertificate is a DER certificate with its subject and public key split out.
type MusapCertificate struct {
	Subject   string     `json:"subject"`
	Cert      []byte     `json:"certificate"`
	PublicKey *PublicKey `json:"publickey,omitempty"`
}

// NewMusapCertificate wraps a parsed certificate.
func NewMusapCertificate(cert *x509.Certificate) *MusapCertificate {
	return &MusapCertificate{
		Subject:   cert.Subject.String(),
		Cert:      cert.Raw,
		PublicKey: &PublicKey{DER: cert.RawSubjectPublicKeyInfo},
	}
}

// ParseMusapCertificate parses DER bytes.
func ParseMusapCertificate(der []byte) (*MusapCertificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return NewMusapCertificate(cert), nil
}

// X509 parses the certificate.
func (c *MusapCertificate) X509() (*x509.Certificate, error) {
	return x509.ParseCertificate(c.Cert)
}

// LoA is a level of assurance claim for a key.
type LoA struct {
	Loa    string `json:"loa"`
	Number int    `json:"number"`
	Scheme string `json:"scheme"`
}

// LoA schemes.
const (
	LoASchemeEIDAS    = "EIDAS-2014"
	LoASchemeISO29115 = "ISO-29115"
)

var (
	LoAEIDASLow         = LoA{Loa: "low", Number: 1, Scheme: LoASchemeEIDAS}
	LoAEIDASSubstantial = LoA{Loa: "substantial", Number: 3, Scheme: LoASchemeEIDAS}
	LoAEIDASHigh        = LoA{Loa: "high", Number: 4, Scheme: LoASchemeEIDAS}
	LoAISOLoA1          = LoA{Loa: "loa1", Number: 1, Scheme: LoASchemeISO29115}
	LoAISOLoA2          = LoA{Loa: "loa2", Number: 2, Scheme: LoASchemeISO29115}
	LoAISOLoA3          = LoA{Loa: "loa3", Number: 3, Scheme: LoASchemeISO29115}
	LoAISOLoA4          = LoA{Loa: "loa4", Number: 4, Scheme: LoASchemeISO29115}
)

// AtLeast reports whether l is in the same scheme as other and ranked at or above it.
func (l LoA) AtLeast(other LoA) bool {
	return l.Scheme == other.Scheme && l.Number >= other.Number
}
