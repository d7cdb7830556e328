package models

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
)

// AttestationStatus is the outcome of a key attestation.
type AttestationStatus string

const (
	// AttestationUndetermined is a terminal state meaning the backend makes no claim.
	AttestationUndetermined AttestationStatus = "UNDETERMINED"
	AttestationInvalid      AttestationStatus = "INVALID"
)

// KeyAttestationResult is backend-issued evidence about how a key is protected.
type KeyAttestationResult struct {
	AttestationType  string             `json:"attestationtype"`
	Signature        []byte             `json:"signature,omitempty"`
	Certificate      *MusapCertificate  `json:"certificate,omitempty"`
	CertificateChain []MusapCertificate `json:"certificatechain,omitempty"`
	Status           AttestationStatus  `json:"status"`
}

// UndeterminedAttestation returns the empty result used when no claim can be made.
func UndeterminedAttestation(attestationType string) KeyAttestationResult {
	return KeyAttestationResult{AttestationType: attestationType, Status: AttestationUndetermined}
}

// Signature is a produced signature together with the key that made it.
type Signature struct {
	RawSignature []byte
	Key          *MusapKey
	Algorithm    SignatureAlgorithm
	Format       SignatureFormat
	Attestation  KeyAttestationResult
}

// B64 returns the signature bytes as standard base64.
func (s *Signature) B64() string {
	return base64.StdEncoding.EncodeToString(s.RawSignature)
}

// Verify checks a RAW signature over data with pub. A nil pub falls back to the
// public key of the owning key.
func (s *Signature) Verify(pub crypto.PublicKey, data []byte) error {
	if pub == nil {
		if s.Key == nil || s.Key.PublicKey == nil {
			return fmt.Errorf("no public key to verify with")
		}
		parsed, err := s.Key.PublicKey.Parse()
		if err != nil {
			return err
		}
		pub = parsed
	}

	alg := s.Algorithm
	if alg == "" && s.Key != nil {
		alg = s.Key.DefaultSignatureAlgorithm()
	}
	h := alg.Hash()
	if h == 0 {
		return fmt.Errorf("unknown signature algorithm %q", alg)
	}
	hasher := h.New()
	hasher.Write(data)
	digest := hasher.Sum(nil)

	switch k := pub.(type) {
	case *rsa.PublicKey:
		if !alg.IsRSA() {
			return fmt.Errorf("algorithm %s does not match RSA key", alg)
		}
		return rsa.VerifyPKCS1v15(k, h, digest, s.RawSignature)
	case *ecdsa.PublicKey:
		if !alg.IsECDSA() {
			return fmt.Errorf("algorithm %s does not match EC key", alg)
		}
		if !ecdsa.VerifyASN1(k, digest, s.RawSignature) {
			return fmt.Errorf("ecdsa signature verification failed")
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
}
