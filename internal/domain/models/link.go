package models

import (
	"encoding/base64"
	"strings"

	"github.com/methics/musap-ios-sub000/pkg/constants"
)

// RelyingParty is a web service coupled through Link.
type RelyingParty struct {
	Name   string `json:"name"`
	LinkID string `json:"linkid"`
}

// Matches compares link ids case-insensitively.
func (rp RelyingParty) Matches(linkID string) bool {
	return strings.EqualFold(rp.LinkID, linkID)
}

// MusapLink is the Link session of this MUSAP instance.
type MusapLink struct {
	URL     string `json:"url"`
	MusapID string `json:"musapid,omitempty"`
}

// IsEnrolled reports whether Link has assigned a MUSAP id.
func (l *MusapLink) IsEnrolled() bool {
	return l != nil && l.MusapID != ""
}

// ================================================================================
// Wire Envelope
// ================================================================================

// MusapMessage is the JSON envelope exchanged with Link. Payload is base64 of
// either plaintext JSON or AES-CBC ciphertext, depending on the message type.
type MusapMessage struct {
	Payload   string                `json:"payload"`
	MusapID   string                `json:"musapid,omitempty"`
	Type      constants.MessageType `json:"type"`
	UUID      string                `json:"uuid,omitempty"`
	TransID   string                `json:"transid,omitempty"`
	RequestID string                `json:"requestid,omitempty"`
	Mac       string                `json:"mac,omitempty"`
	IV        string                `json:"iv,omitempty"`
}

// ================================================================================
// Payloads
// ================================================================================

// EnrollDataPayload registers this instance and hands Link the shared secret.
type EnrollDataPayload struct {
	FcmToken  string `json:"fcmtoken,omitempty"`
	ApnsToken string `json:"apnstoken,omitempty"`
	Secret    string `json:"secret"`
}

// EnrollDataResponsePayload carries the assigned MUSAP id.
type EnrollDataResponsePayload struct {
	MusapID string `json:"musapid"`
}

// LinkAccountPayload couples a relying party by coupling code.
type LinkAccountPayload struct {
	CouplingCode string `json:"couplingcode"`
	MusapID      string `json:"musapid"`
}

// LinkAccountResponsePayload names the coupled relying party.
type LinkAccountResponsePayload struct {
	LinkID    string                   `json:"linkid"`
	Name      string                   `json:"name"`
	Status    constants.ResponseStatus `json:"status,omitempty"`
	ErrorCode *int                     `json:"errorcode,omitempty"`
}

// SignaturePayloadKey names the key a relying party wants used.
type SignaturePayloadKey struct {
	KeyID         string `json:"keyid,omitempty"`
	KeyAlias      string `json:"keyalias,omitempty"`
	PublicKeyHash string `json:"publickeyhash,omitempty"`
}

// GenKeyPayload describes the key a relying party wants generated.
type GenKeyPayload struct {
	KeyAlias     string `json:"keyalias,omitempty"`
	KeyAlgorithm string `json:"keyalgorithm,omitempty"`
}

// SignaturePayload is a signature request delivered by a poll.
type SignaturePayload struct {
	Data       string                `json:"data"`
	Display    string                `json:"display,omitempty"`
	Format     SignatureFormat       `json:"format,omitempty"`
	Scheme     string                `json:"scheme,omitempty"`
	HashAlgo   string                `json:"hashalgo,omitempty"`
	LinkID     string                `json:"linkid"`
	Key        *SignaturePayloadKey  `json:"key,omitempty"`
	GenKey     *GenKeyPayload        `json:"genkey,omitempty"`
	Attributes []KeyAttribute        `json:"attributes,omitempty"`
	Mode       constants.RequestMode `json:"mode,omitempty"`
}

// DecodedData returns the base64-decoded data to be signed.
func (p *SignaturePayload) DecodedData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Data)
}

// RequestedMode returns the mode, defaulting to sign.
func (p *SignaturePayload) RequestedMode() constants.RequestMode {
	if p.Mode == "" {
		return constants.ModeSign
	}
	return p.Mode
}

// RequestedAlgorithm returns the signature algorithm named by scheme and
// hashalgo, or "" when the request leaves the choice to the key.
func (p *SignaturePayload) RequestedAlgorithm() SignatureAlgorithm {
	if p.Scheme == "" || p.HashAlgo == "" {
		return ""
	}
	hash := strings.ToUpper(strings.ReplaceAll(p.HashAlgo, "-", ""))
	scheme := strings.ToUpper(p.Scheme)
	switch scheme {
	case "ECDSA", "EC":
		return SignatureAlgorithm(hash + "withECDSA")
	case "RSA", "RSASSA-PKCS1-V1_5":
		return SignatureAlgorithm(hash + "withRSA")
	default:
		return ""
	}
}

// PollResponse is a polled request together with its correlation id.
type PollResponse struct {
	Payload SignaturePayload
	TransID string
}

// ExternalSignaturePayload asks a remote SSCD for a signature.
type ExternalSignaturePayload struct {
	ClientID   string          `json:"clientid"`
	Data       string          `json:"data"`
	Display    string          `json:"display,omitempty"`
	Format     SignatureFormat `json:"format,omitempty"`
	PublicKey  string          `json:"publickey,omitempty"`
	Timeout    int             `json:"timeout,omitempty"`
	Attributes []KeyAttribute  `json:"attributes,omitempty"`
	TransID    string          `json:"transid,omitempty"`
}

// ExternalSignatureResponsePayload is the remote SSCD answer.
type ExternalSignatureResponsePayload struct {
	Signature        string                   `json:"signature,omitempty"`
	PublicKey        string                   `json:"publickey,omitempty"`
	Certificate      string                   `json:"certificate,omitempty"`
	CertificateChain []string                 `json:"certificatechain,omitempty"`
	TransID          string                   `json:"transid,omitempty"`
	Status           constants.ResponseStatus `json:"status"`
	ErrorCode        *int                     `json:"errorcode,omitempty"`
	Attributes       []KeyAttribute           `json:"attributes,omitempty"`
}

// AttestationPayload is the wire form of a KeyAttestationResult.
type AttestationPayload struct {
	AttestationType  string            `json:"attestationtype"`
	Signature        string            `json:"signature,omitempty"`
	Certificate      string            `json:"certificate,omitempty"`
	CertificateChain []string          `json:"certificatechain,omitempty"`
	Status           AttestationStatus `json:"attestationstatus"`
}

// NewAttestationPayload encodes r for a callback.
func NewAttestationPayload(r KeyAttestationResult) *AttestationPayload {
	p := &AttestationPayload{AttestationType: r.AttestationType, Status: r.Status}
	if len(r.Signature) > 0 {
		p.Signature = base64.StdEncoding.EncodeToString(r.Signature)
	}
	if r.Certificate != nil {
		p.Certificate = base64.StdEncoding.EncodeToString(r.Certificate.Cert)
	}
	for _, c := range r.CertificateChain {
		p.CertificateChain = append(p.CertificateChain, base64.StdEncoding.EncodeToString(c.Cert))
	}
	return p
}

// SignatureCallbackPayload reports a produced signature to a relying party.
type SignatureCallbackPayload struct {
	LinkID      string              `json:"linkid"`
	Signature   string              `json:"signature"`
	PublicKey   string              `json:"publickey,omitempty"`
	KeyID       string              `json:"keyid,omitempty"`
	Attestation *AttestationPayload `json:"attestation,omitempty"`
}

// GenerateKeyCallbackPayload reports a generated key to a relying party.
type GenerateKeyCallbackPayload struct {
	LinkID      string              `json:"linkid"`
	PublicKey   string              `json:"publickey"`
	KeyID       string              `json:"keyid,omitempty"`
	KeyURI      string              `json:"keyuri,omitempty"`
	Attestation *AttestationPayload `json:"attestation,omitempty"`
}
