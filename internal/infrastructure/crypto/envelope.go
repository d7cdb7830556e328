package crypto

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
)

// ErrInvalidMAC is returned by Open when the message MAC does not verify.
var ErrInvalidMAC = stderrors.New("message authentication failed")

// Envelope seals and opens Link messages with the stored transport keys.
type Envelope struct {
	keys *KeyGenerator
}

// NewEnvelope creates a new Envelope.
func NewEnvelope(keys *KeyGenerator) *Envelope {
	return &Envelope{keys: keys}
}

// Seal sets the payload of msg from plaintext. Types that require encryption
// are encrypted with a fresh IV and MACed; the rest are only base64-encoded.
// msg.Type and msg.TransID must be set before sealing.
func (e *Envelope) Seal(ctx context.Context, msg *models.MusapMessage, plaintext []byte) error {
	if !msg.Type.RequiresEncryption() {
		msg.Payload = base64.StdEncoding.EncodeToString(plaintext)
		msg.IV = ""
		msg.Mac = ""
		return nil
	}

	transportKey, err := e.keys.TransportKey(ctx)
	if err != nil {
		return err
	}
	macKey, err := e.keys.MacKey(ctx)
	if err != nil {
		return err
	}

	payload, iv, err := EncryptBase64(transportKey, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s payload: %w", msg.Type, err)
	}
	msg.Payload = payload
	msg.IV = iv
	msg.Mac = GenerateMAC(macKey, payload, iv, msg.TransID, string(msg.Type))
	return nil
}

// Open authenticates msg and returns its decrypted payload. Decryption is
// attempted only for types that require encryption and only after the MAC
// verified.
func (e *Envelope) Open(ctx context.Context, msg *models.MusapMessage) ([]byte, error) {
	if !msg.Type.RequiresEncryption() {
		plain, err := base64.StdEncoding.DecodeString(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", msg.Type, err)
		}
		return plain, nil
	}

	macKey, err := e.keys.MacKey(ctx)
	if err != nil {
		return nil, err
	}
	if !ValidateMAC(macKey, msg.Payload, msg.IV, msg.TransID, string(msg.Type), msg.Mac) {
		return nil, ErrInvalidMAC
	}

	transportKey, err := e.keys.TransportKey(ctx)
	if err != nil {
		return nil, err
	}
	plain, err := DecryptBase64(transportKey, msg.Payload, msg.IV)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s payload: %w", msg.Type, err)
	}
	return plain, nil
}
