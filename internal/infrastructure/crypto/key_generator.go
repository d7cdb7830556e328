package crypto

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/methics/musap-ios-sub000/internal/domain/repository"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// HKDF info labels separating the two derived keys.
const (
	macKeyInfo       = "mac"
	transportKeyInfo = "enc"
)

// ErrNoTransportKeys is returned before enrollment has derived the secrets.
var ErrNoTransportKeys = stderrors.New("transport keys not established")

// KeyGenerator derives and stores the MAC and transport keys.
type KeyGenerator struct {
	secrets            repository.SecretStore
	transportKeyLength int
	logger             logger.Logger
}

// NewKeyGenerator creates a new KeyGenerator. transportKeyLength must be 16 or 32.
func NewKeyGenerator(secrets repository.SecretStore, transportKeyLength int, log logger.Logger) (*KeyGenerator, error) {
	if transportKeyLength != 16 && transportKeyLength != 32 {
		return nil, fmt.Errorf("invalid transport key length %d", transportKeyLength)
	}
	return &KeyGenerator{
		secrets:            secrets,
		transportKeyLength: transportKeyLength,
		logger:             log.WithComponent("KeyGenerator"),
	}, nil
}

// HkdfStatic generates a fresh secret, derives both keys from it, stores them
// and returns the secret base64-encoded for the enrollment message.
func (g *KeyGenerator) HkdfStatic(ctx context.Context) (string, error) {
	secret := make([]byte, constants.EnrollmentSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}

	macKey, err := Derive(secret, macKeyInfo, constants.MacKeyLength)
	if err != nil {
		return "", err
	}
	transportKey, err := Derive(secret, transportKeyInfo, g.transportKeyLength)
	if err != nil {
		return "", err
	}

	if err := g.secrets.PutSecret(ctx, constants.StoreMacKey, macKey); err != nil {
		return "", fmt.Errorf("failed to store mac key: %w", err)
	}
	if err := g.secrets.PutSecret(ctx, constants.StoreTransportKey, transportKey); err != nil {
		return "", fmt.Errorf("failed to store transport key: %w", err)
	}

	g.logger.Info(ctx, "Derived transport secrets", logger.Int("transport_key_length", g.transportKeyLength))
	return base64.StdEncoding.EncodeToString(secret), nil
}

// Derive expands secret into length bytes with HKDF-SHA256 and the given info label.
func Derive(secret []byte, info string, length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", info, err)
	}
	return out, nil
}

// MacKey returns the stored MAC key.
func (g *KeyGenerator) MacKey(ctx context.Context) ([]byte, error) {
	return g.load(ctx, constants.StoreMacKey)
}

// TransportKey returns the stored transport key.
func (g *KeyGenerator) TransportKey(ctx context.Context) ([]byte, error) {
	return g.load(ctx, constants.StoreTransportKey)
}

func (g *KeyGenerator) load(ctx context.Context, name string) ([]byte, error) {
	key, err := g.secrets.GetSecret(ctx, name)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoTransportKeys
		}
		return nil, fmt.Errorf("failed to load %s key: %w", name, err)
	}
	return key, nil
}
