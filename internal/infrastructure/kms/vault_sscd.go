package kms

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	vault "github.com/hashicorp/vault/api"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/methics/musap-ios-sub000/internal/config"
	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/domain/service"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

const (
	vaultKeyPath   = "musap/keys/"
	vaultAliasPath = "musap/aliases/"

	// Private keys stay cached only briefly.
	vaultSignerTTL = time.Minute
)

// VaultSscd generates keys locally and keeps them in a Vault KV v2 mount.
// Every key lives at musap/keys/<key id>; musap/aliases/<alias> points at it
// so existing keys can be bound by alias.
type VaultSscd struct {
	info     *models.SscdInfo
	kv       *vault.KVv2
	signers  *cache.Cache
	sf       singleflight.Group
	settings *service.Settings
	logger   logger.Logger
}

// NewVaultClient creates a Vault API client for cfg.
func NewVaultClient(cfg config.VaultConfig) (*vault.Client, error) {
	vaultCfg := vault.DefaultConfig()
	if cfg.Address != "" {
		vaultCfg.Address = cfg.Address
	}
	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return client, nil
}

// NewVaultSscd creates a new VaultSscd.
func NewVaultSscd(cfg config.VaultConfig, client *vault.Client, log logger.Logger) *VaultSscd {
	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}
	return &VaultSscd{
		info: &models.SscdInfo{
			Name:                "Vault",
			Type:                TypeVault,
			Country:             "FI",
			Provider:            "HashiCorp",
			KeygenSupported:     true,
			SupportedAlgorithms: []models.KeyAlgorithm{models.ECCP256R1, models.ECCP384R1, models.RSA2K, models.RSA4K},
			SupportedFormats:    []models.SignatureFormat{models.FormatRAW},
		},
		kv:       client.KVv2(mount),
		signers:  cache.New(vaultSignerTTL, 5*time.Minute),
		settings: service.NewSettings(map[string]string{"mount": mount}),
		logger:   log.WithComponent("VaultSscd"),
	}
}

// GenerateKey creates a key pair and writes the private key to Vault.
func (v *VaultSscd) GenerateKey(ctx context.Context, req models.KeyGenReq) (*models.MusapKey, error) {
	if req.KeyAlias == "" {
		return nil, errors.ErrMissingParam("keyAlias")
	}
	if !v.info.SupportsAlgorithm(req.Algorithm) {
		return nil, errors.ErrInvalidAlgorithm(req.Algorithm.String())
	}
	if _, err := v.kv.Get(ctx, vaultAliasPath+req.KeyAlias); err == nil {
		return nil, errors.ErrKeyAlreadyExists(req.KeyAlias)
	}

	signer, err := generateSigner(req.Algorithm)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	keyID := uuid.New().String()
	if _, err := v.kv.Put(ctx, vaultKeyPath+keyID, map[string]interface{}{
		"key":       base64.StdEncoding.EncodeToString(pemKey),
		"algorithm": req.Algorithm.String(),
	}); err != nil {
		v.logger.Error(ctx, "Failed to write key to Vault", err, logger.String("key_id", keyID))
		return nil, fmt.Errorf("failed to write key to vault: %w", err)
	}
	if _, err := v.kv.Put(ctx, vaultAliasPath+req.KeyAlias, map[string]interface{}{
		"keyid": keyID,
	}); err != nil {
		v.logger.Error(ctx, "Failed to write key alias to Vault", err, logger.String("key_alias", req.KeyAlias))
		return nil, fmt.Errorf("failed to write key alias to vault: %w", err)
	}

	v.signers.Set(keyID, signer, cache.DefaultExpiration)
	v.logger.Info(ctx, "Generated Vault key",
		logger.String("key_alias", req.KeyAlias),
		logger.String("key_id", keyID),
	)
	return newKey(TypeVault, keyID, signer.Public(), req.Algorithm, req.KeyAlias, req.DID, req.Attributes, req.KeyUsages)
}

// BindKey adopts a key already stored in Vault under req.KeyAlias.
func (v *VaultSscd) BindKey(ctx context.Context, req models.KeyBindReq) (*models.MusapKey, error) {
	if req.KeyAlias == "" {
		return nil, errors.ErrMissingParam("keyAlias")
	}
	secret, err := v.kv.Get(ctx, vaultAliasPath+req.KeyAlias)
	if err != nil {
		if stderrors.Is(err, vault.ErrSecretNotFound) {
			return nil, errors.ErrUnknownKey(req.KeyAlias)
		}
		return nil, fmt.Errorf("failed to read key alias from vault: %w", err)
	}
	keyID, ok := secret.Data["keyid"].(string)
	if !ok || keyID == "" {
		return nil, fmt.Errorf("invalid alias record for %s", req.KeyAlias)
	}

	signer, err := v.signer(ctx, keyID)
	if err != nil {
		return nil, err
	}
	alg, err := algorithmOf(signer.Public())
	if err != nil {
		return nil, errors.ErrInvalidAlgorithm(err.Error())
	}
	v.logger.Info(ctx, "Bound Vault key",
		logger.String("key_alias", req.KeyAlias),
		logger.String("key_id", keyID),
	)
	return newKey(TypeVault, keyID, signer.Public(), alg, req.KeyAlias, req.DID, req.Attributes, req.KeyUsages)
}

// Sign reads the private key back from Vault and signs with it.
func (v *VaultSscd) Sign(ctx context.Context, req models.SignatureReq) (*models.Signature, error) {
	alg, err := checkSignRequest(v.info, req)
	if err != nil {
		return nil, err
	}
	signer, err := v.signer(ctx, req.Key.KeyID())
	if err != nil {
		return nil, err
	}
	raw, err := signWith(signer, alg, req.Data)
	if err != nil {
		return nil, err
	}
	return newSignature(req.Key, raw, alg, req.SignatureFormat()), nil
}

// signer returns the cached signer for keyID, reading Vault at most once per
// concurrent burst of requests.
func (v *VaultSscd) signer(ctx context.Context, keyID string) (crypto.Signer, error) {
	if keyID == "" {
		return nil, errors.ErrUnknownKey("key without id")
	}
	if s, found := v.signers.Get(keyID); found {
		return s.(crypto.Signer), nil
	}

	s, err, _ := v.sf.Do(keyID, func() (interface{}, error) {
		secret, err := v.kv.Get(ctx, vaultKeyPath+keyID)
		if err != nil {
			if stderrors.Is(err, vault.ErrSecretNotFound) {
				return nil, errors.ErrUnknownKey(keyID)
			}
			v.logger.Error(ctx, "Failed to read key from Vault", err, logger.String("key_id", keyID))
			return nil, fmt.Errorf("could not retrieve private key from vault: %w", err)
		}
		signer, err := parseVaultKey(secret.Data)
		if err != nil {
			return nil, err
		}
		v.signers.Set(keyID, signer, cache.DefaultExpiration)
		return signer, nil
	})
	if err != nil {
		return nil, err
	}
	return s.(crypto.Signer), nil
}

func parseVaultKey(data map[string]interface{}) (crypto.Signer, error) {
	b64Key, ok := data["key"].(string)
	if !ok {
		return nil, fmt.Errorf("'key' not found in secret")
	}
	pemBytes, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block containing private key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse private key: %w", err)
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", parsed)
	}
	return signer, nil
}

func (v *VaultSscd) Info() *models.SscdInfo { return v.info }

func (v *VaultSscd) IsKeygenSupported() bool { return true }

func (v *VaultSscd) Attestation() service.AttestationProvider { return service.NoAttestation{} }

func (v *VaultSscd) Settings() *service.Settings { return v.settings }

var _ service.Sscd = (*VaultSscd)(nil)
