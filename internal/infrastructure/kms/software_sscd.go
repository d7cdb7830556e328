package kms

import (
	"context"
	"crypto"
	"crypto/x509"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/domain/repository"
	"github.com/methics/musap-ios-sub000/internal/domain/service"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

const softwareKeyPrefix = "swkey_"

// SoftwareSscd keeps private keys in process and persists them, PKCS#8
// encoded, in the secret store.
type SoftwareSscd struct {
	info     *models.SscdInfo
	secrets  repository.SecretStore
	settings *service.Settings
	logger   logger.Logger

	mu      sync.RWMutex
	signers map[string]crypto.Signer
}

// NewSoftwareSscd creates a new SoftwareSscd.
func NewSoftwareSscd(secrets repository.SecretStore, log logger.Logger) *SoftwareSscd {
	return &SoftwareSscd{
		info: &models.SscdInfo{
			Name:                "Software",
			Type:                TypeSoftware,
			Country:             "FI",
			Provider:            "MUSAP",
			KeygenSupported:     true,
			SupportedAlgorithms: []models.KeyAlgorithm{models.ECCP256R1, models.ECCP384R1, models.RSA2K, models.RSA4K},
			SupportedFormats:    []models.SignatureFormat{models.FormatRAW},
		},
		secrets:  secrets,
		settings: service.NewSettings(nil),
		logger:   log.WithComponent("SoftwareSscd"),
		signers:  make(map[string]crypto.Signer),
	}
}

// GenerateKey creates a key pair and stores the private half.
func (s *SoftwareSscd) GenerateKey(ctx context.Context, req models.KeyGenReq) (*models.MusapKey, error) {
	if req.KeyAlias == "" {
		return nil, errors.ErrMissingParam("keyAlias")
	}
	if !s.info.SupportsAlgorithm(req.Algorithm) {
		return nil, errors.ErrInvalidAlgorithm(req.Algorithm.String())
	}

	signer, err := generateSigner(req.Algorithm)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	keyID := uuid.New().String()
	if err := s.secrets.PutSecret(ctx, softwareKeyPrefix+keyID, der); err != nil {
		s.logger.Error(ctx, "Failed to store software key", err, logger.String("key_id", keyID))
		return nil, fmt.Errorf("failed to store private key: %w", err)
	}

	s.mu.Lock()
	s.signers[keyID] = signer
	s.mu.Unlock()

	s.logger.Info(ctx, "Generated software key",
		logger.String("key_alias", req.KeyAlias),
		logger.String("key_id", keyID),
		logger.String("algorithm", req.Algorithm.String()),
	)
	return newKey(TypeSoftware, keyID, signer.Public(), req.Algorithm, req.KeyAlias, req.DID, req.Attributes, req.KeyUsages)
}

// BindKey is not supported: software keys only exist once generated here.
func (s *SoftwareSscd) BindKey(context.Context, models.KeyBindReq) (*models.MusapKey, error) {
	return nil, errors.ErrUnsupportedOperation(s.info.Name, errors.OpBindKey)
}

// Sign signs with the private key of req.Key.
func (s *SoftwareSscd) Sign(ctx context.Context, req models.SignatureReq) (*models.Signature, error) {
	alg, err := checkSignRequest(s.info, req)
	if err != nil {
		return nil, err
	}
	signer, err := s.signer(ctx, req.Key.KeyID())
	if err != nil {
		return nil, err
	}
	raw, err := signWith(signer, alg, req.Data)
	if err != nil {
		return nil, err
	}
	return newSignature(req.Key, raw, alg, req.SignatureFormat()), nil
}

func (s *SoftwareSscd) signer(ctx context.Context, keyID string) (crypto.Signer, error) {
	if keyID == "" {
		return nil, errors.ErrUnknownKey("key without id")
	}
	s.mu.RLock()
	signer, ok := s.signers[keyID]
	s.mu.RUnlock()
	if ok {
		return signer, nil
	}

	der, err := s.secrets.GetSecret(ctx, softwareKeyPrefix+keyID)
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.ErrUnknownKey(keyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	signer, ok = parsed.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("stored key %s is not a signer", keyID)
	}

	s.mu.Lock()
	s.signers[keyID] = signer
	s.mu.Unlock()
	return signer, nil
}

func (s *SoftwareSscd) Info() *models.SscdInfo { return s.info }

func (s *SoftwareSscd) IsKeygenSupported() bool { return true }

func (s *SoftwareSscd) Attestation() service.AttestationProvider { return service.NoAttestation{} }

func (s *SoftwareSscd) Settings() *service.Settings { return s.settings }

var _ service.Sscd = (*SoftwareSscd)(nil)
