package kms

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/domain/service"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// External SSCD settings.
const (
	SettingClientID = "clientid"
	SettingTimeout  = "timeout"
	SettingName     = "sscdname"
)

const defaultExternalTimeout = 2 * time.Minute

// ExternalSscd is a remote SSCD reached through the Link externalsignature
// message. Binding is a signature round trip whose answer carries the public
// key and certificate of the remote key.
type ExternalSscd struct {
	info     *models.SscdInfo
	link     service.LinkClient
	settings *service.Settings
	logger   logger.Logger
}

// NewExternalSscd creates a new ExternalSscd. settings may set clientid,
// timeout (seconds) and sscdname.
func NewExternalSscd(link service.LinkClient, settings map[string]string, log logger.Logger) *ExternalSscd {
	s := service.NewSettings(settings)
	return &ExternalSscd{
		info: &models.SscdInfo{
			Name:                s.GetOr(SettingName, "External Signature"),
			Type:                TypeExternal,
			Country:             "FI",
			Provider:            "MUSAP Link",
			KeygenSupported:     false,
			SupportedAlgorithms: []models.KeyAlgorithm{models.ECCP256R1, models.ECCP384R1, models.RSA2K, models.RSA4K},
			SupportedFormats:    []models.SignatureFormat{models.FormatRAW, models.FormatCMS, models.FormatPKCS1},
		},
		link:     link,
		settings: s,
		logger:   log.WithComponent("ExternalSscd"),
	}
}

// GenerateKey is not supported by a remote SSCD.
func (e *ExternalSscd) GenerateKey(context.Context, models.KeyGenReq) (*models.MusapKey, error) {
	return nil, errors.ErrUnsupportedOperation(e.info.Name, errors.OpGenerateKey)
}

// BindKey signs a random challenge remotely and adopts the key that answered.
func (e *ExternalSscd) BindKey(ctx context.Context, req models.KeyBindReq) (*models.MusapKey, error) {
	if req.KeyAlias == "" {
		return nil, errors.ErrMissingParam("keyAlias")
	}
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return nil, fmt.Errorf("failed to generate challenge: %w", err)
	}
	display := req.DisplayText
	if display == "" {
		display = "Bind key " + req.KeyAlias
	}

	resp, err := e.link.Sign(ctx, models.ExternalSignaturePayload{
		ClientID:   e.settings.GetOr(SettingClientID, "LOCAL"),
		Data:       base64.StdEncoding.EncodeToString(challenge),
		Display:    display,
		Format:     models.FormatRAW,
		Timeout:    e.timeoutSeconds(),
		Attributes: req.Attributes,
	})
	if err != nil {
		return nil, err
	}

	key, err := e.keyFromResponse(req, resp)
	if err != nil {
		return nil, err
	}
	e.logger.Info(ctx, "Bound external key",
		logger.String("key_alias", req.KeyAlias),
		logger.String("key_id", key.KeyID()),
	)
	return key, nil
}

// Sign asks the remote SSCD to sign req.Data with req.Key.
func (e *ExternalSscd) Sign(ctx context.Context, req models.SignatureReq) (*models.Signature, error) {
	alg, err := checkSignRequest(e.info, req)
	if err != nil {
		return nil, err
	}

	payload := models.ExternalSignaturePayload{
		ClientID:   e.settings.GetOr(SettingClientID, "LOCAL"),
		Data:       base64.StdEncoding.EncodeToString(req.Data),
		Display:    req.DisplayText,
		Format:     req.SignatureFormat(),
		Timeout:    e.timeoutSeconds(),
		Attributes: req.Attributes,
		TransID:    req.TransID,
	}
	if req.Timeout > 0 {
		payload.Timeout = int(req.Timeout / time.Second)
	}
	if req.Key.PublicKey != nil {
		payload.PublicKey = base64.StdEncoding.EncodeToString(req.Key.PublicKey.DER)
	}
	if payload.Attributes == nil {
		payload.Attributes = req.Key.Attributes.List()
	}

	resp, err := e.link.Sign(ctx, payload)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Signature)
	if err != nil || len(raw) == 0 {
		return nil, errors.ErrInternal("external signature response carried no signature")
	}
	return newSignature(req.Key, raw, alg, req.SignatureFormat()), nil
}

func (e *ExternalSscd) keyFromResponse(req models.KeyBindReq, resp *models.ExternalSignatureResponsePayload) (*models.MusapKey, error) {
	var cert *models.MusapCertificate
	if resp.Certificate != "" {
		der, err := base64.StdEncoding.DecodeString(resp.Certificate)
		if err != nil {
			return nil, errors.ErrInternal("malformed certificate in external signature response").WithCause(err)
		}
		if cert, err = models.ParseMusapCertificate(der); err != nil {
			return nil, errors.ErrInternal("unparseable certificate in external signature response").WithCause(err)
		}
	}

	var pk *models.PublicKey
	switch {
	case resp.PublicKey != "":
		der, err := base64.StdEncoding.DecodeString(resp.PublicKey)
		if err != nil {
			return nil, errors.ErrInternal("malformed public key in external signature response").WithCause(err)
		}
		pk = &models.PublicKey{DER: der}
	case cert != nil:
		pk = cert.PublicKey
	default:
		return nil, errors.ErrInternal("external signature response carried no public key")
	}

	pub, err := pk.Parse()
	if err != nil {
		return nil, errors.ErrInternal("unparseable public key in external signature response").WithCause(err)
	}
	alg, err := algorithmOf(pub)
	if err != nil {
		return nil, errors.ErrInvalidAlgorithm(err.Error())
	}

	key, err := newKey(TypeExternal, uuid.New().String(), pub, alg, req.KeyAlias, req.DID, req.Attributes, req.KeyUsages)
	if err != nil {
		return nil, err
	}
	key.Certificate = cert
	for _, c := range resp.CertificateChain {
		der, err := base64.StdEncoding.DecodeString(c)
		if err != nil {
			continue
		}
		if mc, err := models.ParseMusapCertificate(der); err == nil {
			key.CertificateChain = append(key.CertificateChain, *mc)
		}
	}
	for _, a := range resp.Attributes {
		key.Attributes.Set(a.Name, a.Value)
	}
	return key, nil
}

func (e *ExternalSscd) timeoutSeconds() int {
	if v, ok := e.settings.Get(SettingTimeout); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return int(defaultExternalTimeout / time.Second)
}

func (e *ExternalSscd) Info() *models.SscdInfo { return e.info }

func (e *ExternalSscd) IsKeygenSupported() bool { return false }

func (e *ExternalSscd) Attestation() service.AttestationProvider { return service.NoAttestation{} }

func (e *ExternalSscd) Settings() *service.Settings { return e.settings }

var _ service.Sscd = (*ExternalSscd)(nil)
