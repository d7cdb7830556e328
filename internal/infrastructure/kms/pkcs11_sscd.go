package kms

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/asn1"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/miekg/pkcs11"

	"github.com/methics/musap-ios-sub000/internal/config"
	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/domain/service"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// pkcs11API is the subset of *pkcs11.Ctx used by PKCS11Sscd.
type pkcs11API interface {
	GenerateKeyPair(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, public, private []*pkcs11.Attribute) (pkcs11.ObjectHandle, pkcs11.ObjectHandle, error)
	FindObjectsInit(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) error
	FindObjects(sh pkcs11.SessionHandle, max int) ([]pkcs11.ObjectHandle, bool, error)
	FindObjectsFinal(sh pkcs11.SessionHandle) error
	GetAttributeValue(sh pkcs11.SessionHandle, o pkcs11.ObjectHandle, a []*pkcs11.Attribute) ([]*pkcs11.Attribute, error)
	SignInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error
	Sign(sh pkcs11.SessionHandle, message []byte) ([]byte, error)
	Logout(sh pkcs11.SessionHandle) error
	CloseSession(sh pkcs11.SessionHandle) error
}

var (
	oidP256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}
	oidP384 = asn1.ObjectIdentifier{1, 3, 132, 0, 34}
)

// PKCS11Sscd holds keys on a PKCS#11 token. Keys are created with a random
// CKA_ID, which becomes the key id, and labelled with the key alias.
type PKCS11Sscd struct {
	info     *models.SscdInfo
	settings *service.Settings
	logger   logger.Logger

	// A PKCS#11 session is not safe for concurrent use.
	mu      sync.Mutex
	api     pkcs11API
	session pkcs11.SessionHandle
	closer  func()
}

// NewPKCS11Sscd loads the module, opens a session on the configured slot and
// logs in.
func NewPKCS11Sscd(cfg config.PKCS11Config, log logger.Logger) (*PKCS11Sscd, error) {
	p := pkcs11.New(cfg.Library)
	if p == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 library %s", cfg.Library)
	}
	if err := p.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PKCS#11 library: %w", err)
	}

	slots, err := p.GetSlotList(true)
	if err != nil {
		return nil, fmt.Errorf("failed to get slot list: %w", err)
	}
	if int(cfg.Slot) >= len(slots) {
		return nil, fmt.Errorf("slot ID %d is out of range", cfg.Slot)
	}

	session, err := p.OpenSession(slots[cfg.Slot], pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if err := p.Login(session, pkcs11.CKU_USER, cfg.Pin); err != nil {
		_ = p.CloseSession(session)
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	s := newPKCS11Sscd(p, session, cfg.Label, log)
	s.closer = func() {
		_ = p.Finalize()
		p.Destroy()
	}
	return s, nil
}

func newPKCS11Sscd(api pkcs11API, session pkcs11.SessionHandle, label string, log logger.Logger) *PKCS11Sscd {
	if label == "" {
		label = "PKCS11"
	}
	return &PKCS11Sscd{
		info: &models.SscdInfo{
			Name:                label,
			Type:                TypePKCS11,
			Country:             "FI",
			Provider:            "PKCS#11",
			KeygenSupported:     true,
			SupportedAlgorithms: []models.KeyAlgorithm{models.ECCP256R1, models.ECCP384R1, models.RSA2K},
			SupportedFormats:    []models.SignatureFormat{models.FormatRAW},
		},
		settings: service.NewSettings(map[string]string{"label": label}),
		logger:   log.WithComponent("PKCS11Sscd"),
		api:      api,
		session:  session,
	}
}

// Close logs out and releases the module.
func (p *PKCS11Sscd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.api.Logout(p.session)
	err := p.api.CloseSession(p.session)
	if p.closer != nil {
		p.closer()
	}
	return err
}

// GenerateKey generates a key pair on the token.
func (p *PKCS11Sscd) GenerateKey(ctx context.Context, req models.KeyGenReq) (*models.MusapKey, error) {
	if req.KeyAlias == "" {
		return nil, errors.ErrMissingParam("keyAlias")
	}
	if !p.info.SupportsAlgorithm(req.Algorithm) {
		return nil, errors.ErrInvalidAlgorithm(req.Algorithm.String())
	}

	keyID := uuid.New().String()
	mech, public, private, err := keyPairTemplate(req.Algorithm, keyID, req.KeyAlias)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.findOne(pkcs11.CKO_PRIVATE_KEY, pkcs11.CKA_LABEL, req.KeyAlias); err == nil {
		return nil, errors.ErrKeyAlreadyExists(req.KeyAlias)
	}
	pubHandle, _, err := p.api.GenerateKeyPair(p.session, []*pkcs11.Mechanism{pkcs11.NewMechanism(mech, nil)}, public, private)
	if err != nil {
		p.logger.Error(ctx, "Failed to generate key pair on token", err, logger.String("key_alias", req.KeyAlias))
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	pub, err := p.publicKey(pubHandle, req.Algorithm.IsEC())
	if err != nil {
		return nil, err
	}

	p.logger.Info(ctx, "Generated PKCS#11 key",
		logger.String("key_alias", req.KeyAlias),
		logger.String("key_id", keyID),
	)
	return newKey(TypePKCS11, keyID, pub, req.Algorithm, req.KeyAlias, req.DID, req.Attributes, req.KeyUsages)
}

// BindKey adopts the key pair labelled req.KeyAlias.
func (p *PKCS11Sscd) BindKey(ctx context.Context, req models.KeyBindReq) (*models.MusapKey, error) {
	if req.KeyAlias == "" {
		return nil, errors.ErrMissingParam("keyAlias")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	priv, err := p.findOne(pkcs11.CKO_PRIVATE_KEY, pkcs11.CKA_LABEL, req.KeyAlias)
	if err != nil {
		return nil, errors.ErrUnknownKey(req.KeyAlias)
	}
	attrs, err := p.api.GetAttributeValue(p.session, priv, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_ID, nil),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read key attributes: %w", err)
	}
	keyID := string(attrs[0].Value)
	isEC := bytes.Equal(attrs[1].Value, pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_EC).Value)

	pubHandle, err := p.findOne(pkcs11.CKO_PUBLIC_KEY, pkcs11.CKA_ID, keyID)
	if err != nil {
		return nil, fmt.Errorf("public key for %s not found: %w", req.KeyAlias, err)
	}
	pub, err := p.publicKey(pubHandle, isEC)
	if err != nil {
		return nil, err
	}
	alg, err := algorithmOf(pub)
	if err != nil {
		return nil, errors.ErrInvalidAlgorithm(err.Error())
	}

	p.logger.Info(ctx, "Bound PKCS#11 key",
		logger.String("key_alias", req.KeyAlias),
		logger.String("key_id", keyID),
	)
	return newKey(TypePKCS11, keyID, pub, alg, req.KeyAlias, req.DID, req.Attributes, req.KeyUsages)
}

// Sign signs on the token with C_Sign.
func (p *PKCS11Sscd) Sign(ctx context.Context, req models.SignatureReq) (*models.Signature, error) {
	alg, err := checkSignRequest(p.info, req)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	priv, err := p.findOne(pkcs11.CKO_PRIVATE_KEY, pkcs11.CKA_ID, req.Key.KeyID())
	if err != nil {
		return nil, errors.ErrUnknownKey(req.Key.KeyAlias)
	}

	var raw []byte
	if alg.IsECDSA() {
		h := alg.Hash().New()
		h.Write(req.Data)
		if err := p.api.SignInit(p.session, []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)}, priv); err != nil {
			return nil, fmt.Errorf("failed to init signing: %w", err)
		}
		rs, err := p.api.Sign(p.session, h.Sum(nil))
		if err != nil {
			p.logger.Error(ctx, "C_Sign failed", err, logger.String("key_alias", req.Key.KeyAlias))
			return nil, fmt.Errorf("failed to sign: %w", err)
		}
		if raw, err = ecdsaRawToASN1(rs); err != nil {
			return nil, err
		}
	} else {
		mech, err := rsaMechanism(alg)
		if err != nil {
			return nil, err
		}
		if err := p.api.SignInit(p.session, []*pkcs11.Mechanism{pkcs11.NewMechanism(mech, nil)}, priv); err != nil {
			return nil, fmt.Errorf("failed to init signing: %w", err)
		}
		if raw, err = p.api.Sign(p.session, req.Data); err != nil {
			p.logger.Error(ctx, "C_Sign failed", err, logger.String("key_alias", req.Key.KeyAlias))
			return nil, fmt.Errorf("failed to sign: %w", err)
		}
	}
	return newSignature(req.Key, raw, alg, req.SignatureFormat()), nil
}

// findOne returns the first object of class whose attribute attr equals value.
func (p *PKCS11Sscd) findOne(class uint, attr uint, value string) (handle pkcs11.ObjectHandle, err error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(attr, []byte(value)),
	}
	if err = p.api.FindObjectsInit(p.session, template); err != nil {
		return 0, err
	}
	defer func() {
		finalErr := p.api.FindObjectsFinal(p.session)
		if err == nil {
			err = finalErr
		}
	}()
	handles, _, err := p.api.FindObjects(p.session, 1)
	if err != nil {
		return 0, err
	}
	if len(handles) == 0 {
		return 0, fmt.Errorf("object not found")
	}
	return handles[0], nil
}

func (p *PKCS11Sscd) publicKey(h pkcs11.ObjectHandle, isEC bool) (crypto.PublicKey, error) {
	if isEC {
		attrs, err := p.api.GetAttributeValue(p.session, h, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, nil),
			pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read EC public key: %w", err)
		}
		return parseECPoint(attrs[0].Value, attrs[1].Value)
	}
	attrs, err := p.api.GetAttributeValue(p.session, h, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read RSA public key: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(attrs[0].Value),
		E: int(new(big.Int).SetBytes(attrs[1].Value).Int64()),
	}, nil
}

func keyPairTemplate(alg models.KeyAlgorithm, keyID, label string) (uint, []*pkcs11.Attribute, []*pkcs11.Attribute, error) {
	private := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
		pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(keyID)),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, []byte(label)),
	}
	public := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
		pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(keyID)),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, []byte(label)),
	}

	switch {
	case alg.IsRSA():
		public = append(public,
			pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
			pkcs11.NewAttribute(pkcs11.CKA_MODULUS_BITS, alg.Bits),
			pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, []byte{1, 0, 1}),
		)
		private = append(private, pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA))
		return pkcs11.CKM_RSA_PKCS_KEY_PAIR_GEN, public, private, nil
	case alg.IsEC():
		var oid asn1.ObjectIdentifier
		switch alg.Curve {
		case models.CurveSecp256r1:
			oid = oidP256
		case models.CurveSecp384r1:
			oid = oidP384
		default:
			return 0, nil, nil, errors.ErrInvalidAlgorithm(alg.String())
		}
		params, err := asn1.Marshal(oid)
		if err != nil {
			return 0, nil, nil, err
		}
		public = append(public,
			pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_EC),
			pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, params),
		)
		private = append(private, pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_EC))
		return pkcs11.CKM_EC_KEY_PAIR_GEN, public, private, nil
	default:
		return 0, nil, nil, errors.ErrInvalidAlgorithm(alg.String())
	}
}

func rsaMechanism(alg models.SignatureAlgorithm) (uint, error) {
	switch alg {
	case models.SHA256WithRSA:
		return pkcs11.CKM_SHA256_RSA_PKCS, nil
	case models.SHA384WithRSA:
		return pkcs11.CKM_SHA384_RSA_PKCS, nil
	case models.SHA512WithRSA:
		return pkcs11.CKM_SHA512_RSA_PKCS, nil
	default:
		return 0, errors.ErrInvalidAlgorithm(string(alg))
	}
}

// parseECPoint decodes CKA_EC_PARAMS and the DER-wrapped CKA_EC_POINT.
func parseECPoint(params, point []byte) (*ecdsa.PublicKey, error) {
	var oid asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(params, &oid); err != nil {
		return nil, fmt.Errorf("invalid EC params: %w", err)
	}
	var curve elliptic.Curve
	switch {
	case oid.Equal(oidP256):
		curve = elliptic.P256()
	case oid.Equal(oidP384):
		curve = elliptic.P384()
	default:
		return nil, fmt.Errorf("unsupported curve %s", oid)
	}

	var raw []byte
	if _, err := asn1.Unmarshal(point, &raw); err != nil {
		raw = point
	}
	x, y := elliptic.Unmarshal(curve, raw) //nolint:staticcheck // tokens return the uncompressed point
	if x == nil {
		return nil, fmt.Errorf("invalid EC point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// ecdsaRawToASN1 converts the r||s output of CKM_ECDSA to DER.
func ecdsaRawToASN1(rs []byte) ([]byte, error) {
	if len(rs) == 0 || len(rs)%2 != 0 {
		return nil, fmt.Errorf("invalid ECDSA signature length %d", len(rs))
	}
	half := len(rs) / 2
	return asn1.Marshal(struct {
		R, S *big.Int
	}{
		R: new(big.Int).SetBytes(rs[:half]),
		S: new(big.Int).SetBytes(rs[half:]),
	})
}

func (p *PKCS11Sscd) Info() *models.SscdInfo { return p.info }

func (p *PKCS11Sscd) IsKeygenSupported() bool { return true }

func (p *PKCS11Sscd) Attestation() service.AttestationProvider { return service.NoAttestation{} }

func (p *PKCS11Sscd) Settings() *service.Settings { return p.settings }

var (
	_ service.Sscd = (*PKCS11Sscd)(nil)
	_ pkcs11API    = (*pkcs11.Ctx)(nil)
)
