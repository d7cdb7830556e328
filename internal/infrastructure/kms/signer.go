// Package kms provides the reference SSCD backends: in-process software keys,
// keys held in HashiCorp Vault, keys on a PKCS#11 token, and a remote SSCD
// reached through MUSAP Link.
package kms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/pkg/errors"
)

// Backend types.
const (
	TypeSoftware = "SOFTWARE"
	TypeVault    = "VAULT"
	TypePKCS11   = "PKCS11"
	TypeExternal = "EXTERNAL"
)

// generateSigner creates an in-process private key for alg.
func generateSigner(alg models.KeyAlgorithm) (crypto.Signer, error) {
	switch {
	case alg.IsRSA():
		if alg.Bits < 2048 {
			return nil, errors.ErrInvalidAlgorithm(alg.String())
		}
		return rsa.GenerateKey(rand.Reader, alg.Bits)
	case alg.IsEC():
		curve, err := curveFor(alg)
		if err != nil {
			return nil, err
		}
		return ecdsa.GenerateKey(curve, rand.Reader)
	default:
		return nil, errors.ErrInvalidAlgorithm(alg.String())
	}
}

func curveFor(alg models.KeyAlgorithm) (elliptic.Curve, error) {
	switch alg.Curve {
	case models.CurveSecp256r1:
		return elliptic.P256(), nil
	case models.CurveSecp384r1:
		return elliptic.P384(), nil
	default:
		return nil, errors.ErrInvalidAlgorithm(alg.String())
	}
}

// algorithmOf recovers the key algorithm of a public key.
func algorithmOf(pub crypto.PublicKey) (models.KeyAlgorithm, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return models.KeyAlgorithm{Primitive: models.PrimitiveRSA, Bits: k.N.BitLen()}, nil
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return models.ECCP256R1, nil
		case elliptic.P384():
			return models.ECCP384R1, nil
		}
		return models.KeyAlgorithm{}, fmt.Errorf("unsupported curve %s", k.Curve.Params().Name)
	default:
		return models.KeyAlgorithm{}, fmt.Errorf("unsupported public key type %T", pub)
	}
}

// checkSignRequest validates req against the backend and returns the
// signature algorithm to use.
func checkSignRequest(info *models.SscdInfo, req models.SignatureReq) (models.SignatureAlgorithm, error) {
	if req.Key == nil {
		return "", errors.ErrMissingParam("key")
	}
	if len(req.Data) == 0 {
		return "", errors.ErrMissingParam("data")
	}
	alg := req.SignatureAlgorithm()
	if !alg.Valid() || !alg.CompatibleWith(req.Key.Algorithm) {
		return "", errors.ErrInvalidAlgorithm(string(alg))
	}
	if f := req.SignatureFormat(); !info.SupportsFormat(f) {
		return "", errors.ErrUnsupportedData(fmt.Sprintf("signature format %s not supported by %s", f, info.Name))
	}
	return alg, nil
}

// signWith hashes data and signs the digest. ECDSA output is ASN.1 DER and
// RSA output is PKCS#1 v1.5.
func signWith(signer crypto.Signer, alg models.SignatureAlgorithm, data []byte) ([]byte, error) {
	h := alg.Hash()
	hasher := h.New()
	hasher.Write(data)
	digest := hasher.Sum(nil)

	switch signer.Public().(type) {
	case *rsa.PublicKey:
		if !alg.IsRSA() {
			return nil, errors.ErrInvalidAlgorithm(string(alg))
		}
	case *ecdsa.PublicKey:
		if !alg.IsECDSA() {
			return nil, errors.ErrInvalidAlgorithm(string(alg))
		}
	}
	return signer.Sign(rand.Reader, digest, h)
}

// newKey builds the key record returned by a backend. The owning SSCD id and
// the KeyURI are set by the caller once the key is accepted.
func newKey(sscdType, keyID string, pub crypto.PublicKey, alg models.KeyAlgorithm, alias, did string, attrs []models.KeyAttribute, usages []string) (*models.MusapKey, error) {
	pk, err := models.NewPublicKey(pub)
	if err != nil {
		return nil, err
	}
	key := models.NewMusapKey(alias, sscdType, alg)
	key.PublicKey = pk
	key.DID = did
	key.Attributes = models.NewAttributes(attrs...)
	key.KeyUsages = usages
	key.State = models.KeyStateActive
	if err := key.AssignKeyID(keyID); err != nil {
		return nil, err
	}
	return key, nil
}

func newSignature(key *models.MusapKey, raw []byte, alg models.SignatureAlgorithm, format models.SignatureFormat) *models.Signature {
	return &models.Signature{
		RawSignature: raw,
		Key:          key,
		Algorithm:    alg,
		Format:       format,
	}
}
