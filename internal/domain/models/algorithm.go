package models

import (
	"crypto"
	"fmt"
	"strconv"
	"strings"
)

// Key primitives.
const (
	PrimitiveRSA = "RSA"
	PrimitiveEC  = "EC"
)

// Named curves.
const (
	CurveSecp256r1 = "secp256r1"
	CurveSecp384r1 = "secp384r1"
)

// KeyAlgorithm identifies a key type: RSA with a modulus size, or EC on a named curve.
type KeyAlgorithm struct {
	Primitive string `json:"primitive"`
	Curve     string `json:"curve,omitempty"`
	Bits      int    `json:"bits"`
}

var (
	RSA2K     = KeyAlgorithm{Primitive: PrimitiveRSA, Bits: 2048}
	RSA4K     = KeyAlgorithm{Primitive: PrimitiveRSA, Bits: 4096}
	ECCP256R1 = KeyAlgorithm{Primitive: PrimitiveEC, Curve: CurveSecp256r1, Bits: 256}
	ECCP384R1 = KeyAlgorithm{Primitive: PrimitiveEC, Curve: CurveSecp384r1, Bits: 384}
)

// IsRSA reports whether the algorithm is RSA.
func (a KeyAlgorithm) IsRSA() bool { return a.Primitive == PrimitiveRSA }

// IsEC reports whether the algorithm is elliptic curve.
func (a KeyAlgorithm) IsEC() bool { return a.Primitive == PrimitiveEC }

// IsZero reports whether the algorithm is unset.
func (a KeyAlgorithm) IsZero() bool { return a == KeyAlgorithm{} }

// Equal compares primitive, curve and size.
func (a KeyAlgorithm) Equal(other KeyAlgorithm) bool {
	return a.Primitive == other.Primitive && a.Curve == other.Curve && a.Bits == other.Bits
}

// String renders the algorithm as PRIMITIVE[/curve]/bits.
func (a KeyAlgorithm) String() string {
	if a.Curve != "" {
		return fmt.Sprintf("%s/%s/%d", a.Primitive, a.Curve, a.Bits)
	}
	return fmt.Sprintf("%s/%d", a.Primitive, a.Bits)
}

// ParseKeyAlgorithm is the inverse of String.
func ParseKeyAlgorithm(s string) (KeyAlgorithm, error) {
	parts := strings.Split(s, "/")
	var alg KeyAlgorithm
	switch len(parts) {
	case 2:
		alg.Primitive = strings.ToUpper(parts[0])
	case 3:
		alg.Primitive = strings.ToUpper(parts[0])
		alg.Curve = parts[1]
	default:
		return KeyAlgorithm{}, fmt.Errorf("malformed key algorithm %q", s)
	}
	bits, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || bits <= 0 {
		return KeyAlgorithm{}, fmt.Errorf("malformed key size in %q", s)
	}
	alg.Bits = bits
	if !alg.IsRSA() && !alg.IsEC() {
		return KeyAlgorithm{}, fmt.Errorf("unknown key primitive %q", parts[0])
	}
	return alg, nil
}

// DefaultSignatureAlgorithm picks the signature algorithm used when a request
// names none: ECDSA sized to the curve (SHA-256 for unknown sizes) or
// PKCS#1 v1.5 with SHA-256 for any RSA key.
func (a KeyAlgorithm) DefaultSignatureAlgorithm() SignatureAlgorithm {
	if a.IsEC() {
		switch a.Bits {
		case 256:
			return SHA256WithECDSA
		case 384:
			return SHA384WithECDSA
		default:
			return SHA256WithECDSA
		}
	}
	return SHA256WithRSA
}

// SignatureAlgorithm is a JCA-style signature algorithm name.
type SignatureAlgorithm string

const (
	SHA256WithECDSA SignatureAlgorithm = "SHA256withECDSA"
	SHA384WithECDSA SignatureAlgorithm = "SHA384withECDSA"
	SHA512WithECDSA SignatureAlgorithm = "SHA512withECDSA"
	SHA256WithRSA   SignatureAlgorithm = "SHA256withRSA"
	SHA384WithRSA   SignatureAlgorithm = "SHA384withRSA"
	SHA512WithRSA   SignatureAlgorithm = "SHA512withRSA"
)

// IsECDSA reports whether the algorithm is an ECDSA variant.
func (s SignatureAlgorithm) IsECDSA() bool {
	return strings.HasSuffix(string(s), "withECDSA")
}

// IsRSA reports whether the algorithm is a PKCS#1 v1.5 RSA variant.
func (s SignatureAlgorithm) IsRSA() bool {
	return strings.HasSuffix(string(s), "withRSA")
}

// Hash returns the digest used by the algorithm, or 0 when unknown.
func (s SignatureAlgorithm) Hash() crypto.Hash {
	switch {
	case strings.HasPrefix(string(s), "SHA256"):
		return crypto.SHA256
	case strings.HasPrefix(string(s), "SHA384"):
		return crypto.SHA384
	case strings.HasPrefix(string(s), "SHA512"):
		return crypto.SHA512
	default:
		return 0
	}
}

// Valid reports whether the algorithm is one of the known names.
func (s SignatureAlgorithm) Valid() bool {
	return s.Hash() != 0 && (s.IsECDSA() || s.IsRSA())
}

// CompatibleWith reports whether the algorithm can be used with a key of alg.
func (s SignatureAlgorithm) CompatibleWith(alg KeyAlgorithm) bool {
	return (s.IsECDSA() && alg.IsEC()) || (s.IsRSA() && alg.IsRSA())
}

// SignatureFormat is the container format of a produced signature.
type SignatureFormat string

const (
	FormatRAW   SignatureFormat = "RAW"
	FormatCMS   SignatureFormat = "CMS"
	FormatPKCS1 SignatureFormat = "PKCS1"
)
