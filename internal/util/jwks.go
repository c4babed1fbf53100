package util

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// JWKS is the document GoTrue serves at /auth/v1/.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	// EC
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	// RSA
	N string `json:"n"`
	E string `json:"e"`
}

// SigningKey picks the key with the given kid, or the first signing key when
// kid is empty.
func (s JWKS) SigningKey(kid string) (JWK, error) {
	for _, k := range s.Keys {
		if kid != "" && k.Kid != kid {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		return k, nil
	}
	if kid != "" {
		return JWK{}, fmt.Errorf("no signing key with kid %q", kid)
	}
	return JWK{}, errors.New("no signing keys in JWKS")
}

// PEM encodes the public key as a PKIX "PUBLIC KEY" block, the format
// ValidateJWT expects for RS* and ES* tokens.
func (k JWK) PEM() ([]byte, error) {
	pub, err := k.publicKey()
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func (k JWK) publicKey() (any, error) {
	switch k.Kty {
	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		x, err := decodeCoordinate(k.X)
		if err != nil {
			return nil, fmt.Errorf("decode x: %w", err)
		}
		y, err := decodeCoordinate(k.Y)
		if err != nil {
			return nil, fmt.Errorf("decode y: %w", err)
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	case "RSA":
		n, err := decodeCoordinate(k.N)
		if err != nil {
			return nil, fmt.Errorf("decode modulus: %w", err)
		}
		e, err := decodeCoordinate(k.E)
		if err != nil {
			return nil, fmt.Errorf("decode exponent: %w", err)
		}
		if !e.IsInt64() || e.Int64() > 1<<31-1 {
			return nil, errors.New("rsa exponent out of range")
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case "oct":
		return nil, errors.New("symmetric keys have no public form; use the JWT secret directly")
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

func decodeCoordinate(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty value")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
