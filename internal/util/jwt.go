package util

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the Supabase access-token claims the API reads.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func parsePublicKey(pemKey string) (any, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}

var (
	hmacMethods       = []string{"HS256", "HS384", "HS512"}
	asymmetricMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}
)

// verifierFor decides from the configured key alone which algorithms a token
// may use. A PEM public key only verifies RS*/ES* tokens; anything else is an
// HMAC secret. The token header never chooses the key type.
func verifierFor(keyMaterial string) ([]string, jwt.Keyfunc, error) {
	if block, _ := pem.Decode([]byte(keyMaterial)); block == nil {
		secret := []byte(keyMaterial)
		return hmacMethods, func(*jwt.Token) (any, error) { return secret, nil }, nil
	}
	pub, err := parsePublicKey(keyMaterial)
	if err != nil {
		return nil, nil, err
	}
	keyfunc := func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA:
			rsaPub, ok := pub.(*rsa.PublicKey)
			if !ok {
				return nil, errors.New("public key is not RSA")
			}
			return rsaPub, nil
		case *jwt.SigningMethodECDSA:
			ecPub, ok := pub.(*ecdsa.PublicKey)
			if !ok {
				return nil, errors.New("public key is not ECDSA")
			}
			return ecPub, nil
		default:
			return nil, fmt.Errorf("unsupported signing algorithm: %v", t.Header["alg"])
		}
	}
	return asymmetricMethods, keyfunc, nil
}

// ValidateJWT verifies a Supabase access token and returns its claims.
func ValidateJWT(tokenString string, keyMaterial string) (*Claims, error) {
	if keyMaterial == "" {
		return nil, errors.New("no verification key configured")
	}
	methods, keyfunc, err := verifierFor(keyMaterial)
	if err != nil {
		return nil, err
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyfunc, jwt.WithValidMethods(methods))
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
