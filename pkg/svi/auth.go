package svi

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthType selects how requests to the model service are authenticated.
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeToken AuthType = "token"
	AuthTypeJWT   AuthType = "jwt"
)

// Authenticator adds credentials to an outgoing request.
type Authenticator interface {
	AddAuthHeaders(req *http.Request) error
}

// TokenAuthenticator sends a static bearer token.
type TokenAuthenticator struct {
	token string
}

func NewTokenAuthenticator(token string) *TokenAuthenticator {
	return &TokenAuthenticator{token: token}
}

func (t *TokenAuthenticator) AddAuthHeaders(req *http.Request) error {
	if t.token == "" {
		return fmt.Errorf("empty model API token")
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	return nil
}

// JWTAuthenticator signs a short-lived ES256 token per request.
type JWTAuthenticator struct {
	keyName    string
	privateKey *ecdsa.PrivateKey
	ttl        time.Duration
}

func NewJWTAuthenticator(keyName, privateKeyPEM string) (*JWTAuthenticator, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the private key")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS8 format
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC private key: %w", err)
		}
		var ok bool
		privateKey, ok = key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an EC private key")
		}
	}

	return &JWTAuthenticator{
		keyName:    keyName,
		privateKey: privateKey,
		ttl:        2 * time.Minute,
	}, nil
}

func (j *JWTAuthenticator) AddAuthHeaders(req *http.Request) error {
	token, err := j.generateJWT(req.Method, req.URL.Host, req.URL.Path)
	if err != nil {
		return fmt.Errorf("failed to generate JWT: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (j *JWTAuthenticator) generateJWT(method, host, path string) (string, error) {
	nonce, err := generateNonce()
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   j.keyName,
		"iss":   "volsurface",
		"nbf":   now.Unix(),
		"exp":   now.Add(j.ttl).Unix(),
		"uri":   method + " " + host + path,
		"nonce": nonce,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = j.keyName

	signed, err := token.SignedString(j.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewAuthenticator builds the authenticator for authType. It returns nil for AuthTypeNone.
func NewAuthenticator(authType AuthType, token, keyName, privateKeyPEM string) (Authenticator, error) {
	switch authType {
	case "", AuthTypeNone:
		return nil, nil
	case AuthTypeToken:
		return NewTokenAuthenticator(token), nil
	case AuthTypeJWT:
		a, err := NewJWTAuthenticator(keyName, privateKeyPEM)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", authType)
	}
}
