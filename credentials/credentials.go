// Package credentials loads service-account credential material and mints
// the self-signed assertions a transport exchanges for an authorized
// connection. Credential material is structured JSON carrying the account
// identity and its RSA private key in PEM form.
package credentials

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// ErrMalformed indicates the credential material could not be parsed into a
// usable service account.
var ErrMalformed = errors.New("credentials: malformed service account")

// ServiceAccount is a parsed service-account credential. The private key is
// retained only to sign assertions; it never leaves the process.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`

	key *rsa.PrivateKey
}

// Parse decodes raw service-account JSON and validates the key material.
func Parse(raw []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if sa.ClientEmail == "" {
		return nil, fmt.Errorf("%w: missing client_email", ErrMalformed)
	}
	if sa.PrivateKey == "" {
		return nil, fmt.Errorf("%w: missing private_key", ErrMalformed)
	}
	key, err := parseRSAKey([]byte(sa.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sa.key = key
	return &sa, nil
}

// ReadFile loads and parses a service-account file.
func ReadFile(path string) (*ServiceAccount, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s: %w", path, err)
	}
	return Parse(raw)
}

// PublicKey returns the verification half of the account's key.
func (sa *ServiceAccount) PublicKey() *rsa.PublicKey {
	return &sa.key.PublicKey
}

// assertionClaims is the payload of a self-signed assertion.
type assertionClaims struct {
	Issuer   string `json:"iss"`
	Subject  string `json:"sub"`
	Audience string `json:"aud"`
	Scope    string `json:"scope"`
	IssuedAt int64  `json:"iat"`
	Expiry   int64  `json:"exp"`
}

// SignedAssertion mints a compact JWS identifying this account to a
// transport. The audience names the transport's authorization surface and
// the scope claim carries the space-joined requested scopes.
func (sa *ServiceAccount) SignedAssertion(audience string, scopes []string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	payload, err := json.Marshal(assertionClaims{
		Issuer:   sa.ClientEmail,
		Subject:  sa.ClientEmail,
		Audience: audience,
		Scope:    strings.Join(scopes, " "),
		IssuedAt: now.Unix(),
		Expiry:   now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("credentials: marshal claims: %w", err)
	}

	opts := (&jose.SignerOptions{}).WithType("JWT")
	if sa.PrivateKeyID != "" {
		opts = opts.WithHeader("kid", sa.PrivateKeyID)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: sa.key}, opts)
	if err != nil {
		return "", fmt.Errorf("credentials: create signer: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("credentials: sign assertion: %w", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("credentials: serialize assertion: %w", err)
	}
	return compact, nil
}

func parseRSAKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block in private_key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", parsed)
	}
	return key, nil
}
