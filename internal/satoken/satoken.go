// Package satoken verifies service-account self-signed assertions on behalf
// of transport implementations. Verification covers signature, algorithm
// allow-list, audience, expiry with leeway, and the scope policy requested by
// the transport.
package satoken

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized indicates the assertion failed validation (signature,
// audience, expiry) and the caller must be treated as unauthenticated.
var ErrUnauthorized = errors.New("satoken: unauthorized")

// ErrInsufficientScope indicates a valid assertion that does not cover the
// scope set the transport requires.
var ErrInsufficientScope = errors.New("satoken: insufficient scope")

// Config controls assertion validation.
type Config struct {
	// Audience the assertion must name.
	Audience string
	// RequiredScopes must all be present in the assertion's scope claim.
	RequiredScopes []string
	// AllowedAlgs restricts acceptable signing algorithms.
	AllowedAlgs []string
	// Leeway tolerates clock skew on time-based claims.
	Leeway time.Duration
}

// DefaultConfig returns a Config with safe algorithm and leeway defaults.
func DefaultConfig(audience string) *Config {
	return &Config{
		Audience:    audience,
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// Grant is the validated identity extracted from an assertion.
type Grant struct {
	// Email is the service-account identity (iss/sub).
	Email string
	// Scopes are the space-separated scope claim entries.
	Scopes []string
}

// Verify parses and validates a compact assertion against the account's
// public key and the config policy.
func Verify(assertion string, key *rsa.PublicKey, cfg *Config) (*Grant, error) {
	if assertion == "" {
		return nil, fmt.Errorf("%w: empty assertion", ErrUnauthorized)
	}
	if cfg == nil {
		return nil, errors.New("satoken: config is required")
	}
	allowed := cfg.AllowedAlgs
	if len(allowed) == 0 {
		allowed = []string{"RS256"}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(allowed),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	parsed, err := parser.Parse(assertion, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: parse/verify failed: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}

	iss, _ := claims["iss"].(string)
	if iss == "" {
		return nil, fmt.Errorf("%w: missing iss", ErrUnauthorized)
	}
	if sub, _ := claims["sub"].(string); sub != "" && sub != iss {
		return nil, fmt.Errorf("%w: sub/iss mismatch", ErrUnauthorized)
	}

	scopeStr, _ := claims["scope"].(string)
	scopes := strings.Fields(scopeStr)
	if len(cfg.RequiredScopes) > 0 {
		have := make(map[string]bool, len(scopes))
		for _, s := range scopes {
			have[s] = true
		}
		for _, want := range cfg.RequiredScopes {
			if !have[want] {
				return nil, fmt.Errorf("%w: missing %s", ErrInsufficientScope, want)
			}
		}
	}

	return &Grant{Email: iss, Scopes: scopes}, nil
}
