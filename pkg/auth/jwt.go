// Package auth provides JWT issuance/verification, password hashing,
// and gateway principal extraction for the document service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidConfig indicates invalid issuer configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config configures the JWT issuer/verifier.
type Config struct {
	// Secret signs and verifies HS256 tokens (JWT_SECRET).
	Secret string

	// Algorithm names the signing algorithm (JWT_ALG, default HS256).
	Algorithm string

	// TTL is how long issued tokens remain valid (JWT_TTL_MINUTES).
	TTL time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Algorithm == "" {
		c.Algorithm = "HS256"
	}
	if c.TTL == 0 {
		c.TTL = 30 * time.Minute
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("%w: secret required", ErrInvalidConfig)
	}
	if c.Algorithm != "HS256" {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, c.Algorithm)
	}
	return nil
}

// Issuer issues and verifies access tokens for /auth/login.
type Issuer struct {
	config Config
}

// NewIssuer creates an Issuer from the given configuration.
func NewIssuer(config Config) (*Issuer, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Issuer{config: config}, nil
}

// claims is the minimal JWT claim set this service issues: subject plus
// standard registered claims.
type claims struct {
	jwt.RegisteredClaims
}

// Issue mints a signed access token for subject sub, valid for the
// issuer's configured TTL.
func (i *Issuer) Issue(sub string) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.TTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString([]byte(i.config.Secret))
}

// Verify parses and validates tokenString, returning its subject claim.
func (i *Issuer) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(i.config.Secret), nil
	})
	if err != nil {
		return "", err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	return c.Subject, nil
}
