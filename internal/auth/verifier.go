package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the identity claims embedded in platform access tokens. Token
// issuance belongs to the auth service; FabricGate only verifies and extracts.
type Claims struct {
	UserID      string   `json:"uid"`
	CompanyID   string   `json:"cid"`
	CompanyType string   `json:"ctype"`
	Roles       []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates an access token and returns its identity claims.
// The default implementation is JWT-based; tests substitute fakes.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// JWTConfig bundles the configuration required to build a JWTVerifier.
type JWTConfig struct {
	Secret string
	Issuer string
	Clock  func() time.Time
}

// JWTVerifier validates HS256 access tokens issued by the platform auth service.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTVerifier constructs a verifier from the shared signing secret.
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTVerifier{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		now:    now,
	}, nil
}

// Verify parses and validates a signed token, returning the identity claims.
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("jwt: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: parse token: %w", err)
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, errors.New("jwt: invalid issuer")
	}
	if claims.UserID == "" {
		return nil, errors.New("jwt: missing user id claim")
	}
	if claims.CompanyID == "" {
		return nil, errors.New("jwt: missing company id claim")
	}

	return &claims, nil
}
