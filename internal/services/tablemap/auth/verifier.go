package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	"github.com/louisbranch/tablemap/internal/services/tablemap/domain"
)

// ErrInvalidCredential marks bearer tokens that failed verification.
var ErrInvalidCredential = errors.New("invalid credential")

// ErrVerifierDisabled is returned when no public key is configured.
var ErrVerifierDisabled = errors.New("credential verification is not configured")

// authEnv holds raw env values before post-parse validation.
type authEnv struct {
	Issuer    string `env:"TABLEMAP_AUTH_ISSUER"`
	Audience  string `env:"TABLEMAP_AUTH_AUDIENCE"`
	PublicKey string `env:"TABLEMAP_AUTH_PUBLIC_KEY"`
}

// Config defines how bearer credentials are verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// Enabled reports whether a verification key is configured.
func (c Config) Enabled() bool {
	return len(c.Key) == ed25519.PublicKeySize
}

// Claims captures the validated credential claims.
type Claims struct {
	UserID    string
	SessionID string
	Role      domain.Role
	ExpiresAt time.Time
}

type sessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
}

// LoadConfigFromEnv reads verification configuration. With no public key every
// connection is treated as a guest.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw authEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse auth env: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	cfg := Config{
		Issuer:   strings.TrimSpace(raw.Issuer),
		Audience: strings.TrimSpace(raw.Audience),
		Now:      now,
	}
	publicKey := strings.TrimSpace(raw.PublicKey)
	if publicKey == "" {
		return cfg, nil
	}
	if cfg.Issuer == "" {
		return Config{}, fmt.Errorf("TABLEMAP_AUTH_ISSUER is required")
	}
	if cfg.Audience == "" {
		return Config{}, fmt.Errorf("TABLEMAP_AUTH_AUDIENCE is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode auth public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return Config{}, fmt.Errorf("auth public key must be %d bytes", ed25519.PublicKeySize)
	}
	cfg.Key = ed25519.PublicKey(keyBytes)
	return cfg, nil
}

// Verifier validates EdDSA bearer tokens.
type Verifier struct {
	cfg Config
}

// NewVerifier returns a verifier for cfg.
func NewVerifier(cfg Config) *Verifier {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{cfg: cfg}
}

// Verify checks signature, issuer, audience, and validity window.
func (v *Verifier) Verify(token string) (Claims, error) {
	if v == nil || !v.cfg.Enabled() {
		return Claims{}, ErrVerifierDisabled
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, fmt.Errorf("%w: token is required", ErrInvalidCredential)
	}

	var parsed sessionClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.cfg.Now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	userID := strings.TrimSpace(parsed.Subject)
	if userID == "" {
		return Claims{}, fmt.Errorf("%w: sub is required", ErrInvalidCredential)
	}
	role := domain.RolePlayer
	if strings.TrimSpace(parsed.Role) != "" {
		role = domain.ParseRole(parsed.Role)
	}
	return Claims{
		UserID:    userID,
		SessionID: strings.TrimSpace(parsed.SessionID),
		Role:      role,
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}, nil
}

// Authenticate resolves the identity for a connection. Missing or invalid
// credentials degrade to a guest identity instead of failing.
func (v *Verifier) Authenticate(connectionID, token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Guest(connectionID), nil
	}
	claims, err := v.Verify(token)
	if err != nil {
		return Guest(connectionID), err
	}
	return FromClaims(connectionID, claims), nil
}

// Signer issues tokens the Verifier accepts. Used by tooling and tests.
type Signer struct {
	Issuer   string
	Audience string
	Key      ed25519.PrivateKey
	Now      func() time.Time
}

// Sign issues a token for claims valid for ttl.
func (s Signer) Sign(claims Claims, ttl time.Duration) (string, error) {
	if s.Issuer == "" || s.Audience == "" || len(s.Key) != ed25519.PrivateKeySize {
		return "", errors.New("auth signer is not configured")
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	issuedAt := now().UTC()
	payload := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   claims.UserID,
			Audience:  jwt.ClaimStrings{s.Audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		SessionID: claims.SessionID,
		Role:      string(claims.Role),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, payload).SignedString(s.Key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
