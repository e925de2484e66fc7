// Package token mints and validates the signed access and refresh credentials
// used across the marketplace API.
//
// Access and refresh tokens are self-contained HS256 JWTs carrying the
// subject id, a role tag, and a token-type discriminator. Refresh tokens
// additionally carry a unique jti so individual tokens can be revoked on
// rotation. The two classes are signed with independent secrets.
//
// # What this package must NOT do
//
//   - Consult the revocation list — that check belongs to the engine, which
//     performs it before trusting any claims returned from here.
//   - Import healauth or any internal package (no import cycles).
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Type discriminates the two token classes carried in the typ claim.
type Type string

const (
	// TypeAccess is an exported constant or variable used by the token codec.
	TypeAccess Type = "access"
	// TypeRefresh is an exported constant or variable used by the token codec.
	TypeRefresh Type = "refresh"
)

const minSecretBytes = 32

var (
	// ErrInvalidPayload is an exported constant or variable used by the token codec.
	ErrInvalidPayload = errors.New("token payload missing subject or role")
	// ErrExpired is an exported constant or variable used by the token codec.
	ErrExpired = errors.New("token expired")
	// ErrMalformed is an exported constant or variable used by the token codec.
	ErrMalformed = errors.New("token malformed")
	// ErrWrongType is an exported constant or variable used by the token codec.
	ErrWrongType = errors.New("token type mismatch")
)

// Config defines a public type used by healauth APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// Claims is the JWT claim set for both token classes.
type Claims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Payload is the verified result of parsing a token.
type Payload struct {
	SubjectID string
	Role      string
	TokenType Type
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Manager defines a public type used by healauth APIs.
//
// Manager instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a ready Manager. Construction fails
// when either secret is shorter than 32 bytes or when the two secrets are
// identical: a shared key would let an access token be replayed as a refresh
// token under a forged typ claim if one signing path were ever compromised.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if len(cfg.AccessSecret) < minSecretBytes {
		return nil, errors.New("access secret below minimum length")
	}
	if len(cfg.RefreshSecret) < minSecretBytes {
		return nil, errors.New("refresh secret below minimum length")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)

	return &Manager{config: cfg}, nil
}

// MintAccess describes the mintaccess operation and its observable behavior.
//
// MintAccess may return an error when input validation, dependency calls, or security checks fail.
// MintAccess does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) MintAccess(subjectID, role string) (string, error) {
	return m.mint(subjectID, role, TypeAccess, "", m.config.AccessTTL, m.config.AccessSecret)
}

// MintRefresh mints a refresh token. When tokenID is empty a new jti is
// generated; rotation passes the old jti through so audit trails can link
// the pair.
func (m *Manager) MintRefresh(subjectID, role, tokenID string) (string, error) {
	if tokenID == "" {
		tokenID = uuid.NewString()
	}
	return m.mint(subjectID, role, TypeRefresh, tokenID, m.config.RefreshTTL, m.config.RefreshSecret)
}

func (m *Manager) mint(subjectID, role string, typ Type, tokenID string, ttl time.Duration, secret []byte) (string, error) {
	if strings.TrimSpace(subjectID) == "" || strings.TrimSpace(role) == "" {
		return "", ErrInvalidPayload
	}

	now := time.Now()
	claims := Claims{
		Role:      role,
		TokenType: string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    m.config.Issuer,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyAccess describes the verifyaccess operation and its observable behavior.
//
// VerifyAccess may return an error when input validation, dependency calls, or security checks fail.
// VerifyAccess does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) VerifyAccess(raw string) (Payload, error) {
	return m.verify(raw, TypeAccess, m.config.AccessSecret)
}

// VerifyRefresh describes the verifyrefresh operation and its observable behavior.
//
// VerifyRefresh may return an error when input validation, dependency calls, or security checks fail.
// VerifyRefresh does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Manager) VerifyRefresh(raw string) (Payload, error) {
	return m.verify(raw, TypeRefresh, m.config.RefreshSecret)
}

func (m *Manager) verify(raw string, want Type, secret []byte) (Payload, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			// The type claim still distinguishes access-presented-as-refresh
			// from a genuinely stale credential of the right class.
			if claims := decodeClaims(raw); claims != nil && claims.TokenType != string(want) {
				return Payload{}, ErrWrongType
			}
			return Payload{}, ErrExpired
		}
		return Payload{}, ErrMalformed
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Payload{}, ErrMalformed
	}
	if claims.TokenType != string(want) {
		return Payload{}, ErrWrongType
	}
	if claims.Subject == "" || claims.Role == "" {
		return Payload{}, ErrMalformed
	}

	return payloadFromClaims(claims), nil
}

// DecodeUnsafe extracts claims without verifying signature or expiry. It is
// used only to recover subject, role and expiry from a token being revoked,
// where the token may already be expired but must still be recorded. Returns
// nil when the token cannot be decoded at all.
func (m *Manager) DecodeUnsafe(raw string) *Payload {
	claims := decodeClaims(raw)
	if claims == nil {
		return nil
	}
	payload := payloadFromClaims(claims)
	return &payload
}

func decodeClaims(raw string) *Claims {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(raw, &Claims{})
	if err != nil {
		return nil
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil
	}
	return claims
}

func payloadFromClaims(claims *Claims) Payload {
	payload := Payload{
		SubjectID: claims.Subject,
		Role:      claims.Role,
		TokenType: Type(claims.TokenType),
		TokenID:   claims.ID,
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}
	return payload
}
