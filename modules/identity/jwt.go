// Package identity verifies bearer tokens presented on the socket
// handshake. Credential storage and token issuance live in the external
// identity provider; this package only validates what it issued.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Handshake verification errors. All of them are terminal for the
// connection that presented the token.
var (
	// ErrTokenMissing is returned when no bearer token was presented.
	ErrTokenMissing = errors.New("bearer token missing")
	// ErrTokenMalformed is returned when the header or token cannot be parsed.
	ErrTokenMalformed = errors.New("bearer token malformed")
	// ErrTokenExpired is returned when the token has expired.
	ErrTokenExpired = errors.New("token has expired")
	// ErrTokenInvalid is returned when the token fails validation.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrUserNotFound is returned when the token subject cannot be resolved.
	ErrUserNotFound = errors.New("token user not found")
)

// Identity is the authenticated principal of a verified token.
type Identity struct {
	UserID uint
}

// UserResolver checks that a token subject still resolves to a known user.
// A nil resolver trusts the token issuer.
type UserResolver interface {
	UserExists(ctx context.Context, userID uint) (bool, error)
}

// Claims is the token payload issued by the identity provider.
type Claims struct {
	UserID uint `json:"user_id"`
	jwt.RegisteredClaims
}

// Config holds verifier configuration.
type Config struct {
	SecretKey     string
	Issuer        string
	TokenDuration time.Duration
}

// DefaultConfig returns a default configuration. The secret key must be
// overridden from the environment in production.
func DefaultConfig() Config {
	return Config{
		SecretKey:     "change-me-in-production",
		Issuer:        "chat-fanout-demo",
		TokenDuration: 15 * time.Minute,
	}
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	config   Config
	resolver UserResolver
}

// NewVerifier creates a verifier. resolver may be nil.
func NewVerifier(config Config, resolver UserResolver) *Verifier {
	return &Verifier{config: config, resolver: resolver}
}

// VerifyBearer validates an Authorization header value of the form
// "Bearer <token>" and returns the authenticated identity.
func (v *Verifier) VerifyBearer(ctx context.Context, header string) (*Identity, error) {
	if header == "" {
		return nil, ErrTokenMissing
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return nil, ErrTokenMalformed
	}

	return v.VerifyToken(ctx, parts[1])
}

// VerifyToken validates a raw token string.
func (v *Verifier) VerifyToken(ctx context.Context, tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return []byte(v.config.SecretKey), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		default:
			return nil, ErrTokenInvalid
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, ErrTokenInvalid
	}

	if v.resolver != nil {
		exists, err := v.resolver.UserExists(ctx, claims.UserID)
		if err != nil {
			return nil, ErrTokenInvalid
		}
		if !exists {
			return nil, ErrUserNotFound
		}
	}

	return &Identity{UserID: claims.UserID}, nil
}

// GenerateToken issues a token for a user. Token issuance belongs to the
// identity provider; this helper exists for tests and local tooling.
func (v *Verifier) GenerateToken(userID uint) (string, error) {
	return v.generateToken(userID, v.config.TokenDuration)
}

// GenerateExpiredToken issues an already-expired token for tests.
func (v *Verifier) GenerateExpiredToken(userID uint) (string, error) {
	return v.generateToken(userID, -time.Minute)
}

func (v *Verifier) generateToken(userID uint, duration time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.config.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(v.config.SecretKey))
}
