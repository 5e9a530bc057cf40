package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gavelworks/marketplace-backend/internal/domain/listing"
)

var (
	// ErrInvalidToken covers malformed tokens, bad signatures, and claims
	// that fail to parse.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for structurally valid tokens past their
	// expiry so callers can distinguish re-login from tampering.
	ErrTokenExpired = errors.New("token expired")
)

// Identity is the authenticated caller extracted from a bearer token.
type Identity struct {
	UserID   uuid.UUID
	Username string
}

// AccessGate validates bearer tokens at the transport boundary and resolves
// them to caller identities. Domain code never sees tokens, only identities.
type AccessGate interface {
	// Authenticate resolves a raw bearer token to the caller's identity.
	Authenticate(token string) (*Identity, error)
	// IssueToken mints a signed token for a user.
	IssueToken(userID uuid.UUID, username string) (string, error)
}

type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type jwtGate struct {
	secret      []byte
	tokenExpiry time.Duration
	clock       listing.Clock
}

// NewJWTGate creates an HMAC-SHA256 token gate. A nil clock falls back to
// system time.
func NewJWTGate(secret string, tokenExpiry time.Duration, clock listing.Clock) AccessGate {
	if clock == nil {
		clock = listing.RealClock{}
	}
	return &jwtGate{
		secret:      []byte(secret),
		tokenExpiry: tokenExpiry,
		clock:       clock,
	}
}

func (g *jwtGate) IssueToken(userID uuid.UUID, username string) (string, error) {
	now := g.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.tokenExpiry)),
		},
	})

	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func (g *jwtGate) Authenticate(tokenString string) (*Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithTimeFunc(g.clock.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &Identity{UserID: userID, Username: c.Username}, nil
}
