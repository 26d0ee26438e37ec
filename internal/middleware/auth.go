// Package middleware holds the fiber middleware shared by every route:
// identity, request logging, tracing and throttling.
package middleware

import (
	"errors"
	"strings"
	"time"

	"socialsync/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const localUserID = "userID"

var (
	errNoCredentials = errors.New("bearer token required")
	errBadScheme     = errors.New("authorization header must use the Bearer scheme")
	errBadToken      = errors.New("invalid or expired token")
	errBadSubject    = errors.New("token subject is not a user id")
)

// IssueToken signs an HS256 token for userID. The seeder and tests use it
// to stand in for the identity provider.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies raw and returns its subject, which must be a UUID.
func ParseToken(secret, raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", errBadToken
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", errBadSubject
	}
	return claims.Subject, nil
}

// Authenticator resolves the caller's user id from a signed token.
type Authenticator struct {
	secret string
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: secret}
}

func bearer(c *fiber.Ctx) (string, error) {
	h := c.Get(fiber.HeaderAuthorization)
	if h == "" {
		return "", errNoCredentials
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || scheme != "Bearer" || tok == "" {
		return "", errBadScheme
	}
	return tok, nil
}

// Required rejects requests without a valid bearer token.
func (a *Authenticator) Required(c *fiber.Ctx) error {
	tok, err := bearer(c)
	if err != nil {
		return unauthorized(c, err)
	}
	return a.admit(c, tok)
}

// WebSocket also accepts ?token=, since browsers cannot set headers on an
// upgrade request.
func (a *Authenticator) WebSocket(c *fiber.Ctx) error {
	if tok := c.Query("token"); tok != "" {
		return a.admit(c, tok)
	}
	return a.Required(c)
}

func (a *Authenticator) admit(c *fiber.Ctx, tok string) error {
	uid, err := ParseToken(a.secret, tok)
	if err != nil {
		return unauthorized(c, err)
	}
	c.Locals(localUserID, uid)
	c.SetUserContext(WithUserID(c.UserContext(), uid))
	return c.Next()
}

func unauthorized(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError(err.Error()))
}

// UserID returns the id admitted by the Authenticator, or "".
func UserID(c *fiber.Ctx) string {
	uid, _ := c.Locals(localUserID).(string)
	return uid
}
