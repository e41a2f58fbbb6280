package auth

import (
	"errors"
	"fmt"
	"github.com/RaikyD/shop-orders-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"strings"
	"time"
)

// Claims is the bearer token payload. sub carries the customer id.
type Claims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens and resolves the caller.
type Authenticator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, parser: jwt.NewParser(opts...)}
}

// Identify parses an Authorization header value ("Bearer <token>").
func (a *Authenticator) Identify(header string) (domain.Identity, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return domain.Identity{}, fmt.Errorf("missing bearer token: %w", domain.ErrUnauthorized)
	}

	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return domain.Identity{}, fmt.Errorf("token has no subject: %w", domain.ErrUnauthorized)
	}

	return domain.Identity{ID: claims.Subject, Email: claims.Email, Roles: claims.Roles}, nil
}

// Issue signs a token for id. Used by tests and local tooling.
func (a *Authenticator) Issue(id domain.Identity, ttl time.Duration) (string, error) {
	if id.ID == "" {
		return "", errors.New("identity without id")
	}
	now := time.Now()
	claims := &Claims{
		Email: id.Email,
		Roles: id.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
