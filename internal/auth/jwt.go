package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"accounting/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the platform role next to the standard subject claim.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 bearer tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl}
}

// Issue creates a token for the actor. Used by operators and tests; end users
// get their tokens from the identity provider sharing the secret.
func (t *Tokens) Issue(actor model.Actor) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Actor verifies a token and resolves it into the principal it names.
// A SYSTEM role resolves to model.SystemActor.
func (t *Tokens) Actor(token string) (model.Actor, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return model.Actor{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return model.Actor{}, ErrInvalidToken
	}

	switch claims.Role {
	case model.RoleSystem:
		return model.SystemActor, nil
	case model.RoleUser, model.RoleAdmin, model.RoleService:
		return model.NewUser(claims.Subject, claims.Role), nil
	case "":
		return model.NewUser(claims.Subject, model.RoleUser), nil
	default:
		return model.Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
}

// FromHeader resolves an "Authorization: Bearer <token>" value.
func (t *Tokens) FromHeader(header string) (model.Actor, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return model.Actor{}, fmt.Errorf("%w: missing bearer token", ErrInvalidToken)
	}
	return t.Actor(strings.TrimSpace(token))
}
