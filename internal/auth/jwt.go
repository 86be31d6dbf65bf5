// Package auth issues and validates the HS256 bearer tokens that identify a
// portal user on the REST and realtime surfaces.
package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/somuraj07/saams/internal/models"
)

// ErrInvalidToken is returned for any token that cannot be trusted.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the token payload: the user in "sub" and their role.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues and validates tokens with one shared secret.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token service. ttl <= 0 means 24h.
func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue генерує JWT для користувача.
func (t *Tokens) Issue(caller models.Caller) (string, error) {
	if caller.ID == "" || !caller.Role.Valid() {
		return "", fmt.Errorf("issue token: bad caller %q/%q", caller.ID, caller.Role)
	}
	now := t.now()
	claims := Claims{
		Role: caller.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Validate parses the token and returns the caller it identifies.
func (t *Tokens) Validate(tokenString string) (models.Caller, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return models.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return models.Caller{}, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}
	return models.Caller{ID: claims.Subject, Role: claims.Role}, nil
}
