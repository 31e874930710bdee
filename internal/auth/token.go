package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "hearth"

// TokenClaims carries the staff identity in a bearer token.
type TokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier issues and verifies HS256 bearer tokens.
type TokenVerifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenVerifier constructs a TokenVerifier.
func NewTokenVerifier(secret string, ttl time.Duration) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for staff.
func (v *TokenVerifier) Issue(staff *Staff) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("auth: token secret not configured")
	}
	now := v.now()
	claims := TokenClaims{
		Role: staff.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   staff.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses raw and returns its claims. Any signing method other than
// HS256 is rejected.
func (v *TokenVerifier) Verify(raw string) (*TokenClaims, error) {
	if len(v.secret) == 0 {
		return nil, ErrInvalidToken
	}
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
